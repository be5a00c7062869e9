package fiatrail

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the HMAC-SHA512 of a webhook body
const SignatureHeader = "X-Rail-Signature"

// Transfer statuses reported by the rail
const (
	TransferStatusSuccess  = "success"
	TransferStatusPending  = "pending"
	TransferStatusFailed   = "failed"
	TransferStatusReversed = "reversed"
)

// Webhook event types
const (
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ResolvedAccount is the verified holder of a bank account
type ResolvedAccount struct {
	AccountNumber string `json:"account_number" validate:"required"`
	AccountName   string `json:"account_name" validate:"required"`
	BankID        int64  `json:"bank_id"`
}

type balanceEntry struct {
	Currency string `json:"currency" validate:"required"`
	Balance  int64  `json:"balance"`
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipient struct {
	RecipientCode string `json:"recipient_code" validate:"required"`
}

// TransferRequest initiates a payout; Amount is in major units
type TransferRequest struct {
	Amount        decimal.Decimal
	RecipientCode string
	Reference     string
	Reason        string
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
	Currency  string `json:"currency"`
}

// Transfer is the rail's view of a payout
type Transfer struct {
	ID           int64  `json:"id"`
	Reference    string `json:"reference" validate:"required"`
	Status       string `json:"status" validate:"required"`
	Amount       int64  `json:"amount"`
	TransferCode string `json:"transfer_code"`
	Reason       string `json:"reason"`
	Failures     string `json:"failures"`
}

// IsFinal reports whether the rail will not change the status again
func (t *Transfer) IsFinal() bool {
	switch t.Status {
	case TransferStatusSuccess, TransferStatusFailed, TransferStatusReversed:
		return true
	}
	return false
}

// WebhookEvent is a parsed webhook delivery
type WebhookEvent struct {
	Event string   `json:"event" validate:"required"`
	Data  Transfer `json:"data"`
}

// ErrorResponse represents a fiat rail API error response
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

// Error implements the error interface
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("fiat rail API error [%d]: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404 not found error
func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsRetryable returns true for throttling and server errors
func (e *ErrorResponse) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ToMinorUnits converts a major-unit amount to the rail's minor units, rounding down
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Floor().IntPart()
}

// FromMinorUnits converts minor units to a major-unit amount
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
