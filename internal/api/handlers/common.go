package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/pkg/security"
)

// parseID reads the :id path parameter, answering 400 when it is not a UUID
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		SendBadRequest(c, ErrCodeInvalidID, "Invalid settlement ID")
		return uuid.Nil, false
	}
	return id, true
}

// getOperator returns the authenticated operator's subject
func getOperator(c *gin.Context) string {
	if op := c.GetString("operator"); op != "" {
		return op
	}
	return "unknown"
}

// SettlementResponse is the operator view of a settlement
type SettlementResponse struct {
	ID                uuid.UUID                 `json:"id"`
	UserRef           string                    `json:"user_ref"`
	RetryOf           *uuid.UUID                `json:"retry_of,omitempty"`
	Status            entities.SettlementStatus `json:"status"`
	CustodyAddress    string                    `json:"custody_address"`
	TokenSymbol       string                    `json:"token_symbol"`
	BankAccount       string                    `json:"bank_account"`
	BankCode          string                    `json:"bank_code"`
	AccountName       string                    `json:"account_name"`
	SweptAmount       *decimal.Decimal          `json:"swept_amount,omitempty"`
	SweepMode         *entities.SweepMode       `json:"sweep_mode,omitempty"`
	SweepTxHash       *string                   `json:"sweep_tx_hash,omitempty"`
	SwapTxHash        *string                   `json:"swap_tx_hash,omitempty"`
	ConvertedAmount   *decimal.Decimal          `json:"converted_amount,omitempty"`
	Rate              *decimal.Decimal          `json:"rate,omitempty"`
	FiatGross         *decimal.Decimal          `json:"fiat_gross,omitempty"`
	Fee               *decimal.Decimal          `json:"fee,omitempty"`
	FiatAmount        *decimal.Decimal          `json:"fiat_amount,omitempty"`
	PayoutReference   *string                   `json:"payout_reference,omitempty"`
	ErrorCode         *string                   `json:"error_code,omitempty"`
	ErrorMessage      *string                   `json:"error_message,omitempty"`
	Retryable         bool                      `json:"retryable"`
	Attempts          int                       `json:"attempts"`
	CreatedAt         time.Time                 `json:"created_at"`
	PayoutInitiatedAt *time.Time                `json:"payout_initiated_at,omitempty"`
	PayoutConfirmedAt *time.Time                `json:"payout_confirmed_at,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

func toSettlementResponse(tx *entities.SettlementTransaction) SettlementResponse {
	return SettlementResponse{
		ID:                tx.ID,
		UserRef:           tx.UserRef,
		RetryOf:           tx.RetryOf,
		Status:            tx.Status,
		CustodyAddress:    tx.CustodyAddress,
		TokenSymbol:       tx.TokenSymbol,
		BankAccount:       security.MaskAccountNumber(tx.BankAccountNumber),
		BankCode:          tx.BankCode,
		AccountName:       tx.AccountName,
		SweptAmount:       tx.SweptAmount,
		SweepMode:         tx.SweepMode,
		SweepTxHash:       tx.SweepTxHash,
		SwapTxHash:        tx.SwapTxHash,
		ConvertedAmount:   tx.ConvertedAmount,
		Rate:              tx.Rate,
		FiatGross:         tx.FiatGross,
		Fee:               tx.Fee,
		FiatAmount:        tx.FiatAmount,
		PayoutReference:   tx.PayoutReference,
		ErrorCode:         tx.ErrorCode,
		ErrorMessage:      tx.ErrorMessage,
		Retryable:         tx.Retryable,
		Attempts:          tx.Attempts,
		CreatedAt:         tx.CreatedAt,
		PayoutInitiatedAt: tx.PayoutInitiatedAt,
		PayoutConfirmedAt: tx.PayoutConfirmedAt,
		UpdatedAt:         tx.UpdatedAt,
	}
}
