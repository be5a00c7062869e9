package aggregator

import (
	"encoding/json"
	"fmt"
)

// QuoteRequest is a sell-side quote for a fixed sell amount in base units
type QuoteRequest struct {
	SellToken   string
	BuyToken    string
	SellAmount  string
	Taker       string
	SlippageBps int
}

// Quote is the subset of a quote response the router relies on
type Quote struct {
	LiquidityAvailable bool         `json:"liquidityAvailable"`
	BuyAmount          string       `json:"buyAmount" validate:"required,numeric"`
	MinBuyAmount       string       `json:"minBuyAmount" validate:"required,numeric"`
	SellAmount         string       `json:"sellAmount" validate:"required,numeric"`
	Transaction        Transaction  `json:"transaction"`
	Issues             Issues       `json:"issues"`
	Permit2            *Permit2Data `json:"permit2,omitempty"`
	Route              Route        `json:"route"`
}

// Transaction is the settlement-contract call the taker must send
type Transaction struct {
	To    string `json:"to" validate:"required,eth_addr"`
	Data  string `json:"data" validate:"required,hexadecimal"`
	Gas   string `json:"gas" validate:"omitempty,numeric"`
	Value string `json:"value" validate:"omitempty,numeric"`
}

// Issues flags what the taker must fix before executing
type Issues struct {
	Allowance *AllowanceIssue `json:"allowance"`
}

// AllowanceIssue names the spender that needs an ERC-20 approval
type AllowanceIssue struct {
	Actual  string `json:"actual"`
	Spender string `json:"spender"`
}

// Permit2Data carries the EIP-712 permit the taker signs
type Permit2Data struct {
	Type   string          `json:"type"`
	Hash   string          `json:"hash"`
	EIP712 json.RawMessage `json:"eip712"`
}

// Route lists the liquidity sources of the quote
type Route struct {
	Fills []Fill `json:"fills"`
}

type Fill struct {
	Source string `json:"source"`
}

// Source returns the first liquidity source or a generic label
func (q *Quote) Source() string {
	if len(q.Route.Fills) > 0 && q.Route.Fills[0].Source != "" {
		return q.Route.Fills[0].Source
	}
	return "0x"
}

// HasPermit reports whether the quote carries a concrete typed-data permit
func (q *Quote) HasPermit() bool {
	if q.Permit2 == nil || len(q.Permit2.EIP712) == 0 {
		return false
	}
	trimmed := string(q.Permit2.EIP712)
	return trimmed != "null" && trimmed != "{}"
}

// ErrorResponse represents an aggregator API error response
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Error implements the error interface
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("aggregator API error [%d]: %s (%s)", e.StatusCode, e.Message, e.Name)
}

// IsRateLimited returns true if the error is a 429 rate limit error
func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for 5xx responses
func (e *ErrorResponse) IsServerError() bool {
	return e.StatusCode >= 500
}
