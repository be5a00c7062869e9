package entities

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrFieldAlreadySet = errors.New("write-once field already set")
)

// PayoutReferencePrefix prefixes every fiat transfer reference the service issues
const PayoutReferencePrefix = "stl_"

// SweepMode records how custody funds were moved to the pool
type SweepMode string

const (
	SweepModeSponsored SweepMode = "sponsored"
	SweepModeFunded    SweepMode = "funded"
)

// SettlementTransaction is the aggregate root of one token→fiat settlement
type SettlementTransaction struct {
	ID      uuid.UUID  `json:"id" db:"id"`
	UserRef string     `json:"user_ref" db:"user_ref"`
	RetryOf *uuid.UUID `json:"retry_of,omitempty" db:"retry_of"`

	CustodyAddress string             `json:"custody_address" db:"custody_address"`
	Strategy       DerivationStrategy `json:"strategy" db:"strategy"`
	DerivationPath string             `json:"derivation_path,omitempty" db:"derivation_path"`
	AccountNonce   *int64             `json:"account_nonce,omitempty" db:"account_nonce"`
	ChainID        int64              `json:"chain_id" db:"chain_id"`

	TokenSymbol   string `json:"token_symbol" db:"token_symbol"`
	TokenAddress  string `json:"token_address" db:"token_address"`
	TokenDecimals int32  `json:"token_decimals" db:"token_decimals"`

	BankAccountNumber string `json:"bank_account_number" db:"bank_account_number"`
	BankCode          string `json:"bank_code" db:"bank_code"`
	AccountName       string `json:"account_name" db:"account_name"`

	SweptAmount     *decimal.Decimal `json:"swept_amount,omitempty" db:"swept_amount"`
	SweepMode       *SweepMode       `json:"sweep_mode,omitempty" db:"sweep_mode"`
	SweepTxHash     *string          `json:"sweep_tx_hash,omitempty" db:"sweep_tx_hash"`
	SwapTxHash      *string          `json:"swap_tx_hash,omitempty" db:"swap_tx_hash"`
	SwapProvider    *string          `json:"swap_provider,omitempty" db:"swap_provider"`
	ConvertedAmount *decimal.Decimal `json:"converted_amount,omitempty" db:"converted_amount"`

	Rate       *decimal.Decimal `json:"rate,omitempty" db:"rate"`
	FiatGross  *decimal.Decimal `json:"fiat_gross,omitempty" db:"fiat_gross"`
	Fee        *decimal.Decimal `json:"fee,omitempty" db:"fee"`
	FiatAmount *decimal.Decimal `json:"fiat_amount,omitempty" db:"fiat_amount"`
	FeeTierID  *string          `json:"fee_tier_id,omitempty" db:"fee_tier_id"`

	PayoutReference *string `json:"payout_reference,omitempty" db:"payout_reference"`

	Status       SettlementStatus `json:"status" db:"status"`
	ErrorCode    *string          `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
	Retryable    bool             `json:"retryable" db:"retryable"`
	Attempts     int              `json:"attempts" db:"attempts"`
	Version      int64            `json:"-" db:"version"`

	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	TokenDetectedAt   *time.Time `json:"token_detected_at,omitempty" db:"token_detected_at"`
	SweptAt           *time.Time `json:"swept_at,omitempty" db:"swept_at"`
	PayoutInitiatedAt *time.Time `json:"payout_initiated_at,omitempty" db:"payout_initiated_at"`
	PayoutConfirmedAt *time.Time `json:"payout_confirmed_at,omitempty" db:"payout_confirmed_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// PayoutReferenceFor derives the deterministic transfer reference of a settlement.
// Re-deriving it after a crash lets the rail be queried before re-initiating.
func PayoutReferenceFor(id uuid.UUID) string {
	return PayoutReferencePrefix + strings.ReplaceAll(id.String(), "-", "")
}

// SetSweep records the sweep proof. Amount and hash are write-once.
func (t *SettlementTransaction) SetSweep(amount decimal.Decimal, txHash string, mode SweepMode) error {
	if t.SweptAmount != nil && !t.SweptAmount.Equal(amount) {
		return fmt.Errorf("swept_amount: %w", ErrFieldAlreadySet)
	}
	if t.SweepTxHash != nil && *t.SweepTxHash != txHash {
		return fmt.Errorf("sweep_tx_hash: %w", ErrFieldAlreadySet)
	}
	t.SweptAmount = &amount
	t.SweepTxHash = &txHash
	t.SweepMode = &mode
	return nil
}

// SetSwap records the conversion transaction.
func (t *SettlementTransaction) SetSwap(txHash, provider string) error {
	if t.SwapTxHash != nil && *t.SwapTxHash != txHash {
		return fmt.Errorf("swap_tx_hash: %w", ErrFieldAlreadySet)
	}
	t.SwapTxHash = &txHash
	t.SwapProvider = &provider
	return nil
}

// SetConvertedAmount records the stable amount received by the pool after a swap.
func (t *SettlementTransaction) SetConvertedAmount(amount decimal.Decimal) error {
	if t.ConvertedAmount != nil && !t.ConvertedAmount.Equal(amount) {
		return fmt.Errorf("converted_amount: %w", ErrFieldAlreadySet)
	}
	t.ConvertedAmount = &amount
	return nil
}

// SetQuote snapshots the rate and fee computation. Fiat amount is write-once.
func (t *SettlementTransaction) SetQuote(q Quote) error {
	if t.FiatAmount != nil && !t.FiatAmount.Equal(q.FiatNet) {
		return fmt.Errorf("fiat_amount: %w", ErrFieldAlreadySet)
	}
	rate, gross, fee, net, tier := q.Rate, q.FiatGross, q.Fee, q.FiatNet, q.TierID
	t.Rate = &rate
	t.FiatGross = &gross
	t.Fee = &fee
	t.FiatAmount = &net
	t.FeeTierID = &tier
	return nil
}

// SetPayoutReference sets the transfer reference once.
func (t *SettlementTransaction) SetPayoutReference(reference string) error {
	if t.PayoutReference != nil && *t.PayoutReference != reference {
		return fmt.Errorf("payout_reference: %w", ErrFieldAlreadySet)
	}
	t.PayoutReference = &reference
	return nil
}

// SetError records a failure reason on the row.
func (t *SettlementTransaction) SetError(code, message string, retryable bool) {
	t.ErrorCode = &code
	t.ErrorMessage = &message
	t.Retryable = retryable
}

// ClearError drops a previously recorded transient error.
func (t *SettlementTransaction) ClearError() {
	t.ErrorCode = nil
	t.ErrorMessage = nil
	t.Retryable = false
}

// SettledCryptoAmount is the stable amount priced into fiat: the swap output
// when a conversion happened, otherwise the swept amount.
func (t *SettlementTransaction) SettledCryptoAmount() (decimal.Decimal, bool) {
	if t.ConvertedAmount != nil {
		return *t.ConvertedAmount, true
	}
	if t.SweptAmount != nil {
		return *t.SweptAmount, true
	}
	return decimal.Zero, false
}

// Token describes an ERC-20 (or the native asset) accepted for settlement
type Token struct {
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Address  string `json:"address" mapstructure:"address"`
	Decimals int32  `json:"decimals" mapstructure:"decimals"`
}

// NativeTokenAddress is the sentinel used for the chain's native asset
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// IsNative reports whether the token is the chain's native asset
func (t Token) IsNative() bool {
	return strings.EqualFold(t.Address, NativeTokenAddress)
}

// ToDecimal converts base units into token units.
func ToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ToBaseUnits converts token units into base units, truncating any excess precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// CreateIntentRequest registers a new settlement for a user and bank account
type CreateIntentRequest struct {
	UserRef           string `json:"user_ref" validate:"required,max=128"`
	TokenSymbol       string `json:"token_symbol" validate:"required,alphanum,max=16"`
	BankAccountNumber string `json:"bank_account_number" validate:"required,numeric,min=6,max=20"`
	BankCode          string `json:"bank_code" validate:"required,max=16"`
}

// SettlementEvent is published on every status change
type SettlementEvent struct {
	SettlementID uuid.UUID        `json:"settlement_id"`
	UserRef      string           `json:"user_ref"`
	From         SettlementStatus `json:"from"`
	To           SettlementStatus `json:"to"`
	ErrorCode    string           `json:"error_code,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}
