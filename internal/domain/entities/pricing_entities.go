package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeType is how a tier's fee value is applied
type FeeType string

const (
	FeeTypeFlat       FeeType = "flat"
	FeeTypePercentage FeeType = "percentage"
)

// FeeTier covers fiat amounts in [MinAmount, MaxAmount). A nil MaxAmount is unbounded.
type FeeTier struct {
	ID        string           `json:"id" db:"id" validate:"required"`
	MinAmount decimal.Decimal  `json:"min_amount" db:"min_amount"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty" db:"max_amount"`
	FeeType   FeeType          `json:"fee_type" db:"fee_type" validate:"required,oneof=flat percentage"`
	FeeValue  decimal.Decimal  `json:"fee_value" db:"fee_value"`
	Position  int              `json:"position" db:"position"`
}

// Contains reports whether amount falls inside the tier's half-open range
func (f FeeTier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(f.MinAmount) {
		return false
	}
	return f.MaxAmount == nil || amount.LessThan(*f.MaxAmount)
}

// FeeFor computes the tier's fee on a gross fiat amount
func (f FeeTier) FeeFor(gross decimal.Decimal) decimal.Decimal {
	if f.FeeType == FeeTypePercentage {
		return gross.Mul(f.FeeValue).Div(decimal.NewFromInt(100)).Round(2)
	}
	return f.FeeValue
}

// RateSetting is the operator-managed crypto→fiat rate
type RateSetting struct {
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
}

// Quote is the result of pricing a crypto amount
type Quote struct {
	Rate      decimal.Decimal `json:"rate"`
	FiatGross decimal.Decimal `json:"fiat_gross"`
	Fee       decimal.Decimal `json:"fee"`
	FiatNet   decimal.Decimal `json:"fiat_net"`
	TierID    string          `json:"tier_id"`
}
