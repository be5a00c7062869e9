package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// fiatPlaces is the precision fiat amounts are rounded to
const fiatPlaces = 2

// Engine converts a settled crypto amount into a fiat payout
type Engine struct {
	rates  *RateCache
	fees   *FeeSchedule
	logger *logger.Logger
}

func NewEngine(rates *RateCache, fees *FeeSchedule, log *logger.Logger) *Engine {
	return &Engine{rates: rates, fees: fees, logger: log}
}

// Rates exposes the rate cache for operator updates
func (e *Engine) Rates() *RateCache { return e.rates }

// Fees exposes the fee schedule for operator updates
func (e *Engine) Fees() *FeeSchedule { return e.fees }

// Convert prices amount at the cached rate and applies the fee tier chosen
// by the gross fiat amount.
func (e *Engine) Convert(ctx context.Context, amount decimal.Decimal) (entities.Quote, error) {
	if !amount.IsPositive() {
		return entities.Quote{}, domainerrors.ValidationError("amount", "must be greater than zero")
	}

	rate, err := e.rates.Get(ctx)
	if err != nil {
		return entities.Quote{}, err
	}

	gross := amount.Mul(rate.Rate).Round(fiatPlaces)
	fee, net, tierID, err := e.fees.Apply(gross)
	if err != nil {
		return entities.Quote{}, err
	}

	return entities.Quote{
		Rate:      rate.Rate,
		FiatGross: gross,
		Fee:       fee,
		FiatNet:   net,
		TierID:    tierID,
	}, nil
}

// Refresh reloads the rate and the fee schedule
func (e *Engine) Refresh(ctx context.Context) error {
	if _, err := e.rates.Refresh(ctx); err != nil {
		return err
	}
	return e.fees.Refresh(ctx)
}
