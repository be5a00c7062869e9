package pricing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// TierStore is the durable home of the fee schedule
type TierStore interface {
	List(ctx context.Context) ([]entities.FeeTier, error)
	ReplaceAll(ctx context.Context, tiers []entities.FeeTier) error
}

// FeeSchedule holds the ordered tiers in memory
type FeeSchedule struct {
	mu     sync.RWMutex
	tiers  []entities.FeeTier
	store  TierStore
	logger *logger.Logger
}

func NewFeeSchedule(store TierStore, log *logger.Logger) *FeeSchedule {
	return &FeeSchedule{store: store, logger: log}
}

// Tiers returns a copy of the loaded schedule
func (s *FeeSchedule) Tiers() []entities.FeeTier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entities.FeeTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Refresh reloads tiers from storage. A schedule with gaps is still
// installed; the gap is logged and falls back to the last tier.
func (s *FeeSchedule) Refresh(ctx context.Context) error {
	tiers, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if len(tiers) == 0 {
		return domainerrors.ValidationError("fee_tiers", "no fee tiers configured")
	}
	if err := ValidateTiers(tiers); err != nil {
		s.logger.Warn("Fee schedule does not partition the amount range", "error", err)
	}
	s.install(tiers)
	return nil
}

// Replace validates and stores a new schedule from an operator
func (s *FeeSchedule) Replace(ctx context.Context, tiers []entities.FeeTier) error {
	if err := ValidateTiers(tiers); err != nil {
		return domainerrors.ValidationError("fee_tiers", err.Error())
	}
	if err := s.store.ReplaceAll(ctx, tiers); err != nil {
		return err
	}
	s.install(tiers)
	return nil
}

// Apply picks the first tier containing gross and returns fee, net and tier ID.
// Net never goes below zero.
func (s *FeeSchedule) Apply(gross decimal.Decimal) (decimal.Decimal, decimal.Decimal, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tiers) == 0 {
		return decimal.Zero, decimal.Zero, "", domainerrors.ValidationError("fee_tiers", "no fee tiers loaded")
	}

	tier := s.tiers[len(s.tiers)-1]
	matched := false
	for _, t := range s.tiers {
		if t.Contains(gross) {
			tier = t
			matched = true
			break
		}
	}
	if !matched {
		s.logger.Warn("No fee tier covers amount, charging last tier",
			"fiat_gross", gross.String(),
			"tier_id", tier.ID)
	}

	fee := tier.FeeFor(gross)
	net := gross.Sub(fee)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return fee, net, tier.ID, nil
}

func (s *FeeSchedule) install(tiers []entities.FeeTier) {
	ordered := make([]entities.FeeTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinAmount.LessThan(ordered[j].MinAmount)
	})

	s.mu.Lock()
	s.tiers = ordered
	s.mu.Unlock()
}

// ValidateTiers checks that tiers partition [0, ∞) into ordered half-open
// ranges with sane fee values.
func ValidateTiers(tiers []entities.FeeTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}

	ordered := make([]entities.FeeTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinAmount.LessThan(ordered[j].MinAmount)
	})

	hundred := decimal.NewFromInt(100)
	expectedMin := decimal.Zero
	for i, tier := range ordered {
		if tier.ID == "" {
			return fmt.Errorf("tier %d has no id", i)
		}
		if !tier.MinAmount.Equal(expectedMin) {
			if tier.MinAmount.LessThan(expectedMin) {
				return fmt.Errorf("tier %s overlaps the previous tier at %s", tier.ID, tier.MinAmount)
			}
			return fmt.Errorf("gap between %s and %s before tier %s", expectedMin, tier.MinAmount, tier.ID)
		}
		if tier.FeeValue.IsNegative() {
			return fmt.Errorf("tier %s has a negative fee", tier.ID)
		}
		switch tier.FeeType {
		case entities.FeeTypeFlat:
		case entities.FeeTypePercentage:
			if tier.FeeValue.GreaterThan(hundred) {
				return fmt.Errorf("tier %s charges more than 100%%", tier.ID)
			}
		default:
			return fmt.Errorf("tier %s has unknown fee type %q", tier.ID, tier.FeeType)
		}

		last := i == len(ordered)-1
		if tier.MaxAmount == nil {
			if !last {
				return fmt.Errorf("tier %s is unbounded but is not the last tier", tier.ID)
			}
			continue
		}
		if !tier.MaxAmount.GreaterThan(tier.MinAmount) {
			return fmt.Errorf("tier %s has an empty range", tier.ID)
		}
		if last {
			return fmt.Errorf("last tier %s must be unbounded", tier.ID)
		}
		expectedMin = *tier.MaxAmount
	}
	return nil
}
