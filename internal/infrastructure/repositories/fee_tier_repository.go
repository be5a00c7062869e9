package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/settlement_service/internal/domain/entities"
)

// FeeTierRepository stores the ordered fee schedule
type FeeTierRepository struct {
	db *sqlx.DB
}

func NewFeeTierRepository(db *sqlx.DB) *FeeTierRepository {
	return &FeeTierRepository{db: db}
}

// List returns tiers in evaluation order
func (r *FeeTierRepository) List(ctx context.Context) ([]entities.FeeTier, error) {
	var tiers []entities.FeeTier
	query := `SELECT id, position, min_amount, max_amount, fee_type, fee_value FROM fee_tiers ORDER BY position ASC, min_amount ASC`
	if err := r.db.SelectContext(ctx, &tiers, query); err != nil {
		return nil, fmt.Errorf("failed to list fee tiers: %w", err)
	}
	return tiers, nil
}

// ReplaceAll swaps the whole schedule atomically
func (r *FeeTierRepository) ReplaceAll(ctx context.Context, tiers []entities.FeeTier) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fee_tiers`); err != nil {
		return fmt.Errorf("failed to clear fee tiers: %w", err)
	}

	insert := tx.Rebind(`INSERT INTO fee_tiers (id, position, min_amount, max_amount, fee_type, fee_value) VALUES (?, ?, ?, ?, ?, ?)`)
	for i, tier := range tiers {
		if _, err := tx.ExecContext(ctx, insert, tier.ID, i+1, tier.MinAmount, tier.MaxAmount, tier.FeeType, tier.FeeValue); err != nil {
			return fmt.Errorf("failed to insert fee tier %s: %w", tier.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fee tiers: %w", err)
	}
	return nil
}
