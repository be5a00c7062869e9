package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

const rateSettingKey = "rate"

// SettingsRepository is the key-value settings table
type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

type settingRow struct {
	Value     string    `db:"value"`
	UpdatedBy string    `db:"updated_by"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GetRate loads the authoritative crypto→fiat rate
func (r *SettingsRepository) GetRate(ctx context.Context) (*entities.RateSetting, error) {
	var row settingRow
	query := r.db.Rebind(`SELECT value, updated_by, updated_at FROM settings WHERE key = ?`)
	if err := r.db.GetContext(ctx, &row, query, rateSettingKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("RATE")
		}
		return nil, fmt.Errorf("failed to get rate: %w", err)
	}

	rate, err := decimal.NewFromString(row.Value)
	if err != nil {
		return nil, fmt.Errorf("stored rate %q is not a decimal: %w", row.Value, err)
	}
	return &entities.RateSetting{Rate: rate, UpdatedAt: row.UpdatedAt, UpdatedBy: row.UpdatedBy}, nil
}

// SetRate upserts the rate
func (r *SettingsRepository) SetRate(ctx context.Context, setting entities.RateSetting) error {
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`
		INSERT INTO settings (key, value, updated_by, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_by = excluded.updated_by, updated_at = excluded.updated_at`)

	if _, err := r.db.ExecContext(ctx, query, rateSettingKey, setting.Rate.String(), setting.UpdatedBy, setting.UpdatedAt); err != nil {
		return fmt.Errorf("failed to set rate: %w", err)
	}
	return nil
}
