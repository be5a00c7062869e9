package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

// CustodyRepository stores custody address records
type CustodyRepository struct {
	db *sqlx.DB
}

func NewCustodyRepository(db *sqlx.DB) *CustodyRepository {
	return &CustodyRepository{db: db}
}

// Create inserts a custody record. A record for the same user and chain is a conflict.
func (r *CustodyRepository) Create(ctx context.Context, record *entities.CustodyAddress) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO custody_addresses (
			user_ref, chain_id, address, strategy, derivation_path, derivation_index,
			owner_address, encrypted_owner_key, account_nonce, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		record.UserRef, record.ChainID, record.Address, record.Strategy, record.DerivationPath, record.DerivationIndex,
		record.OwnerAddress, record.EncryptedOwnerKey, record.AccountNonce, record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ConflictError("custody address", "already assigned")
		}
		return fmt.Errorf("failed to create custody address: %w", err)
	}
	return nil
}

// GetByUserRef loads the custody record of a user on a chain
func (r *CustodyRepository) GetByUserRef(ctx context.Context, userRef string, chainID int64) (*entities.CustodyAddress, error) {
	query := r.db.Rebind(`
		SELECT user_ref, chain_id, address, strategy, derivation_path, derivation_index,
		       owner_address, encrypted_owner_key, account_nonce, created_at
		FROM custody_addresses
		WHERE user_ref = ? AND chain_id = ?`)

	var record entities.CustodyAddress
	if err := r.db.GetContext(ctx, &record, query, userRef, chainID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("CUSTODY_ADDRESS")
		}
		return nil, fmt.Errorf("failed to get custody address: %w", err)
	}
	return &record, nil
}

// PinNonce records the resolved smart-account nonce of a legacy record. An
// already pinned nonce is never overwritten.
func (r *CustodyRepository) PinNonce(ctx context.Context, userRef string, chainID int64, nonce int64) error {
	query := r.db.Rebind(`
		UPDATE custody_addresses SET account_nonce = ?
		WHERE user_ref = ? AND chain_id = ? AND account_nonce IS NULL`)

	if _, err := r.db.ExecContext(ctx, query, nonce, userRef, chainID); err != nil {
		return fmt.Errorf("failed to pin account nonce: %w", err)
	}
	return nil
}
