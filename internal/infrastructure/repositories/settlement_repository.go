package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/repositories"
	"github.com/rail-service/settlement_service/internal/infrastructure/database"
)

const settlementColumns = `
	id, user_ref, retry_of, custody_address, strategy, derivation_path, account_nonce, chain_id,
	token_symbol, token_address, token_decimals, bank_account_number, bank_code, account_name,
	swept_amount, sweep_mode, sweep_tx_hash, swap_tx_hash, swap_provider, converted_amount,
	rate, fiat_gross, fee, fiat_amount, fee_tier_id, payout_reference,
	status, error_code, error_message, retryable, attempts, version,
	created_at, token_detected_at, swept_at, payout_initiated_at, payout_confirmed_at, updated_at`

// SettlementRepository implements repositories.SettlementRepository on sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type SettlementRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ repositories.SettlementRepository = (*SettlementRepository)(nil)

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *sqlx.DB) *SettlementRepository {
	return &SettlementRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new settlement transaction
func (r *SettlementRepository) Create(ctx context.Context, tx *entities.SettlementTransaction) error {
	return r.insert(ctx, r.db, tx)
}

// CreateRetry reads the parent and inserts the child that build returns in
// one transaction. The unique index on retry_of allows one child per parent.
func (r *SettlementRepository) CreateRetry(
	ctx context.Context,
	parentID uuid.UUID,
	build func(parent *entities.SettlementTransaction) (*entities.SettlementTransaction, error),
) (*entities.SettlementTransaction, error) {
	var child *entities.SettlementTransaction
	err := database.WithTransaction(ctx, r.db, func(dbTx *sqlx.Tx) error {
		var parent entities.SettlementTransaction
		query := dbTx.Rebind(`SELECT ` + settlementColumns + ` FROM settlement_transactions WHERE id = ?`)
		if err := dbTx.GetContext(ctx, &parent, query, parentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domainerrors.NotFoundError("SETTLEMENT")
			}
			return fmt.Errorf("failed to get settlement: %w", err)
		}

		built, err := build(&parent)
		if err != nil {
			return err
		}
		built.RetryOf = &parent.ID
		if err := r.insert(ctx, dbTx, built); err != nil {
			return err
		}
		child = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (r *SettlementRepository) insert(ctx context.Context, db sqlx.ExtContext, tx *entities.SettlementTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := r.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = entities.SettlementStatusPending
	}

	query := db.Rebind(`
		INSERT INTO settlement_transactions (` + settlementColumns + `
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?
		)`)

	_, err := db.ExecContext(ctx, query,
		tx.ID, tx.UserRef, tx.RetryOf, tx.CustodyAddress, tx.Strategy, tx.DerivationPath, tx.AccountNonce, tx.ChainID,
		tx.TokenSymbol, tx.TokenAddress, tx.TokenDecimals, tx.BankAccountNumber, tx.BankCode, tx.AccountName,
		tx.SweptAmount, tx.SweepMode, tx.SweepTxHash, tx.SwapTxHash, tx.SwapProvider, tx.ConvertedAmount,
		tx.Rate, tx.FiatGross, tx.Fee, tx.FiatAmount, tx.FeeTierID, tx.PayoutReference,
		tx.Status, tx.ErrorCode, tx.ErrorMessage, tx.Retryable, tx.Attempts, tx.Version,
		tx.CreatedAt, tx.TokenDetectedAt, tx.SweptAt, tx.PayoutInitiatedAt, tx.PayoutConfirmedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ConflictError("settlement", err.Error())
		}
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	return nil
}

// GetByID retrieves a settlement by ID
func (r *SettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByPayoutReference retrieves a settlement by its fiat transfer reference
func (r *SettlementRepository) GetByPayoutReference(ctx context.Context, reference string) (*entities.SettlementTransaction, error) {
	return r.getOne(ctx, "payout_reference = ?", reference)
}

func (r *SettlementRepository) getOne(ctx context.Context, where string, arg interface{}) (*entities.SettlementTransaction, error) {
	query := r.db.Rebind(`SELECT ` + settlementColumns + ` FROM settlement_transactions WHERE ` + where)

	var tx entities.SettlementTransaction
	if err := r.db.GetContext(ctx, &tx, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("SETTLEMENT")
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &tx, nil
}

// ListByStatus lists settlements in a status, oldest first
func (r *SettlementRepository) ListByStatus(ctx context.Context, status entities.SettlementStatus, limit int) ([]*entities.SettlementTransaction, error) {
	query := r.db.Rebind(`SELECT ` + settlementColumns + `
		FROM settlement_transactions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`)

	var txs []*entities.SettlementTransaction
	if err := r.db.SelectContext(ctx, &txs, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return txs, nil
}

// ListProcessable lists settlements the batch driver should advance
func (r *SettlementRepository) ListProcessable(ctx context.Context, pendingBefore, staleBefore time.Time, limit int) ([]*entities.SettlementTransaction, error) {
	inProgress := make([]string, 0, len(entities.ProcessableStatuses))
	args := []interface{}{entities.SettlementStatusPending, pendingBefore}
	for _, s := range entities.ProcessableStatuses {
		if s == entities.SettlementStatusPending {
			continue
		}
		inProgress = append(inProgress, "?")
		args = append(args, s)
	}
	args = append(args, staleBefore, limit)

	query := r.db.Rebind(`SELECT ` + settlementColumns + `
		FROM settlement_transactions
		WHERE (status = ? AND created_at <= ?)
		   OR (status IN (` + strings.Join(inProgress, ", ") + `) AND updated_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?`)

	var txs []*entities.SettlementTransaction
	if err := r.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list processable settlements: %w", err)
	}
	return txs, nil
}

// ListPayoutsInitiatedBefore lists payouts still unconfirmed since before cutoff
func (r *SettlementRepository) ListPayoutsInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entities.SettlementTransaction, error) {
	query := r.db.Rebind(`SELECT ` + settlementColumns + `
		FROM settlement_transactions
		WHERE status = ? AND payout_initiated_at <= ?
		ORDER BY payout_initiated_at ASC
		LIMIT ?`)

	var txs []*entities.SettlementTransaction
	if err := r.db.SelectContext(ctx, &txs, query, entities.SettlementStatusPayoutInitiated, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list initiated payouts: %w", err)
	}
	return txs, nil
}

// Transition performs an optimistic check-and-set: the row is updated only if it
// still has status from and the version that was read. Zero affected rows means
// another writer got there first and ErrStaleState is returned.
func (r *SettlementRepository) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to entities.SettlementStatus,
	mutate repositories.SettlementMutator,
) (*entities.SettlementTransaction, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return current, domainerrors.ErrTerminalState
	}
	if current.Status != from {
		return current, fmt.Errorf("%w: expected %s, found %s", domainerrors.ErrStaleState, from, current.Status)
	}
	if err := from.ValidateTransition(to); err != nil {
		return current, err
	}

	next := *current
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return current, err
		}
	}
	next.Status = to
	next.UpdatedAt = r.now()
	next.Version = current.Version + 1

	query := r.db.Rebind(`
		UPDATE settlement_transactions SET
			swept_amount = ?, sweep_mode = ?, sweep_tx_hash = ?, swap_tx_hash = ?, swap_provider = ?,
			converted_amount = ?, rate = ?, fiat_gross = ?, fee = ?, fiat_amount = ?, fee_tier_id = ?,
			payout_reference = ?, status = ?, error_code = ?, error_message = ?, retryable = ?,
			attempts = ?, version = ?, token_detected_at = ?, swept_at = ?, payout_initiated_at = ?,
			payout_confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?`)

	res, err := r.db.ExecContext(ctx, query,
		next.SweptAmount, next.SweepMode, next.SweepTxHash, next.SwapTxHash, next.SwapProvider,
		next.ConvertedAmount, next.Rate, next.FiatGross, next.Fee, next.FiatAmount, next.FeeTierID,
		next.PayoutReference, next.Status, next.ErrorCode, next.ErrorMessage, next.Retryable,
		next.Attempts, next.Version, next.TokenDetectedAt, next.SweptAt, next.PayoutInitiatedAt,
		next.PayoutConfirmedAt, next.UpdatedAt,
		id, from, current.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return current, domainerrors.ConflictError("settlement", err.Error())
		}
		return current, fmt.Errorf("failed to transition settlement: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return current, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return current, domainerrors.ErrStaleState
	}
	return &next, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
