package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/settlement_service/internal/domain/entities"
)

// SettlementMutator edits a loaded settlement inside a guarded transition.
// Returning an error aborts the update.
type SettlementMutator func(tx *entities.SettlementTransaction) error

// SettlementRepository persists settlement transactions. Rows are never deleted.
type SettlementRepository interface {
	Create(ctx context.Context, tx *entities.SettlementTransaction) error
	// CreateRetry reads the parent and inserts the child build returns atomically.
	// A parent has at most one retry; a second one is a conflict.
	CreateRetry(ctx context.Context, parentID uuid.UUID, build func(parent *entities.SettlementTransaction) (*entities.SettlementTransaction, error)) (*entities.SettlementTransaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error)
	GetByPayoutReference(ctx context.Context, reference string) (*entities.SettlementTransaction, error)
	ListByStatus(ctx context.Context, status entities.SettlementStatus, limit int) ([]*entities.SettlementTransaction, error)
	// ListProcessable returns rows the batch driver should advance: pending rows
	// created before pendingBefore, and in-progress rows untouched since staleBefore.
	ListProcessable(ctx context.Context, pendingBefore, staleBefore time.Time, limit int) ([]*entities.SettlementTransaction, error)
	// ListPayoutsInitiatedBefore returns rows waiting on a payout confirmation since before cutoff.
	ListPayoutsInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entities.SettlementTransaction, error)
	// Transition applies mutate and moves the row from one status to another only
	// if it is still in from at the version that was read.
	Transition(ctx context.Context, id uuid.UUID, from, to entities.SettlementStatus, mutate SettlementMutator) (*entities.SettlementTransaction, error)
}

// CustodyRepository persists custody address records.
type CustodyRepository interface {
	Create(ctx context.Context, record *entities.CustodyAddress) error
	GetByUserRef(ctx context.Context, userRef string, chainID int64) (*entities.CustodyAddress, error)
	PinNonce(ctx context.Context, userRef string, chainID int64, nonce int64) error
}

// FeeTierRepository loads the ordered fee schedule.
type FeeTierRepository interface {
	List(ctx context.Context) ([]entities.FeeTier, error)
	ReplaceAll(ctx context.Context, tiers []entities.FeeTier) error
}

// SettingsRepository is the key-value settings table.
type SettingsRepository interface {
	GetRate(ctx context.Context) (*entities.RateSetting, error)
	SetRate(ctx context.Context, setting entities.RateSetting) error
}
