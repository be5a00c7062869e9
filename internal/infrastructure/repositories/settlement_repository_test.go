package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

func newSettlement(userRef string) *entities.SettlementTransaction {
	return &entities.SettlementTransaction{
		UserRef:           userRef,
		CustodyAddress:    "0x00000000000000000000000000000000000000a1",
		Strategy:          entities.DerivationStrategyHD,
		DerivationPath:    "m/44'/60'/0'/0/7",
		ChainID:           8453,
		TokenSymbol:       "USDC",
		TokenAddress:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenDecimals:     6,
		BankAccountNumber: "0123456789",
		BankCode:          "058",
		AccountName:       "ADA OBI",
	}
}

func TestSettlementRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	tx := newSettlement("user-1")
	require.NoError(t, repo.Create(ctx, tx))
	assert.NotEqual(t, uuid.Nil, tx.ID)

	got, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SettlementStatusPending, got.Status)
	assert.Equal(t, "user-1", got.UserRef)
	assert.Equal(t, int32(6), got.TokenDecimals)
	assert.Nil(t, got.SweptAmount)
	assert.Nil(t, got.RetryOf)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestSettlementRepository_Transition(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	tx := newSettlement("user-2")
	require.NoError(t, repo.Create(ctx, tx))

	t.Run("applies mutation and bumps version", func(t *testing.T) {
		now := time.Now().UTC()
		next, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusPending, entities.SettlementStatusTokenReceived,
			func(s *entities.SettlementTransaction) error {
				s.TokenDetectedAt = &now
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, entities.SettlementStatusTokenReceived, next.Status)
		assert.Equal(t, int64(1), next.Version)

		stored, err := repo.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SettlementStatusTokenReceived, stored.Status)
		require.NotNil(t, stored.TokenDetectedAt)
	})

	t.Run("wrong from status is stale", func(t *testing.T) {
		_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusPending, entities.SettlementStatusTokenReceived, nil)
		assert.ErrorIs(t, err, domainerrors.ErrStaleState)
	})

	t.Run("invalid edge is rejected", func(t *testing.T) {
		_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusTokenReceived, entities.SettlementStatusCompleted, nil)
		assert.Error(t, err)
	})

	t.Run("mutator error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusTokenReceived, entities.SettlementStatusSweeping,
			func(*entities.SettlementTransaction) error { return boom })
		assert.ErrorIs(t, err, boom)

		stored, _ := repo.GetByID(ctx, tx.ID)
		assert.Equal(t, entities.SettlementStatusTokenReceived, stored.Status)
	})

	t.Run("decimals round trip", func(t *testing.T) {
		_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusTokenReceived, entities.SettlementStatusSweeping,
			func(s *entities.SettlementTransaction) error {
				return s.SetSweep(decimal.RequireFromString("100.123456"), "0xhash", entities.SweepModeSponsored)
			})
		require.NoError(t, err)

		stored, err := repo.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.SweptAmount)
		assert.True(t, stored.SweptAmount.Equal(decimal.RequireFromString("100.123456")))
		require.NotNil(t, stored.SweepMode)
		assert.Equal(t, entities.SweepModeSponsored, *stored.SweepMode)
	})

	t.Run("terminal rows reject mutation", func(t *testing.T) {
		_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusSweeping, entities.SettlementStatusFailed,
			func(s *entities.SettlementTransaction) error {
				s.SetError(domainerrors.CodeSweepFailed, "reverted", true)
				return nil
			})
		require.NoError(t, err)

		_, err = repo.Transition(ctx, tx.ID, entities.SettlementStatusFailed, entities.SettlementStatusFailed, nil)
		assert.ErrorIs(t, err, domainerrors.ErrTerminalState)
		_, err = repo.Transition(ctx, tx.ID, entities.SettlementStatusSweeping, entities.SettlementStatusSwept, nil)
		assert.ErrorIs(t, err, domainerrors.ErrTerminalState)
	})
}

func TestSettlementRepository_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	tx := newSettlement("user-3")
	require.NoError(t, repo.Create(ctx, tx))

	// Simulate a second writer that read the same version and committed first.
	_, err := repo.Transition(ctx, tx.ID, entities.SettlementStatusPending, entities.SettlementStatusPending, func(s *entities.SettlementTransaction) error {
		s.Attempts++
		return nil
	})
	require.NoError(t, err)

	stale := *tx
	res, err := repo.db.ExecContext(ctx,
		repo.db.Rebind(`UPDATE settlement_transactions SET status = ? WHERE id = ? AND status = ? AND version = ?`),
		entities.SettlementStatusFailed, stale.ID, stale.Status, stale.Version)
	require.NoError(t, err)
	rows, _ := res.RowsAffected()
	assert.Equal(t, int64(0), rows, "write at an old version must not apply")
}

func TestSettlementRepository_PayoutReferenceUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	a, b := newSettlement("user-a"), newSettlement("user-b")
	ref := "stl_duplicate"
	a.PayoutReference = &ref
	b.PayoutReference = &ref

	require.NoError(t, repo.Create(ctx, a))
	err := repo.Create(ctx, b)
	assert.True(t, domainerrors.IsConflict(err))

	got, err := repo.GetByPayoutReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestSettlementRepository_CreateRetry(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	parent := newSettlement("user-r")
	parent.Status = entities.SettlementStatusFailed
	require.NoError(t, repo.Create(ctx, parent))

	copyParent := func(p *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
		child := *p
		child.ID = uuid.Nil
		child.Status = entities.SettlementStatusPending
		return &child, nil
	}

	t.Run("missing parent", func(t *testing.T) {
		_, err := repo.CreateRetry(ctx, uuid.New(), copyParent)
		assert.True(t, domainerrors.IsNotFound(err))
	})

	t.Run("build error inserts nothing", func(t *testing.T) {
		refused := errors.New("not retryable")
		_, err := repo.CreateRetry(ctx, parent.ID, func(*entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
			return nil, refused
		})
		assert.ErrorIs(t, err, refused)

		pending, err := repo.ListByStatus(ctx, entities.SettlementStatusPending, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("links child to parent", func(t *testing.T) {
		child, err := repo.CreateRetry(ctx, parent.ID, copyParent)
		require.NoError(t, err)
		assert.NotEqual(t, parent.ID, child.ID)

		stored, err := repo.GetByID(ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.RetryOf)
		assert.Equal(t, parent.ID, *stored.RetryOf)
		assert.Equal(t, entities.SettlementStatusPending, stored.Status)
	})

	t.Run("second child conflicts", func(t *testing.T) {
		_, err := repo.CreateRetry(ctx, parent.ID, copyParent)
		assert.True(t, domainerrors.IsConflict(err))

		pending, err := repo.ListByStatus(ctx, entities.SettlementStatusPending, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestSettlementRepository_ListProcessable(t *testing.T) {
	ctx := context.Background()
	repo := NewSettlementRepository(newTestDB(t))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	fresh := newSettlement("fresh")
	fresh.CreatedAt = base
	require.NoError(t, repo.Create(ctx, fresh))

	old := newSettlement("old")
	old.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, old))

	paused := newSettlement("paused")
	paused.Status = entities.SettlementStatusAwaitingFloat
	paused.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, paused))

	sweeping := newSettlement("sweeping")
	sweeping.Status = entities.SettlementStatusSweeping
	sweeping.CreatedAt = base.Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, sweeping))

	got, err := repo.ListProcessable(ctx, base.Add(-time.Minute), base, 10)
	require.NoError(t, err)

	var refs []string
	for _, tx := range got {
		refs = append(refs, tx.UserRef)
	}
	assert.Equal(t, []string{"sweeping", "old"}, refs)

	got, err = repo.ListProcessable(ctx, base.Add(-time.Minute), base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "recently updated in-progress rows are left to their worker")
	assert.Equal(t, "old", got[0].UserRef)
}
