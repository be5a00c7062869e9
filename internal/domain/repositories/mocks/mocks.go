// Package mocks holds testify mocks of the domain repositories.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/internal/domain/repositories"
)

type MockSettlementRepository struct {
	mock.Mock
}

func (m *MockSettlementRepository) Create(ctx context.Context, tx *entities.SettlementTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockSettlementRepository) CreateRetry(ctx context.Context, parentID uuid.UUID, build func(parent *entities.SettlementTransaction) (*entities.SettlementTransaction, error)) (*entities.SettlementTransaction, error) {
	args := m.Called(ctx, parentID, build)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) GetByPayoutReference(ctx context.Context, reference string) (*entities.SettlementTransaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) ListByStatus(ctx context.Context, status entities.SettlementStatus, limit int) ([]*entities.SettlementTransaction, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) ListProcessable(ctx context.Context, pendingBefore, staleBefore time.Time, limit int) ([]*entities.SettlementTransaction, error) {
	args := m.Called(ctx, pendingBefore, staleBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) ListPayoutsInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entities.SettlementTransaction, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.SettlementTransaction), args.Error(1)
}

func (m *MockSettlementRepository) Transition(ctx context.Context, id uuid.UUID, from, to entities.SettlementStatus, mutate repositories.SettlementMutator) (*entities.SettlementTransaction, error) {
	args := m.Called(ctx, id, from, to, mutate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementTransaction), args.Error(1)
}

type MockCustodyRepository struct {
	mock.Mock
}

func (m *MockCustodyRepository) Create(ctx context.Context, record *entities.CustodyAddress) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockCustodyRepository) GetByUserRef(ctx context.Context, userRef string, chainID int64) (*entities.CustodyAddress, error) {
	args := m.Called(ctx, userRef, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CustodyAddress), args.Error(1)
}

func (m *MockCustodyRepository) PinNonce(ctx context.Context, userRef string, chainID int64, nonce int64) error {
	args := m.Called(ctx, userRef, chainID, nonce)
	return args.Error(0)
}

type MockFeeTierRepository struct {
	mock.Mock
}

func (m *MockFeeTierRepository) List(ctx context.Context) ([]entities.FeeTier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.FeeTier), args.Error(1)
}

func (m *MockFeeTierRepository) ReplaceAll(ctx context.Context, tiers []entities.FeeTier) error {
	args := m.Called(ctx, tiers)
	return args.Error(0)
}

type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) GetRate(ctx context.Context) (*entities.RateSetting, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RateSetting), args.Error(1)
}

func (m *MockSettingsRepository) SetRate(ctx context.Context, setting entities.RateSetting) error {
	args := m.Called(ctx, setting)
	return args.Error(0)
}

var (
	_ repositories.SettlementRepository = (*MockSettlementRepository)(nil)
	_ repositories.CustodyRepository    = (*MockCustodyRepository)(nil)
	_ repositories.FeeTierRepository    = (*MockFeeTierRepository)(nil)
	_ repositories.SettingsRepository   = (*MockSettingsRepository)(nil)
)
