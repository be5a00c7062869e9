package reconciliation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/rail-service/settlement_service/internal/domain/repositories/mocks"
	"github.com/rail-service/settlement_service/pkg/logger"
)

func TestScheduler_RunOnce(t *testing.T) {
	repo := new(mocks.MockSettlementRepository)
	repo.On("ListPayoutsInitiatedBefore", mock.Anything, mock.Anything, 50).Return(nil, errors.New("db down")).Once()

	s := NewScheduler(newListener(repo, nil, new(mockVerifier), nil), "", logger.NewNop())
	s.RunOnce()

	repo.AssertExpectations(t)
}

func TestScheduler_BadSchedule(t *testing.T) {
	s := NewScheduler(newListener(new(mocks.MockSettlementRepository), nil, nil, nil), "every tuesday", logger.NewNop())
	assert.Error(t, s.Start())
}
