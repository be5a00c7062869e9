package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoRouteFoundError_ListsEveryLayer(t *testing.T) {
	err := NoRouteFoundError(map[string]error{
		"permit":     ErrNotSupported,
		"aggregator": errors.New("http 500"),
		"amm":        errors.New("no pool"),
	}, []string{"permit", "aggregator", "amm"})

	assert.ErrorIs(t, err, ErrNoRouteFound)
	assert.Equal(t, CodeNoRouteFound, err.Code)
	assert.Contains(t, err.Error(), "permit: not supported")
	assert.Contains(t, err.Error(), "aggregator: http 500")
	assert.Contains(t, err.Error(), "amm: no pool")
	assert.Len(t, err.Details, 3)
}

func TestDomainError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		sentinel  error
		code      string
		retryable bool
	}{
		{"balance", InsufficientBalanceError("0", "1"), ErrInsufficientBalance, CodeInsufficientBalance, false},
		{"rpc", TransientRPCError("balanceOf", errors.New("429")), ErrTransientRPC, CodeTransientRPC, true},
		{"sweep", SweepFailedError("reverted"), ErrSweepFailed, CodeSweepFailed, true},
		{"float", InsufficientFloatError("10", "20"), ErrInsufficientFloat, CodeInsufficientFloat, false},
		{"payout", PayoutFailedError("closed account"), ErrPayoutFailed, CodePayoutFailed, false},
		{"timeout", TimeoutError("sweeping"), ErrTimeout, CodeTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.code, GetErrorCode(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
		})
	}

	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("plain")))
	assert.True(t, IsNotFound(NotFoundError("SETTLEMENT")))
}
