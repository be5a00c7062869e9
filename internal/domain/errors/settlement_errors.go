package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Settlement pipeline sentinels
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNoRouteFound           = errors.New("no swap route found")
	ErrTransientRPC           = errors.New("transient rpc error")
	ErrSweepFailed            = errors.New("sweep failed")
	ErrSwapFailed             = errors.New("swap failed")
	ErrInsufficientFloat      = errors.New("insufficient payout float")
	ErrPayoutFailed           = errors.New("payout failed")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrStaleState             = errors.New("stale settlement state")
	ErrTerminalState          = errors.New("settlement is in a terminal state")
	ErrDescriptorMismatch     = errors.New("custody descriptor mismatch")
	ErrNonceMismatch          = errors.New("smart account nonce mismatch")
	ErrNotSupported           = errors.New("not supported")
	ErrSponsorshipUnavailable = errors.New("gas sponsorship unavailable")
	ErrTimeout                = errors.New("settlement deadline exceeded")
)

// Error codes persisted on failed settlements
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeNoRouteFound        = "NO_ROUTE_FOUND"
	CodeTransientRPC        = "TRANSIENT_RPC"
	CodeSweepFailed         = "SWEEP_FAILED"
	CodeSwapFailed          = "SWAP_FAILED"
	CodeInsufficientFloat   = "INSUFFICIENT_FLOAT"
	CodePayoutFailed        = "PAYOUT_FAILED"
	CodeReconciliation      = "RECONCILIATION_MISMATCH"
	CodeDescriptorMismatch  = "DESCRIPTOR_MISMATCH"
	CodeNonceMismatch       = "NONCE_MISMATCH"
	CodeTimeout             = "TIMEOUT"
	CodeRefunded            = "REFUNDED"
	CodeInternal            = "INTERNAL_ERROR"
)

// InsufficientBalanceError is terminal and never retried
func InsufficientBalanceError(available, required string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientBalance,
		Code:    CodeInsufficientBalance,
		Message: fmt.Sprintf("custody balance %s is below the minimum %s", available, required),
		Details: map[string]interface{}{
			"available": available,
			"required":  required,
		},
	}
}

// NoRouteFoundError aggregates the reason each cascade layer gave
func NoRouteFoundError(reasons map[string]error, order []string) *DomainError {
	parts := make([]string, 0, len(order))
	details := make(map[string]interface{}, len(order))
	for _, layer := range order {
		reason, ok := reasons[layer]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", layer, reason))
		details[layer] = reason.Error()
	}
	return &DomainError{
		Err:     ErrNoRouteFound,
		Code:    CodeNoRouteFound,
		Message: "no swap route found (" + strings.Join(parts, "; ") + ")",
		Details: details,
	}
}

// TransientRPCError marks a chain or provider read that may succeed on retry
func TransientRPCError(operation string, err error) *DomainError {
	return &DomainError{
		Err:       ErrTransientRPC,
		Code:      CodeTransientRPC,
		Message:   fmt.Sprintf("%s: %v", operation, err),
		Retryable: true,
	}
}

// SweepFailedError is terminal for the attempt but operator-retryable
func SweepFailedError(reason string) *DomainError {
	return &DomainError{
		Err:       ErrSweepFailed,
		Code:      CodeSweepFailed,
		Message:   "sweep failed: " + reason,
		Retryable: true,
	}
}

// SwapFailedError is terminal for the attempt but operator-retryable
func SwapFailedError(reason string) *DomainError {
	return &DomainError{
		Err:       ErrSwapFailed,
		Code:      CodeSwapFailed,
		Message:   "swap failed: " + reason,
		Retryable: true,
	}
}

// InsufficientFloatError pauses the settlement until the float is topped up
func InsufficientFloatError(available, required string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFloat,
		Code:    CodeInsufficientFloat,
		Message: fmt.Sprintf("payout float %s is below the required %s", available, required),
		Details: map[string]interface{}{
			"available": available,
			"required":  required,
		},
	}
}

// PayoutFailedError is terminal; the refund path applies
func PayoutFailedError(reason string) *DomainError {
	return &DomainError{
		Err:     ErrPayoutFailed,
		Code:    CodePayoutFailed,
		Message: "payout failed: " + reason,
	}
}

// ReconciliationMismatchError is logged and never applied
func ReconciliationMismatchError(reference, reason string) *DomainError {
	return &DomainError{
		Err:     ErrReconciliationMismatch,
		Code:    CodeReconciliation,
		Message: fmt.Sprintf("reconciliation mismatch for %s: %s", reference, reason),
		Details: map[string]interface{}{"reference": reference},
	}
}

// DescriptorMismatchError means the recomputed custody address differs from the stored one
func DescriptorMismatchError(stored, computed string) *DomainError {
	return &DomainError{
		Err:     ErrDescriptorMismatch,
		Code:    CodeDescriptorMismatch,
		Message: fmt.Sprintf("custody address mismatch: stored %s, computed %s", stored, computed),
		Details: map[string]interface{}{
			"stored":   stored,
			"computed": computed,
		},
	}
}

// NonceMismatchError means the factory address for the pinned nonce is not the custody address
func NonceMismatchError(address string, nonce int64) *DomainError {
	return &DomainError{
		Err:     ErrNonceMismatch,
		Code:    CodeNonceMismatch,
		Message: fmt.Sprintf("smart account %s does not match nonce %d", address, nonce),
	}
}

// TimeoutError marks a settlement that ran out of its processing deadline
func TimeoutError(stage string) *DomainError {
	return &DomainError{
		Err:       ErrTimeout,
		Code:      CodeTimeout,
		Message:   fmt.Sprintf("deadline exceeded during %s", stage),
		Retryable: true,
	}
}
