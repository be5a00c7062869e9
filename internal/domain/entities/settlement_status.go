package entities

import "fmt"

// SettlementStatus is the lifecycle state of a settlement transaction
type SettlementStatus string

const (
	SettlementStatusPending         SettlementStatus = "pending"
	SettlementStatusTokenReceived   SettlementStatus = "token_received"
	SettlementStatusSweeping        SettlementStatus = "sweeping"
	SettlementStatusSwept           SettlementStatus = "swept"
	SettlementStatusConverting      SettlementStatus = "converting"
	SettlementStatusAwaitingFloat   SettlementStatus = "awaiting_float"
	SettlementStatusPayoutInitiated SettlementStatus = "payout_initiated"
	SettlementStatusCompleted       SettlementStatus = "completed"
	SettlementStatusFailed          SettlementStatus = "failed"
	SettlementStatusRefunded        SettlementStatus = "refunded"
)

// ValidSettlementStatuses contains all valid settlement statuses
var ValidSettlementStatuses = map[SettlementStatus]bool{
	SettlementStatusPending:         true,
	SettlementStatusTokenReceived:   true,
	SettlementStatusSweeping:        true,
	SettlementStatusSwept:           true,
	SettlementStatusConverting:      true,
	SettlementStatusAwaitingFloat:   true,
	SettlementStatusPayoutInitiated: true,
	SettlementStatusCompleted:       true,
	SettlementStatusFailed:          true,
	SettlementStatusRefunded:        true,
}

// ValidSettlementTransitions lists the forward edges. Failed and refunded are
// reachable from every non-terminal state and are added by CanTransitionTo.
// A same-status transition is an in-place update and is allowed for any
// non-terminal state.
var ValidSettlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementStatusPending:         {SettlementStatusTokenReceived},
	SettlementStatusTokenReceived:   {SettlementStatusSweeping},
	SettlementStatusSweeping:        {SettlementStatusSwept},
	SettlementStatusSwept:           {SettlementStatusConverting},
	SettlementStatusConverting:      {SettlementStatusPayoutInitiated, SettlementStatusAwaitingFloat},
	SettlementStatusAwaitingFloat:   {SettlementStatusConverting},
	SettlementStatusPayoutInitiated: {SettlementStatusCompleted},
	SettlementStatusCompleted:       {},
	SettlementStatusFailed:          {},
	SettlementStatusRefunded:        {},
}

// ProcessableStatuses are the states the batch driver advances.
var ProcessableStatuses = []SettlementStatus{
	SettlementStatusPending,
	SettlementStatusTokenReceived,
	SettlementStatusSweeping,
	SettlementStatusSwept,
	SettlementStatusConverting,
}

func (s SettlementStatus) IsValid() bool {
	return ValidSettlementStatuses[s]
}

func (s SettlementStatus) String() string {
	return string(s)
}

// IsTerminal returns true once no further mutation is accepted
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusCompleted || s == SettlementStatusFailed || s == SettlementStatusRefunded
}

// IsPaused returns true for states that wait on an operator rather than the driver
func (s SettlementStatus) IsPaused() bool {
	return s == SettlementStatusAwaitingFloat
}

// CanTransitionTo checks if transition to new status is allowed
func (s SettlementStatus) CanTransitionTo(newStatus SettlementStatus) bool {
	if !s.IsValid() || s.IsTerminal() {
		return false
	}
	if newStatus == s || newStatus == SettlementStatusFailed || newStatus == SettlementStatusRefunded {
		return true
	}
	for _, status := range ValidSettlementTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// ValidateTransition validates and returns error if transition is invalid
func (s SettlementStatus) ValidateTransition(newStatus SettlementStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid settlement status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
