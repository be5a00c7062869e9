package reconciliation

import (
	"fmt"

	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	"github.com/rail-service/settlement_service/internal/domain/entities"
)

// Outcome is what handling a payout event did
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeUnknown   Outcome = "unknown"
)

// Event sources
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// PayoutEvent is a payout status reported by the fiat rail
type PayoutEvent struct {
	EventID   string
	Reference string
	Status    string
	Reason    string
	Source    string
}

// EventFromWebhook converts a rail webhook into a payout event. The rail
// sends no delivery id, so the event type, transfer id and reference
// identify a delivery.
func EventFromWebhook(ev *fiatrail.WebhookEvent) PayoutEvent {
	status := ev.Data.Status
	switch ev.Event {
	case fiatrail.EventTransferSuccess:
		status = fiatrail.TransferStatusSuccess
	case fiatrail.EventTransferFailed:
		status = fiatrail.TransferStatusFailed
	case fiatrail.EventTransferReversed:
		status = fiatrail.TransferStatusReversed
	}

	reason := ev.Data.Failures
	if reason == "" {
		reason = ev.Data.Reason
	}
	return PayoutEvent{
		EventID:   fmt.Sprintf("%s:%d:%s", ev.Event, ev.Data.ID, ev.Data.Reference),
		Reference: ev.Data.Reference,
		Status:    status,
		Reason:    reason,
		Source:    SourceWebhook,
	}
}

// targetStatus maps a rail transfer status to the settlement status it
// confirms. ok is false while the transfer is still in flight.
func targetStatus(status string) (entities.SettlementStatus, bool) {
	switch status {
	case fiatrail.TransferStatusSuccess:
		return entities.SettlementStatusCompleted, true
	case fiatrail.TransferStatusFailed, fiatrail.TransferStatusReversed:
		return entities.SettlementStatusFailed, true
	}
	return "", false
}
