package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/repositories"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
	"github.com/rail-service/settlement_service/pkg/tracing"
)

const dedupTTL = 24 * time.Hour

// Deduper remembers delivered webhook ids
type Deduper interface {
	SetNX(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// TransferVerifier looks a transfer up on the fiat rail
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, reference string) (*fiatrail.Transfer, error)
}

// EventPublisher broadcasts status changes
type EventPublisher interface {
	Publish(ctx context.Context, event entities.SettlementEvent) error
}

// Config holds listener settings
type Config struct {
	// StaleAfter is how long a payout may wait for its webhook before it is polled
	StaleAfter time.Duration
	BatchSize  int
}

// Listener applies payout confirmations to settlements
type Listener struct {
	repo     repositories.SettlementRepository
	dedup    Deduper
	verifier TransferVerifier
	events   EventPublisher
	config   Config
	logger   *logger.Logger
	now      func() time.Time
}

// NewListener creates a listener. dedup and events may be nil.
func NewListener(
	repo repositories.SettlementRepository,
	dedup Deduper,
	verifier TransferVerifier,
	events EventPublisher,
	config Config,
	log *logger.Logger,
) *Listener {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 30 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Listener{
		repo:     repo,
		dedup:    dedup,
		verifier: verifier,
		events:   events,
		config:   config,
		logger:   log,
		now:      time.Now,
	}
}

// HandlePayoutEvent moves a payout_initiated settlement to completed or failed.
// Redelivered and out-of-order events are no-ops; the guarded transition keeps
// this safe even without the dedup store.
func (l *Listener) HandlePayoutEvent(ctx context.Context, ev PayoutEvent) (Outcome, error) {
	ctx, span := tracing.GetTracer("reconciliation.listener").Start(ctx, "HandlePayoutEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("payout.reference", ev.Reference),
		attribute.String("payout.status", ev.Status),
		attribute.String("payout.source", ev.Source),
	)

	outcome, err := l.handle(ctx, ev)
	metrics.ReconciliationEventsTotal.WithLabelValues(sourceOf(ev), string(outcome)).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (l *Listener) handle(ctx context.Context, ev PayoutEvent) (Outcome, error) {
	if ev.Reference == "" {
		return OutcomeUnknown, domainerrors.ValidationError("reference", "is required")
	}

	claimed, outcome := l.claim(ctx, ev)
	if outcome == OutcomeDuplicate {
		l.logger.Debug("Duplicate payout event", "event_id", ev.EventID, "reference", ev.Reference)
		return OutcomeDuplicate, nil
	}

	outcome, err := l.apply(ctx, ev)
	if err != nil && claimed {
		// let a redelivery or the poller try again
		l.release(ctx, ev)
	}
	return outcome, err
}

func (l *Listener) apply(ctx context.Context, ev PayoutEvent) (Outcome, error) {
	tx, err := l.repo.GetByPayoutReference(ctx, ev.Reference)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			mismatch := domainerrors.ReconciliationMismatchError(ev.Reference, "unknown payout reference")
			l.logger.Warn("Payout event for unknown reference", "reference", ev.Reference, "source", ev.Source)
			return OutcomeUnknown, mismatch
		}
		return OutcomeUnknown, err
	}

	target, final := targetStatus(ev.Status)
	if !final {
		return OutcomePending, nil
	}

	if tx.Status.IsTerminal() {
		if tx.Status == target {
			return OutcomeDuplicate, nil
		}
		mismatch := domainerrors.ReconciliationMismatchError(ev.Reference,
			fmt.Sprintf("settlement already %s, rail reports %s", tx.Status, ev.Status))
		l.logger.Warn("Payout event conflicts with terminal settlement",
			"settlement_id", tx.ID.String(),
			"reference", ev.Reference,
			"status", string(tx.Status),
			"rail_status", ev.Status)
		return OutcomeMismatch, mismatch
	}
	if tx.Status != entities.SettlementStatusPayoutInitiated {
		mismatch := domainerrors.ReconciliationMismatchError(ev.Reference,
			fmt.Sprintf("settlement is %s, not awaiting a payout confirmation", tx.Status))
		l.logger.Warn("Payout event arrived before the settlement recorded its payout",
			"settlement_id", tx.ID.String(),
			"reference", ev.Reference,
			"status", string(tx.Status))
		return OutcomeMismatch, mismatch
	}

	now := l.now().UTC()
	updated, err := l.repo.Transition(ctx, tx.ID, entities.SettlementStatusPayoutInitiated, target, func(t *entities.SettlementTransaction) error {
		if target == entities.SettlementStatusCompleted {
			t.PayoutConfirmedAt = &now
			t.ClearError()
			return nil
		}
		reason := ev.Reason
		if reason == "" {
			reason = "transfer " + ev.Status
		}
		t.SetError(domainerrors.CodePayoutFailed, "payout failed: "+reason, false)
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrStaleState) || errors.Is(err, domainerrors.ErrTerminalState) {
			// another delivery won the race
			return OutcomeDuplicate, nil
		}
		return OutcomeUnknown, err
	}

	metrics.SettlementTransitionsTotal.WithLabelValues(string(entities.SettlementStatusPayoutInitiated), string(target)).Inc()
	if target == entities.SettlementStatusFailed {
		metrics.SettlementFailuresTotal.WithLabelValues(domainerrors.CodePayoutFailed).Inc()
	}
	l.logger.Info("Payout reconciled",
		"settlement_id", updated.ID.String(),
		"reference", ev.Reference,
		"status", string(updated.Status),
		"source", ev.Source)
	l.publish(ctx, updated)
	return OutcomeApplied, nil
}

// Sweep polls the rail for payouts whose confirmation never arrived
func (l *Listener) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-l.config.StaleAfter)
	rows, err := l.repo.ListPayoutsInitiatedBefore(ctx, cutoff, l.config.BatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, tx := range rows {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if tx.PayoutReference == nil {
			continue
		}

		transfer, err := l.verifier.VerifyTransfer(ctx, *tx.PayoutReference)
		if err != nil {
			if errors.Is(err, fiatrail.ErrTransferNotFound) {
				l.logger.Error("Initiated payout is missing on the rail",
					"settlement_id", tx.ID.String(),
					"reference", *tx.PayoutReference)
				continue
			}
			l.logger.Warn("Failed to verify payout", "reference", *tx.PayoutReference, "error", err)
			continue
		}
		if !transfer.IsFinal() {
			continue
		}

		reason := transfer.Failures
		if reason == "" {
			reason = transfer.Reason
		}
		outcome, err := l.HandlePayoutEvent(ctx, PayoutEvent{
			Reference: *tx.PayoutReference,
			Status:    transfer.Status,
			Reason:    reason,
			Source:    SourcePoll,
		})
		if err != nil {
			l.logger.Warn("Failed to reconcile polled payout", "reference", *tx.PayoutReference, "error", err)
			continue
		}
		if outcome == OutcomeApplied {
			applied++
		}
	}

	if applied > 0 {
		l.logger.Info("Reconciled payouts by polling", "applied", applied, "checked", len(rows))
	}
	return applied, nil
}

// claim records the delivery id. claimed is false when there is no id or no
// store; a store outage is logged and the event is still applied.
func (l *Listener) claim(ctx context.Context, ev PayoutEvent) (bool, Outcome) {
	if l.dedup == nil || ev.EventID == "" {
		return false, ""
	}
	ok, err := l.dedup.SetNX(ctx, dedupKey(ev.EventID), dedupTTL)
	if err != nil {
		l.logger.Warn("Webhook dedup unavailable", "event_id", ev.EventID, "error", err)
		return false, ""
	}
	if !ok {
		return false, OutcomeDuplicate
	}
	return true, ""
}

func (l *Listener) release(ctx context.Context, ev PayoutEvent) {
	if err := l.dedup.Del(ctx, dedupKey(ev.EventID)); err != nil {
		l.logger.Warn("Failed to release webhook dedup key", "event_id", ev.EventID, "error", err)
	}
}

func (l *Listener) publish(ctx context.Context, tx *entities.SettlementTransaction) {
	if l.events == nil {
		return
	}
	event := entities.SettlementEvent{
		SettlementID: tx.ID,
		UserRef:      tx.UserRef,
		From:         entities.SettlementStatusPayoutInitiated,
		To:           tx.Status,
		OccurredAt:   l.now().UTC(),
	}
	if tx.ErrorCode != nil {
		event.ErrorCode = *tx.ErrorCode
	}
	if err := l.events.Publish(ctx, event); err != nil {
		l.logger.Warn("Failed to publish settlement event", "settlement_id", tx.ID.String(), "error", err)
	}
}

func dedupKey(eventID string) string {
	return "webhook:" + eventID
}

func sourceOf(ev PayoutEvent) string {
	if ev.Source == "" {
		return SourceWebhook
	}
	return ev.Source
}
