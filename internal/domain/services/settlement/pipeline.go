package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/services/payout"
	"github.com/rail-service/settlement_service/internal/domain/services/swap"
	"github.com/rail-service/settlement_service/internal/domain/services/sweep"
	"github.com/rail-service/settlement_service/pkg/metrics"
	"github.com/rail-service/settlement_service/pkg/retry"
	"github.com/rail-service/settlement_service/pkg/tracing"
)

// persistTimeout bounds failure bookkeeping once the processing context is gone
const persistTimeout = 10 * time.Second

// Process advances a settlement from its persisted status until it completes a
// stage that waits on something external. Business failures are recorded on
// the row and are not returned; the returned error is only set when the row
// could not be advanced or recorded.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for !tx.Status.IsTerminal() && !tx.Status.IsPaused() && tx.Status != entities.SettlementStatusPayoutInitiated {
		next, err := s.advance(ctx, tx)
		if err != nil {
			return s.recordFailure(ctx, tx, err)
		}
		tx = next
	}
	return tx, nil
}

// advance runs the stage for the current status, retrying transient errors
// in place. Every attempt after the first starts from a fresh read.
func (s *Service) advance(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	stage := string(tx.Status)
	stageCtx, span := tracing.StartStage(ctx, stage, tx.ID.String())
	start := time.Now()

	current := tx
	attempt := 0
	var next *entities.SettlementTransaction
	err := retry.WithExponentialBackoff(stageCtx, s.config.StageRetry, func() error {
		if attempt > 0 {
			fresh, err := s.repo.GetByID(stageCtx, tx.ID)
			if err != nil {
				return err
			}
			if fresh.Status != tx.Status {
				next = fresh
				return nil
			}
			current = fresh
		}
		attempt++

		var err error
		next, err = s.step(stageCtx, current)
		return err
	}, isTransient)

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.SettlementStageDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
	tracing.EndStage(span, err)
	return next, err
}

func (s *Service) step(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	switch tx.Status {
	case entities.SettlementStatusPending:
		return s.detect(ctx, tx)
	case entities.SettlementStatusTokenReceived:
		return s.transition(ctx, tx, entities.SettlementStatusSweeping, nil)
	case entities.SettlementStatusSweeping:
		return s.sweep(ctx, tx)
	case entities.SettlementStatusSwept:
		return s.transition(ctx, tx, entities.SettlementStatusConverting, nil)
	case entities.SettlementStatusConverting:
		return s.convertAndPay(ctx, tx)
	}
	return nil, fmt.Errorf("no stage for status %s", tx.Status)
}

// detect probes the custody address. A balance under the dust floor fails
// the settlement before any on-chain write.
func (s *Service) detect(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	token := tokenOf(tx)
	balance, err := s.prober.Probe(ctx, tx.CustodyAddress, token)
	if err != nil {
		return nil, err
	}

	available := entities.ToDecimal(balance, token.Decimals)
	if balance.Sign() <= 0 || available.LessThan(s.config.MinAmount) {
		return nil, domainerrors.InsufficientBalanceError(available.String(), s.config.MinAmount.String())
	}

	s.logger.Info("Deposit detected",
		"settlement_id", tx.ID.String(),
		"token", token.Symbol,
		"amount", available.String())

	now := s.now().UTC()
	return s.transition(ctx, tx, entities.SettlementStatusTokenReceived, func(t *entities.SettlementTransaction) error {
		t.TokenDetectedAt = &now
		t.ClearError()
		return nil
	})
}

// sweep submits the sweep once and persists its hash before waiting for it.
// A row that already carries a hash is only awaited.
func (s *Service) sweep(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	var sub sweep.Submission
	if tx.SweepTxHash != nil && tx.SweptAmount != nil && tx.SweepMode != nil {
		sub = sweep.Submission{
			Hash:   common.HexToHash(*tx.SweepTxHash),
			Amount: entities.ToBaseUnits(*tx.SweptAmount, tx.TokenDecimals),
			Mode:   *tx.SweepMode,
		}
	} else {
		req, err := s.sweepRequest(ctx, tx)
		if err != nil {
			return nil, err
		}
		submitted, err := s.sweeper.Submit(ctx, req)
		if err != nil {
			return nil, err
		}
		sub = *submitted

		amount := entities.ToDecimal(sub.Amount, tx.TokenDecimals)
		persisted, err := s.transition(ctx, tx, entities.SettlementStatusSweeping, func(t *entities.SettlementTransaction) error {
			return t.SetSweep(amount, sub.Hash.Hex(), sub.Mode)
		})
		if err != nil {
			return nil, err
		}
		tx = persisted
	}

	result, err := s.sweeper.Await(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sweep confirmed",
		"settlement_id", tx.ID.String(),
		"mode", string(result.Mode),
		"tx_hash", result.TxHash.Hex())

	now := s.now().UTC()
	return s.transition(ctx, tx, entities.SettlementStatusSwept, func(t *entities.SettlementTransaction) error {
		t.SweptAt = &now
		t.ClearError()
		return nil
	})
}

func (s *Service) sweepRequest(ctx context.Context, tx *entities.SettlementTransaction) (sweep.Request, error) {
	record, err := s.custody.Assign(ctx, tx.UserRef)
	if err != nil {
		return sweep.Request{}, err
	}
	if record.Address != tx.CustodyAddress {
		return sweep.Request{}, domainerrors.DescriptorMismatchError(tx.CustodyAddress, record.Address)
	}
	key, err := s.custody.OwnerCredential(ctx, record)
	if err != nil {
		return sweep.Request{}, err
	}
	return sweep.Request{Custody: record, OwnerKey: key, Token: tokenOf(tx)}, nil
}

// convertAndPay swaps into the settlement token when needed, snapshots the
// quote with the payout reference and then sends the payout. Each piece of
// proof is persisted before the next side effect.
func (s *Service) convertAndPay(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	if s.needsSwap(tx) && tx.ConvertedAmount == nil {
		converted, err := s.convert(ctx, tx)
		if err != nil {
			return nil, err
		}
		tx = converted
	}

	if tx.FiatAmount == nil || tx.PayoutReference == nil {
		quoted, err := s.quote(ctx, tx)
		if err != nil {
			return nil, err
		}
		tx = quoted
	}

	if _, err := s.payouts.Initiate(ctx, payout.Request{
		Reference:     *tx.PayoutReference,
		Amount:        *tx.FiatAmount,
		AccountName:   tx.AccountName,
		AccountNumber: tx.BankAccountNumber,
		BankCode:      tx.BankCode,
		Reason:        s.config.PayoutReason,
	}); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return s.transition(ctx, tx, entities.SettlementStatusPayoutInitiated, func(t *entities.SettlementTransaction) error {
		t.PayoutInitiatedAt = &now
		t.ClearError()
		return nil
	})
}

// convert sends the swap once and persists its hash before waiting for it.
// A row that already carries a swap hash is only awaited.
func (s *Service) convert(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	if tx.SweptAmount == nil {
		return nil, fmt.Errorf("settlement %s reached conversion without a swept amount", tx.ID)
	}
	sellToken := tokenOf(tx)
	buyToken := s.config.SettlementToken

	var sub swap.Submission
	if tx.SwapTxHash != nil {
		sub = swap.Submission{TxHash: common.HexToHash(*tx.SwapTxHash)}
		if tx.SwapProvider != nil {
			sub.Provider = *tx.SwapProvider
		}
	} else {
		route, err := s.router.Route(ctx, swap.RouteRequest{
			SellToken: sellToken,
			BuyToken:  buyToken,
			Amount:    entities.ToBaseUnits(*tx.SweptAmount, sellToken.Decimals),
			Taker:     s.swapper.Pool(),
			Side:      entities.SwapSideSell,
		})
		if err != nil {
			return nil, err
		}

		submitted, err := s.swapper.Submit(ctx, route)
		if err != nil {
			return nil, err
		}
		sub = *submitted

		persisted, err := s.transition(ctx, tx, entities.SettlementStatusConverting, func(t *entities.SettlementTransaction) error {
			return t.SetSwap(sub.TxHash.Hex(), sub.Provider)
		})
		if err != nil {
			return nil, err
		}
		tx = persisted
	}

	result, err := s.swapper.Await(ctx, sub, buyToken)
	if err != nil {
		return nil, err
	}

	output := entities.ToDecimal(result.Output, buyToken.Decimals)
	s.logger.Info("Swap executed",
		"settlement_id", tx.ID.String(),
		"layer", string(result.Layer),
		"provider", result.Provider,
		"output", output.String(),
		"tx_hash", result.TxHash.Hex())

	return s.transition(ctx, tx, entities.SettlementStatusConverting, func(t *entities.SettlementTransaction) error {
		return t.SetConvertedAmount(output)
	})
}

func (s *Service) quote(ctx context.Context, tx *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	amount, ok := tx.SettledCryptoAmount()
	if !ok {
		return nil, fmt.Errorf("settlement %s has no settled amount to price", tx.ID)
	}

	quote := entities.Quote{}
	if tx.FiatAmount == nil {
		var err error
		quote, err = s.pricer.Convert(ctx, amount)
		if err != nil {
			return nil, err
		}
	}

	reference := entities.PayoutReferenceFor(tx.ID)
	return s.transition(ctx, tx, entities.SettlementStatusConverting, func(t *entities.SettlementTransaction) error {
		if t.FiatAmount == nil {
			if err := t.SetQuote(quote); err != nil {
				return err
			}
		}
		return t.SetPayoutReference(reference)
	})
}

// recordFailure writes err onto the row. Transient errors keep the status so
// the driver picks the row up again until attempts run out; a short payout
// float pauses the row; everything else fails it.
func (s *Service) recordFailure(ctx context.Context, tx *entities.SettlementTransaction, cause error) (*entities.SettlementTransaction, error) {
	if errors.Is(cause, domainerrors.ErrStaleState) || errors.Is(cause, domainerrors.ErrTerminalState) {
		s.logger.Debug("Settlement changed underneath the worker",
			"settlement_id", tx.ID.String(),
			"status", string(tx.Status),
			"error", cause)
		return tx, cause
	}

	// shutdown: leave the row for the next run
	if errors.Is(ctx.Err(), context.Canceled) {
		return tx, cause
	}

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(cause, context.DeadlineExceeded)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	// the in-memory row may be several transitions behind
	if fresh, err := s.repo.GetByID(persistCtx, tx.ID); err == nil {
		tx = fresh
	}
	if tx.Status.IsTerminal() {
		return tx, nil
	}

	switch {
	case timedOut:
		return s.fail(persistCtx, tx, domainerrors.TimeoutError(string(tx.Status)))

	case errors.Is(cause, domainerrors.ErrInsufficientFloat) && tx.Status == entities.SettlementStatusConverting:
		return s.pause(persistCtx, tx, cause)

	case isTransient(cause) || !isDomainError(cause):
		if tx.Attempts+1 >= s.config.MaxAttempts {
			return s.fail(persistCtx, tx, cause)
		}
		updated, err := s.transition(persistCtx, tx, tx.Status, func(t *entities.SettlementTransaction) error {
			t.Attempts++
			t.SetError(errorCode(cause), cause.Error(), true)
			return nil
		})
		if err != nil {
			return tx, err
		}
		s.logger.Warn("Settlement stage failed, will retry",
			"settlement_id", tx.ID.String(),
			"status", string(tx.Status),
			"attempts", updated.Attempts,
			"error", cause)
		return updated, cause

	default:
		return s.fail(persistCtx, tx, cause)
	}
}

func (s *Service) fail(ctx context.Context, tx *entities.SettlementTransaction, cause error) (*entities.SettlementTransaction, error) {
	code := errorCode(cause)
	retryable := domainerrors.IsRetryable(cause) || !isDomainError(cause)

	updated, err := s.transition(ctx, tx, entities.SettlementStatusFailed, func(t *entities.SettlementTransaction) error {
		t.Attempts++
		t.SetError(code, cause.Error(), retryable)
		return nil
	})
	if err != nil {
		return tx, err
	}

	metrics.SettlementFailuresTotal.WithLabelValues(code).Inc()
	s.logger.Error("Settlement failed",
		"settlement_id", tx.ID.String(),
		"stage", string(tx.Status),
		"code", code,
		"retryable", retryable,
		"error", cause)

	if errors.Is(cause, domainerrors.ErrPayoutFailed) || errors.Is(cause, domainerrors.ErrSweepFailed) ||
		errors.Is(cause, domainerrors.ErrDescriptorMismatch) {
		s.notify(ctx, fmt.Sprintf("Settlement %s failed: %s", tx.ID, code),
			fmt.Sprintf("Settlement %s for %s failed during %s.\n\n%s", tx.ID, tx.UserRef, tx.Status, cause.Error()))
	}
	return updated, nil
}

func (s *Service) pause(ctx context.Context, tx *entities.SettlementTransaction, cause error) (*entities.SettlementTransaction, error) {
	updated, err := s.transition(ctx, tx, entities.SettlementStatusAwaitingFloat, func(t *entities.SettlementTransaction) error {
		t.SetError(domainerrors.CodeInsufficientFloat, cause.Error(), false)
		return nil
	})
	if err != nil {
		return tx, err
	}

	s.logger.Warn("Settlement paused on payout float",
		"settlement_id", tx.ID.String(),
		"error", cause)
	s.notify(ctx, "Payout float too low",
		fmt.Sprintf("Settlement %s is paused until the payout float is topped up.\n\n%s", tx.ID, cause.Error()))
	return updated, nil
}

func isTransient(err error) bool {
	return errors.Is(err, domainerrors.ErrTransientRPC)
}

func isDomainError(err error) bool {
	var domainErr *domainerrors.DomainError
	return errors.As(err, &domainErr)
}

func errorCode(err error) string {
	if !isDomainError(err) {
		return domainerrors.CodeInternal
	}
	return domainerrors.GetErrorCode(err)
}
