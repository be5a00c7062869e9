package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
	"github.com/rail-service/settlement_service/pkg/security"
)

// Rail is the fiat payout provider
type Rail interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	CreateRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, req fiatrail.TransferRequest) (*fiatrail.Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (*fiatrail.Transfer, error)
}

// Request is one payout. Reference must already be persisted on the settlement.
type Request struct {
	Reference     string
	Amount        decimal.Decimal
	AccountName   string
	AccountNumber string
	BankCode      string
	Reason        string
}

// Result is the accepted transfer
type Result struct {
	Reference    string
	Status       string
	TransferCode string
	// Existing is set when the rail already held a transfer for the reference
	Existing bool
}

// Initiator sends fiat payouts at most once per reference
type Initiator struct {
	rail   Rail
	logger *logger.Logger
}

func NewInitiator(rail Rail, log *logger.Logger) *Initiator {
	return &Initiator{rail: rail, logger: log}
}

// Initiate checks the rail for an earlier transfer with the same reference,
// then the payout float, and only then sends a new transfer.
func (i *Initiator) Initiate(ctx context.Context, req Request) (*Result, error) {
	if req.Reference == "" {
		return nil, domainerrors.ValidationError("reference", "is required")
	}
	if !req.Amount.IsPositive() {
		return nil, domainerrors.ValidationError("amount", "must be greater than zero")
	}

	existing, err := i.rail.VerifyTransfer(ctx, req.Reference)
	switch {
	case err == nil:
		return i.reuse(req, existing)
	case !errors.Is(err, fiatrail.ErrTransferNotFound):
		return nil, domainerrors.TransientRPCError("verify transfer", err)
	}

	available, err := i.rail.GetBalance(ctx)
	if err != nil {
		return nil, domainerrors.TransientRPCError("payout balance", err)
	}
	if available.LessThan(req.Amount) {
		metrics.PayoutsTotal.WithLabelValues("insufficient_float").Inc()
		i.logger.Warn("Payout float too low",
			"reference", req.Reference,
			"available", available.StringFixed(2),
			"required", req.Amount.StringFixed(2))
		return nil, domainerrors.InsufficientFloatError(available.StringFixed(2), req.Amount.StringFixed(2))
	}

	recipientCode, err := i.rail.CreateRecipient(ctx, req.AccountName, req.AccountNumber, req.BankCode)
	if err != nil {
		return nil, classify("create recipient", err)
	}

	transfer, err := i.rail.InitiateTransfer(ctx, fiatrail.TransferRequest{
		Amount:        req.Amount,
		RecipientCode: recipientCode,
		Reference:     req.Reference,
		Reason:        req.Reason,
	})
	if err != nil {
		metrics.PayoutsTotal.WithLabelValues("error").Inc()
		return nil, classify("initiate transfer", err)
	}
	if isFailed(transfer.Status) {
		metrics.PayoutsTotal.WithLabelValues("rejected").Inc()
		return nil, domainerrors.PayoutFailedError(failureReason(transfer))
	}

	metrics.PayoutsTotal.WithLabelValues("initiated").Inc()
	i.logger.Info("Payout initiated",
		"reference", req.Reference,
		"account", security.MaskAccountNumber(req.AccountNumber),
		"amount", req.Amount.StringFixed(2),
		"status", transfer.Status)

	return &Result{Reference: req.Reference, Status: transfer.Status, TransferCode: transfer.TransferCode}, nil
}

func (i *Initiator) reuse(req Request, transfer *fiatrail.Transfer) (*Result, error) {
	if isFailed(transfer.Status) {
		metrics.PayoutsTotal.WithLabelValues("rejected").Inc()
		return nil, domainerrors.PayoutFailedError(failureReason(transfer))
	}

	metrics.PayoutsTotal.WithLabelValues("existing").Inc()
	i.logger.Info("Payout already exists on the rail",
		"reference", req.Reference,
		"status", transfer.Status)
	return &Result{
		Reference:    req.Reference,
		Status:       transfer.Status,
		TransferCode: transfer.TransferCode,
		Existing:     true,
	}, nil
}

// classify maps a rail error to transient when the request may not have been
// processed, and to a payout failure when the rail rejected it.
func classify(operation string, err error) error {
	var apiErr *fiatrail.ErrorResponse
	if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
		return domainerrors.PayoutFailedError(fmt.Sprintf("%s: %s", operation, apiErr.Message))
	}
	return domainerrors.TransientRPCError(operation, err)
}

func isFailed(status string) bool {
	return status == fiatrail.TransferStatusFailed || status == fiatrail.TransferStatusReversed
}

func failureReason(t *fiatrail.Transfer) string {
	switch {
	case t.Failures != "":
		return t.Failures
	case t.Reason != "":
		return t.Reason
	}
	return "transfer " + t.Status
}
