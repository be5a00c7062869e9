package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/repositories"
	"github.com/rail-service/settlement_service/internal/domain/services/payout"
	"github.com/rail-service/settlement_service/internal/domain/services/swap"
	"github.com/rail-service/settlement_service/internal/domain/services/sweep"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
	"github.com/rail-service/settlement_service/pkg/retry"
	"github.com/rail-service/settlement_service/pkg/security"
)

// CustodyAssigner hands out and re-verifies custody addresses
type CustodyAssigner interface {
	Assign(ctx context.Context, userRef string) (*entities.CustodyAddress, error)
	OwnerCredential(ctx context.Context, record *entities.CustodyAddress) (*ecdsa.PrivateKey, error)
}

// AccountResolver verifies a bank account with the fiat rail
type AccountResolver interface {
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*fiatrail.ResolvedAccount, error)
}

// BalanceProber reads a custody balance in base units
type BalanceProber interface {
	Probe(ctx context.Context, address string, token entities.Token) (*big.Int, error)
}

// Sweeper moves the custody balance to the pool in two persisted steps
type Sweeper interface {
	Submit(ctx context.Context, req sweep.Request) (*sweep.Submission, error)
	Await(ctx context.Context, sub sweep.Submission) (*sweep.Result, error)
}

// SwapRouter finds an executable conversion
type SwapRouter interface {
	Route(ctx context.Context, req swap.RouteRequest) (*entities.ExecutableSwap, error)
}

// SwapExecutor lands a routed conversion from the pool wallet in two persisted steps
type SwapExecutor interface {
	Pool() common.Address
	Submit(ctx context.Context, s *entities.ExecutableSwap) (*swap.Submission, error)
	Await(ctx context.Context, sub swap.Submission, buyToken entities.Token) (*swap.Result, error)
}

// Pricer turns a settled crypto amount into a fiat quote
type Pricer interface {
	Convert(ctx context.Context, amount decimal.Decimal) (entities.Quote, error)
}

// PayoutInitiator sends the fiat transfer
type PayoutInitiator interface {
	Initiate(ctx context.Context, req payout.Request) (*payout.Result, error)
}

// EventPublisher broadcasts status changes
type EventPublisher interface {
	Publish(ctx context.Context, event entities.SettlementEvent) error
}

// Notifier alerts operators about settlements that need a human
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Config holds settlement pipeline settings
type Config struct {
	ChainID         int64
	Tokens          []entities.Token
	SettlementToken entities.Token

	// MinAmount is the dust floor in token units
	MinAmount decimal.Decimal

	// MaxAttempts bounds how many transient failures are recorded before the row fails
	MaxAttempts  int
	StageRetry   retry.RetryConfig
	PayoutReason string
}

// Dependencies groups the pipeline collaborators
type Dependencies struct {
	Repo     repositories.SettlementRepository
	Custody  CustodyAssigner
	Accounts AccountResolver
	Prober   BalanceProber
	Sweeper  Sweeper
	Router   SwapRouter
	Swapper  SwapExecutor
	Pricer   Pricer
	Payouts  PayoutInitiator
	Events   EventPublisher
	Notifier Notifier
}

// Service owns the settlement lifecycle
type Service struct {
	repo     repositories.SettlementRepository
	custody  CustodyAssigner
	accounts AccountResolver
	prober   BalanceProber
	sweeper  Sweeper
	router   SwapRouter
	swapper  SwapExecutor
	pricer   Pricer
	payouts  PayoutInitiator
	events   EventPublisher
	notifier Notifier

	config   Config
	tokens   map[string]entities.Token
	validate *validator.Validate
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates the settlement service. Events and Notifier may be nil.
func NewService(deps Dependencies, config Config, log *logger.Logger) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.StageRetry.MaxAttempts == 0 {
		config.StageRetry = retry.DefaultRetryConfig()
	}
	if config.PayoutReason == "" {
		config.PayoutReason = "Crypto settlement"
	}

	tokens := make(map[string]entities.Token, len(config.Tokens))
	for _, token := range config.Tokens {
		tokens[strings.ToUpper(token.Symbol)] = token
	}

	return &Service{
		repo:     deps.Repo,
		custody:  deps.Custody,
		accounts: deps.Accounts,
		prober:   deps.Prober,
		sweeper:  deps.Sweeper,
		router:   deps.Router,
		swapper:  deps.Swapper,
		pricer:   deps.Pricer,
		payouts:  deps.Payouts,
		events:   deps.Events,
		notifier: deps.Notifier,
		config:   config,
		tokens:   tokens,
		validate: validator.New(),
		logger:   log,
		now:      time.Now,
	}
}

// CreateIntent assigns the user's custody address, verifies the bank account
// and persists a pending settlement.
func (s *Service) CreateIntent(ctx context.Context, req entities.CreateIntentRequest) (*entities.SettlementTransaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domainerrors.ValidationError("request", err.Error())
	}
	token, ok := s.tokens[strings.ToUpper(req.TokenSymbol)]
	if !ok {
		return nil, domainerrors.ValidationError("token_symbol", fmt.Sprintf("token %s is not accepted", req.TokenSymbol))
	}

	account, err := s.accounts.ResolveAccount(ctx, req.BankAccountNumber, req.BankCode)
	if err != nil {
		var apiErr *fiatrail.ErrorResponse
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, domainerrors.ValidationError("bank_account_number", "bank account could not be verified")
		}
		return nil, domainerrors.ServiceUnavailableError("fiat rail", err)
	}

	custody, err := s.custody.Assign(ctx, req.UserRef)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tx := &entities.SettlementTransaction{
		ID:                uuid.New(),
		UserRef:           req.UserRef,
		CustodyAddress:    custody.Address,
		Strategy:          custody.Strategy,
		DerivationPath:    custody.DerivationPath,
		AccountNonce:      custody.AccountNonce,
		ChainID:           s.config.ChainID,
		TokenSymbol:       token.Symbol,
		TokenAddress:      token.Address,
		TokenDecimals:     token.Decimals,
		BankAccountNumber: req.BankAccountNumber,
		BankCode:          req.BankCode,
		AccountName:       account.AccountName,
		Status:            entities.SettlementStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("Settlement intent created",
		"settlement_id", tx.ID.String(),
		"user_ref", tx.UserRef,
		"custody", security.MaskAddress(tx.CustodyAddress),
		"token", tx.TokenSymbol,
		"account", security.MaskAccountNumber(tx.BankAccountNumber))
	s.publish(ctx, tx, "")
	return tx, nil
}

// Get returns one settlement
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByStatus returns settlements in a status
func (s *Service) ListByStatus(ctx context.Context, status entities.SettlementStatus, limit int) ([]*entities.SettlementTransaction, error) {
	if !status.IsValid() {
		return nil, domainerrors.ValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// Refund marks a non-terminal settlement refunded on operator request
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*entities.SettlementTransaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domainerrors.ValidationError("reason", "is required")
	}
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, domainerrors.ConflictError("settlement", fmt.Sprintf("already %s", tx.Status))
	}

	updated, err := s.transition(ctx, tx, entities.SettlementStatusRefunded, func(t *entities.SettlementTransaction) error {
		t.SetError(domainerrors.CodeRefunded, reason, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("Settlement refunded", "settlement_id", id.String(), "from", string(tx.Status), "reason", reason)
	return updated, nil
}

// Resume moves a settlement paused on the payout float back into conversion
// and runs the pipeline.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != entities.SettlementStatusAwaitingFloat {
		return tx, domainerrors.ConflictError("settlement", fmt.Sprintf("status %s is not paused", tx.Status))
	}

	if _, err := s.transition(ctx, tx, entities.SettlementStatusConverting, func(t *entities.SettlementTransaction) error {
		t.ClearError()
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Process(ctx, id)
}

// Retry starts a new settlement for a failed, retryable one. The failed row
// is terminal and stays as it is. Only confirmed proof carries over: an
// unconfirmed sweep is redone from a fresh balance probe, and an unconfirmed
// swap is awaited again unless it reverted.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	child, err := s.repo.CreateRetry(ctx, id, s.retryOf)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Settlement retry created",
		"settlement_id", child.ID.String(),
		"retry_of", id.String(),
		"status", string(child.Status))
	s.publish(ctx, child, "")
	return child, nil
}

func (s *Service) retryOf(parent *entities.SettlementTransaction) (*entities.SettlementTransaction, error) {
	if parent.Status != entities.SettlementStatusFailed || !parent.Retryable {
		return nil, domainerrors.ConflictError("settlement", fmt.Sprintf("status %s is not a retryable failure", parent.Status))
	}
	if parent.PayoutReference != nil {
		return nil, domainerrors.ConflictError("settlement", "a payout reference was already issued; reconcile or refund instead")
	}

	now := s.now().UTC()
	child := *parent
	child.ID = uuid.New()
	child.Rate, child.FiatGross, child.Fee, child.FiatAmount, child.FeeTierID = nil, nil, nil, nil, nil
	child.Attempts = 0
	child.Version = 0
	child.ClearError()
	child.CreatedAt = now
	child.UpdatedAt = now
	child.PayoutInitiatedAt, child.PayoutConfirmedAt = nil, nil

	if parent.SweptAt == nil {
		child.Status = entities.SettlementStatusPending
		child.TokenDetectedAt = nil
		child.SweptAmount, child.SweepMode, child.SweepTxHash = nil, nil, nil
		child.SwapTxHash, child.SwapProvider, child.ConvertedAmount = nil, nil, nil
		return &child, nil
	}

	child.Status = entities.SettlementStatusSwept
	if parent.ConvertedAmount == nil && parent.ErrorCode != nil && *parent.ErrorCode == domainerrors.CodeSwapFailed {
		child.SwapTxHash, child.SwapProvider = nil, nil
	}
	return &child, nil
}

// Replay drives one settlement as far as it can go: paused rows are resumed,
// retryable failures are retried as a new row, anything else is processed.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case tx.Status.IsPaused():
		return s.Resume(ctx, id)
	case tx.Status == entities.SettlementStatusFailed && tx.Retryable:
		child, err := s.Retry(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.Process(ctx, child.ID)
	default:
		return s.Process(ctx, id)
	}
}

// transition applies a guarded status change and reports it
func (s *Service) transition(
	ctx context.Context,
	tx *entities.SettlementTransaction,
	to entities.SettlementStatus,
	mutate repositories.SettlementMutator,
) (*entities.SettlementTransaction, error) {
	updated, err := s.repo.Transition(ctx, tx.ID, tx.Status, to, mutate)
	if err != nil {
		return updated, err
	}
	if tx.Status != to {
		metrics.SettlementTransitionsTotal.WithLabelValues(string(tx.Status), string(to)).Inc()
		s.logger.Info("Settlement transitioned",
			"settlement_id", tx.ID.String(),
			"from", string(tx.Status),
			"to", string(to))
		s.publish(ctx, updated, tx.Status)
	}
	return updated, nil
}

func (s *Service) publish(ctx context.Context, tx *entities.SettlementTransaction, from entities.SettlementStatus) {
	if s.events == nil {
		return
	}
	event := entities.SettlementEvent{
		SettlementID: tx.ID,
		UserRef:      tx.UserRef,
		From:         from,
		To:           tx.Status,
		OccurredAt:   s.now().UTC(),
	}
	if tx.ErrorCode != nil {
		event.ErrorCode = *tx.ErrorCode
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish settlement event",
			"settlement_id", tx.ID.String(),
			"to", string(tx.Status),
			"error", err)
	}
}

func (s *Service) notify(ctx context.Context, subject, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, subject, body); err != nil {
		s.logger.Warn("Failed to notify operators", "subject", subject, "error", err)
	}
}

// tokenOf rebuilds the deposited token from the row
func tokenOf(tx *entities.SettlementTransaction) entities.Token {
	return entities.Token{Symbol: tx.TokenSymbol, Address: tx.TokenAddress, Decimals: tx.TokenDecimals}
}

// needsSwap reports whether the deposit must be converted before payout
func (s *Service) needsSwap(tx *entities.SettlementTransaction) bool {
	return !strings.EqualFold(tx.TokenAddress, s.config.SettlementToken.Address)
}
