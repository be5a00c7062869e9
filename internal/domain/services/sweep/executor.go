package sweep

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
)

// Sweep modes accepted in configuration
const (
	ModeAuto      = "auto"
	ModeSponsored = "sponsored"
	ModeFunded    = "funded"
)

// Request describes the custody funds to move into the pool
type Request struct {
	Custody  *entities.CustodyAddress
	OwnerKey *ecdsa.PrivateKey
	Token    entities.Token
}

// Submission is a broadcast sweep. Hash is the user operation hash for
// sponsored sweeps and the transaction hash for funded ones.
type Submission struct {
	Hash   common.Hash
	Amount *big.Int
	Mode   entities.SweepMode
}

// Result is a mined sweep
type Result struct {
	Submission
	TxHash common.Hash
}

// Sweeper moves a custody balance to the pool in one mode
type Sweeper interface {
	Mode() entities.SweepMode
	Submit(ctx context.Context, req Request, amount *big.Int) (common.Hash, error)
	Await(ctx context.Context, hash common.Hash) (common.Hash, error)
}

// BalanceProber reads the custody balance just before sweeping
type BalanceProber interface {
	Probe(ctx context.Context, address string, token entities.Token) (*big.Int, error)
}

// Config holds sweep settings
type Config struct {
	Mode           string
	MinAmount      decimal.Decimal
	FundedFallback bool
}

// Executor picks a sweeper per custody address and enforces the dust floor
type Executor struct {
	prober    BalanceProber
	sponsored Sweeper
	funded    Sweeper
	config    Config
	logger    *logger.Logger
}

// NewExecutor creates an executor. Either sweeper may be nil when its mode is not deployed.
func NewExecutor(prober BalanceProber, sponsored, funded Sweeper, config Config, log *logger.Logger) *Executor {
	if config.Mode == "" {
		config.Mode = ModeAuto
	}
	return &Executor{
		prober:    prober,
		sponsored: sponsored,
		funded:    funded,
		config:    config,
		logger:    log,
	}
}

// Sweep submits and waits for the sweep
func (e *Executor) Sweep(ctx context.Context, req Request) (*Result, error) {
	sub, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Await(ctx, *sub)
}

// Submit reads the balance, rejects dust and broadcasts the sweep. The caller
// persists the returned hash before awaiting it.
func (e *Executor) Submit(ctx context.Context, req Request) (*Submission, error) {
	balance, err := e.prober.Probe(ctx, req.Custody.Address, req.Token)
	if err != nil {
		return nil, err
	}

	available := entities.ToDecimal(balance, req.Token.Decimals)
	if balance.Sign() <= 0 || available.LessThan(e.config.MinAmount) {
		metrics.SweepsTotal.WithLabelValues("none", "dust").Inc()
		return nil, domainerrors.InsufficientBalanceError(available.String(), e.config.MinAmount.String())
	}

	chain := e.sweepers(req.Custody)
	if len(chain) == 0 {
		return nil, domainerrors.SweepFailedError(fmt.Sprintf("no sweep mode available for %s custody", req.Custody.Strategy))
	}

	var lastErr error
	for i, sweeper := range chain {
		hash, err := sweeper.Submit(ctx, req, balance)
		if err == nil {
			e.logger.Info("Sweep submitted",
				"custody", req.Custody.Address,
				"token", req.Token.Symbol,
				"amount", available.String(),
				"mode", string(sweeper.Mode()),
				"hash", hash.Hex())
			return &Submission{Hash: hash, Amount: balance, Mode: sweeper.Mode()}, nil
		}

		lastErr = err
		metrics.SweepsTotal.WithLabelValues(string(sweeper.Mode()), "submit_failed").Inc()
		if i < len(chain)-1 && errors.Is(err, domainerrors.ErrSponsorshipUnavailable) {
			e.logger.Warn("Sponsorship unavailable, falling back to funded sweep",
				"custody", req.Custody.Address,
				"error", err)
			continue
		}
		break
	}
	return nil, lastErr
}

// Await waits for a submitted sweep to land
func (e *Executor) Await(ctx context.Context, sub Submission) (*Result, error) {
	sweeper := e.sponsored
	if sub.Mode == entities.SweepModeFunded {
		sweeper = e.funded
	}
	if sweeper == nil {
		return nil, domainerrors.SweepFailedError(fmt.Sprintf("%s sweeper is not configured", sub.Mode))
	}

	txHash, err := sweeper.Await(ctx, sub.Hash)
	if err != nil {
		metrics.SweepsTotal.WithLabelValues(string(sub.Mode), "failed").Inc()
		return nil, err
	}

	metrics.SweepsTotal.WithLabelValues(string(sub.Mode), "success").Inc()
	return &Result{Submission: sub, TxHash: txHash}, nil
}

// sweepers orders the modes to try. Plain EOAs can only be swept funded.
func (e *Executor) sweepers(custody *entities.CustodyAddress) []Sweeper {
	var out []Sweeper
	smart := custody.Strategy == entities.DerivationStrategySmartAccount

	if smart && e.sponsored != nil && e.config.Mode != ModeFunded {
		out = append(out, e.sponsored)
		if e.config.Mode == ModeSponsored && !e.config.FundedFallback {
			return out
		}
	}
	if e.funded != nil && (e.config.Mode != ModeSponsored || e.config.FundedFallback || !smart) {
		out = append(out, e.funded)
	}
	return out
}
