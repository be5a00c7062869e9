package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

// Reader reads a token balance from the chain
type Reader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Prober reads custody balances. It never writes.
type Prober struct {
	reader Reader
	retry  retry.RetryConfig
	logger *logger.Logger
}

// NewProber creates a prober that retries rate-limited reads with the given schedule
func NewProber(reader Reader, retryConfig retry.RetryConfig, log *logger.Logger) *Prober {
	if retryConfig.MaxAttempts == 0 {
		retryConfig = retry.DefaultRetryConfig()
	}
	return &Prober{reader: reader, retry: retryConfig, logger: log}
}

// Probe returns the base-unit balance of token held by address
func (p *Prober) Probe(ctx context.Context, address string, token entities.Token) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, domainerrors.ValidationError("address", fmt.Sprintf("%q is not an address", address))
	}
	if !common.IsHexAddress(token.Address) {
		return nil, domainerrors.ValidationError("token", fmt.Sprintf("%s has no contract address", token.Symbol))
	}

	owner := common.HexToAddress(address)
	contract := common.HexToAddress(token.Address)

	start := time.Now()
	var balance *big.Int
	err := retry.WithExponentialBackoff(ctx, p.retry, func() error {
		b, err := p.reader.TokenBalance(ctx, contract, owner)
		if err != nil {
			return err
		}
		balance = b
		return nil
	}, isRetryable)
	if err != nil {
		p.logger.Warn("Balance probe failed",
			"address", address,
			"token", token.Symbol,
			"error", err)
		return nil, domainerrors.TransientRPCError("balanceOf", err)
	}

	p.logger.Debug("Balance probed",
		"address", address,
		"token", token.Symbol,
		"balance", balance.String(),
		"elapsed", time.Since(start).String())
	return balance, nil
}

// ProbeDecimal is Probe scaled by the token's decimals
func (p *Prober) ProbeDecimal(ctx context.Context, address string, token entities.Token) (decimal.Decimal, *big.Int, error) {
	balance, err := p.Probe(ctx, address, token)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return entities.ToDecimal(balance, token.Decimals), balance, nil
}

// isRetryable is true for throttling only. A reader that already ran its own
// retries and gave up is not retried again.
func isRetryable(err error) bool {
	return chain.IsRateLimited(err) && !errors.Is(err, retry.ErrMaxRetriesExceeded)
}
