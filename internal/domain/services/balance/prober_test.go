package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

var usdc = entities.Token{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}

const custody = "0x00000000000000000000000000000000000000c3"

type scriptedReader struct {
	errs    []error
	balance *big.Int
	calls   int
	token   common.Address
}

func (r *scriptedReader) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	r.calls++
	r.token = token
	if r.calls <= len(r.errs) {
		return nil, r.errs[r.calls-1]
	}
	return r.balance, nil
}

func newProber(reader Reader) *Prober {
	return NewProber(reader, retry.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, logger.NewNop())
}

func TestProbe_RetriesRateLimited(t *testing.T) {
	reader := &scriptedReader{
		errs:    []error{errors.New("429 Too Many Requests"), errors.New("too many requests")},
		balance: big.NewInt(2_500_000),
	}

	balance, err := newProber(reader).Probe(context.Background(), custody, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), balance.Int64())
	assert.Equal(t, 3, reader.calls)
	assert.Equal(t, common.HexToAddress(usdc.Address), reader.token)
}

func TestProbe_GivesUpAfterThreeAttempts(t *testing.T) {
	limited := errors.New("429 Too Many Requests")
	reader := &scriptedReader{errs: []error{limited, limited, limited, limited}}

	_, err := newProber(reader).Probe(context.Background(), custody, usdc)
	assert.ErrorIs(t, err, domainerrors.ErrTransientRPC)
	assert.True(t, domainerrors.IsRetryable(err))
	assert.Equal(t, 3, reader.calls)
}

func TestProbe_OtherErrorsReturnImmediately(t *testing.T) {
	reader := &scriptedReader{errs: []error{errors.New("execution reverted")}}

	_, err := newProber(reader).Probe(context.Background(), custody, usdc)
	assert.ErrorIs(t, err, domainerrors.ErrTransientRPC)
	assert.Equal(t, 1, reader.calls)
}

func TestProbe_ReaderThatAlreadyRetriedIsNotRetried(t *testing.T) {
	exhausted := errors.Join(retry.ErrMaxRetriesExceeded, errors.New("429 Too Many Requests"))
	reader := &scriptedReader{errs: []error{exhausted}}

	_, err := newProber(reader).Probe(context.Background(), custody, usdc)
	assert.Error(t, err)
	assert.Equal(t, 1, reader.calls)
}

func TestProbe_RejectsBadInput(t *testing.T) {
	reader := &scriptedReader{balance: big.NewInt(1)}
	p := newProber(reader)

	_, err := p.Probe(context.Background(), "not-an-address", usdc)
	assert.True(t, domainerrors.IsInvalidInput(err))

	_, err = p.Probe(context.Background(), custody, entities.Token{Symbol: "XYZ"})
	assert.True(t, domainerrors.IsInvalidInput(err))
	assert.Zero(t, reader.calls)
}

func TestProbe_Native(t *testing.T) {
	reader := &scriptedReader{balance: big.NewInt(1)}
	eth := entities.Token{Symbol: "ETH", Address: entities.NativeTokenAddress, Decimals: 18}

	_, err := newProber(reader).Probe(context.Background(), custody, eth)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(entities.NativeTokenAddress), reader.token)
}

func TestProbeDecimal(t *testing.T) {
	reader := &scriptedReader{balance: big.NewInt(100_000_000)}

	amount, raw, err := newProber(reader).ProbeDecimal(context.Background(), custody, usdc)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(100_000_000), raw.Int64())
}
