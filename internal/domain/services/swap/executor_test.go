package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

type sentTx struct {
	to    common.Address
	value *big.Int
	data  []byte
}

type fakeChain struct {
	allowance *big.Int
	sent      []sentTx
	status    uint64
	logs      []*types.Log
	waitErrs  []error
	waits     int
}

func (f *fakeChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeChain) SendLegacy(_ context.Context, _ *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, _ uint64) (common.Hash, error) {
	f.sent = append(f.sent, sentTx{to: to, value: value, data: data})
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeChain) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.waits++
	if len(f.waitErrs) > 0 {
		err := f.waitErrs[0]
		f.waitErrs = f.waitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.Receipt{Status: f.status, TxHash: hash, Logs: f.logs}, nil
}

func execute(t *testing.T, e *Executor, swap *entities.ExecutableSwap) (*Result, error) {
	t.Helper()
	sub, err := e.Submit(context.Background(), swap)
	if err != nil {
		return nil, err
	}
	return e.Await(context.Background(), *sub, usdc)
}

func newExecutor(t *testing.T, c *fakeChain) *Executor {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewExecutor(c, key, logger.NewNop())
}

func transferLog(token, to common.Address, amount int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			chain.ERC20ABI.Events["Transfer"].ID,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

func TestExecutor_ApprovesThenSwaps(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(0), status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, c)
	c.logs = []*types.Log{transferLog(common.HexToAddress(usdc.Address), e.Pool(), 997_500)}

	swap := &entities.ExecutableSwap{
		To:             settlementContract,
		Data:           []byte{0x01, 0x02},
		ExpectedOutput: big.NewInt(998_000),
		Layer:          entities.SwapLayerAggregator,
		Provider:       "Uniswap_V3",
		Approval:       &entities.ApprovalRequirement{Token: usdt.Address, Spender: settlementContract, Amount: big.NewInt(1_000_000)},
	}

	result, err := execute(t, e, swap)
	require.NoError(t, err)
	require.Len(t, c.sent, 2)
	assert.Equal(t, common.HexToAddress(usdt.Address), c.sent[0].to)
	assert.Equal(t, chain.ERC20ABI.Methods["approve"].ID, c.sent[0].data[:4])
	assert.Equal(t, common.HexToAddress(settlementContract), c.sent[1].to)
	assert.Equal(t, int64(997_500), result.Output.Int64(), "actual received amount wins over the quote")
	assert.Equal(t, entities.SwapLayerAggregator, result.Layer)
}

func TestExecutor_SkipsApprovalWhenCovered(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(5_000_000), status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, c)

	swap := &entities.ExecutableSwap{
		To:             settlementContract,
		ExpectedOutput: big.NewInt(998_000),
		Approval:       &entities.ApprovalRequirement{Token: usdt.Address, Spender: settlementContract, Amount: big.NewInt(1_000_000)},
	}

	result, err := execute(t, e, swap)
	require.NoError(t, err)
	assert.Len(t, c.sent, 1)
	assert.Equal(t, int64(998_000), result.Output.Int64())
}

func TestExecutor_RevertIsSwapFailure(t *testing.T) {
	c := &fakeChain{status: types.ReceiptStatusFailed}
	e := newExecutor(t, c)

	_, err := execute(t, e, &entities.ExecutableSwap{To: settlementContract, ExpectedOutput: big.NewInt(1)})
	assert.ErrorIs(t, err, domainerrors.ErrSwapFailed)
}

func TestExecutor_AwaitFailureDoesNotResend(t *testing.T) {
	c := &fakeChain{status: types.ReceiptStatusSuccessful, waitErrs: []error{errors.New("rpc timeout")}}
	e := newExecutor(t, c)
	c.logs = []*types.Log{transferLog(common.HexToAddress(usdc.Address), e.Pool(), 997_500)}

	sub, err := e.Submit(context.Background(), &entities.ExecutableSwap{To: settlementContract, ExpectedOutput: big.NewInt(998_000)})
	require.NoError(t, err)
	require.Len(t, c.sent, 1)

	_, err = e.Await(context.Background(), *sub, usdc)
	require.ErrorIs(t, err, domainerrors.ErrTransientRPC)

	// a rebuilt submission carries only the persisted hash
	result, err := e.Await(context.Background(), Submission{TxHash: sub.TxHash}, usdc)
	require.NoError(t, err)
	assert.Len(t, c.sent, 1)
	assert.Equal(t, 2, c.waits)
	assert.Equal(t, int64(997_500), result.Output.Int64())
}

func TestExecutor_AwaitWithoutOutputFails(t *testing.T) {
	c := &fakeChain{status: types.ReceiptStatusSuccessful}
	e := newExecutor(t, c)

	_, err := e.Await(context.Background(), Submission{TxHash: common.HexToHash("0x5a9")}, usdc)
	assert.ErrorIs(t, err, domainerrors.ErrSwapFailed)
}
