package amm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdt    = common.HexToAddress("0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2")
	usdc    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	pool    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	router  = common.HexToAddress("0xcF77a3Ba9A5CA399B7c97c74d54e5b1Beb874E43")
	factory = common.HexToAddress("0x420DD381b31aEf6683db6B902084cB0FFECe40Da")
)

type fakeCaller struct {
	calls []ethereum.CallMsg
	err   error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}

	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, FactoryABI.Methods["getPool"].ID):
		args, err := FactoryABI.Methods["getPool"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		if args[2].(bool) {
			return FactoryABI.Methods["getPool"].Outputs.Pack(pool)
		}
		return FactoryABI.Methods["getPool"].Outputs.Pack(common.Address{})
	case bytes.Equal(selector, RouterABI.Methods["getAmountsOut"].ID):
		args, err := RouterABI.Methods["getAmountsOut"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		in := args[0].(*big.Int)
		out := new(big.Int).Div(new(big.Int).Mul(in, big.NewInt(997)), big.NewInt(1000))
		return RouterABI.Methods["getAmountsOut"].Outputs.Pack([]*big.Int{in, out})
	case bytes.Equal(selector, RouterABI.Methods["getAmountsIn"].ID):
		args, err := RouterABI.Methods["getAmountsIn"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		out := args[0].(*big.Int)
		in := new(big.Int).Div(new(big.Int).Mul(out, big.NewInt(1003)), big.NewInt(1000))
		return RouterABI.Methods["getAmountsIn"].Outputs.Pack([]*big.Int{in, out})
	}
	return nil, errors.New("unknown selector")
}

func TestRouter_GetPool(t *testing.T) {
	caller := &fakeCaller{}
	r := NewRouter(caller, router, factory)

	stablePool, err := r.GetPool(context.Background(), usdt, usdc, true)
	require.NoError(t, err)
	assert.Equal(t, pool, stablePool)

	volatilePool, err := r.GetPool(context.Background(), usdt, usdc, false)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, volatilePool)

	require.Len(t, caller.calls, 2)
	assert.Equal(t, factory, *caller.calls[0].To)
}

func TestRouter_GetAmounts(t *testing.T) {
	caller := &fakeCaller{}
	r := NewRouter(caller, router, factory)
	routes := []Route{{From: usdt, To: usdc, Stable: true, Factory: factory}}

	out, err := r.GetAmountsOut(context.Background(), big.NewInt(1_000_000), routes)
	require.NoError(t, err)
	assert.Equal(t, int64(997_000), out[1].Int64())

	in, err := r.GetAmountsIn(context.Background(), big.NewInt(1_000_000), routes)
	require.NoError(t, err)
	assert.Equal(t, int64(1_003_000), in[0].Int64())
	assert.Equal(t, router, *caller.calls[0].To)
}

func TestRouter_CallError(t *testing.T) {
	r := NewRouter(&fakeCaller{err: errors.New("execution reverted")}, router, factory)

	_, err := r.GetAmountsOut(context.Background(), big.NewInt(1), []Route{{From: usdt, To: usdc}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getAmountsOut call failed")
}

func TestPackSwaps(t *testing.T) {
	routes := []Route{
		{From: usdt, To: common.HexToAddress("0x4200000000000000000000000000000000000006"), Stable: false, Factory: factory},
		{From: common.HexToAddress("0x4200000000000000000000000000000000000006"), To: usdc, Stable: false, Factory: factory},
	}
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	deadline := big.NewInt(1_700_000_000)

	data, err := PackSwapExactTokensForTokens(big.NewInt(100), big.NewInt(99), routes, to, deadline)
	require.NoError(t, err)
	assert.Equal(t, RouterABI.Methods["swapExactTokensForTokens"].ID, data[:4])

	args, err := RouterABI.Methods["swapExactTokensForTokens"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(99), args[1].(*big.Int).Int64())
	assert.Equal(t, to, args[3].(common.Address))

	data, err = PackSwapExactETHForTokens(big.NewInt(99), routes[1:], to, deadline)
	require.NoError(t, err)
	assert.Equal(t, RouterABI.Methods["swapExactETHForTokens"].ID, data[:4])

	data, err = PackSwapTokensForExactTokens(big.NewInt(100), big.NewInt(102), routes, to, deadline)
	require.NoError(t, err)
	assert.Equal(t, RouterABI.Methods["swapTokensForExactTokens"].ID, data[:4])
}
