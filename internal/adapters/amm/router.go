package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
)

const routeTuple = `{"name":"routes","type":"tuple[]","components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"stable","type":"bool"},{"name":"factory","type":"address"}]}`

const routerJSON = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},` + routeTuple + `],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"getAmountsIn","type":"function","stateMutability":"view","inputs":[{"name":"amountOut","type":"uint256"},` + routeTuple + `],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},` + routeTuple + `,{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},` + routeTuple + `,{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapTokensForExactTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountOut","type":"uint256"},{"name":"amountInMax","type":"uint256"},` + routeTuple + `,{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const factoryJSON = `[
	{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"stable","type":"bool"}],"outputs":[{"name":"pool","type":"address"}]}
]`

var (
	RouterABI  = chain.MustParseABI(routerJSON)
	FactoryABI = chain.MustParseABI(factoryJSON)
)

// Route is one hop through a stable or volatile pool
type Route struct {
	From    common.Address
	To      common.Address
	Stable  bool
	Factory common.Address
}

// Caller runs read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Router binds an AMM router and its pool factory
type Router struct {
	caller  Caller
	router  common.Address
	factory common.Address
}

// NewRouter creates AMM bindings over caller
func NewRouter(caller Caller, router, factory common.Address) *Router {
	return &Router{caller: caller, router: router, factory: factory}
}

// Address returns the router contract address
func (r *Router) Address() common.Address {
	return r.router
}

// Factory returns the pool factory address
func (r *Router) Factory() common.Address {
	return r.factory
}

// GetPool returns the pool for the pair, or the zero address when none exists
func (r *Router) GetPool(ctx context.Context, tokenA, tokenB common.Address, stable bool) (common.Address, error) {
	data, err := FactoryABI.Pack("getPool", tokenA, tokenB, stable)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getPool: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.factory, Data: data})
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool call failed: %w", err)
	}
	values, err := FactoryABI.Unpack("getPool", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getPool: %w", err)
	}
	pool, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPool result type %T", values[0])
	}
	return pool, nil
}

// GetAmountsOut quotes the output of every hop for a fixed input
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, routes []Route) ([]*big.Int, error) {
	return r.amounts(ctx, "getAmountsOut", amountIn, routes)
}

// GetAmountsIn quotes the input of every hop for a fixed output
func (r *Router) GetAmountsIn(ctx context.Context, amountOut *big.Int, routes []Route) ([]*big.Int, error) {
	return r.amounts(ctx, "getAmountsIn", amountOut, routes)
}

func (r *Router) amounts(ctx context.Context, method string, amount *big.Int, routes []Route) ([]*big.Int, error) {
	data, err := RouterABI.Pack(method, amount, routes)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	values, err := RouterABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) != len(routes)+1 {
		return nil, fmt.Errorf("unexpected %s result", method)
	}
	return amounts, nil
}

// PackSwapExactTokensForTokens encodes a fixed-input token swap
func PackSwapExactTokensForTokens(amountIn, amountOutMin *big.Int, routes []Route, to common.Address, deadline *big.Int) ([]byte, error) {
	return RouterABI.Pack("swapExactTokensForTokens", amountIn, amountOutMin, routes, to, deadline)
}

// PackSwapExactETHForTokens encodes a fixed-input native swap; the input travels as value
func PackSwapExactETHForTokens(amountOutMin *big.Int, routes []Route, to common.Address, deadline *big.Int) ([]byte, error) {
	return RouterABI.Pack("swapExactETHForTokens", amountOutMin, routes, to, deadline)
}

// PackSwapTokensForExactTokens encodes a fixed-output token swap
func PackSwapTokensForExactTokens(amountOut, amountInMax *big.Int, routes []Route, to common.Address, deadline *big.Int) ([]byte, error) {
	return RouterABI.Pack("swapTokensForExactTokens", amountOut, amountInMax, routes, to, deadline)
}
