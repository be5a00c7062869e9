package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/settlement_service/internal/adapters/amm"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

var errNoPool = errors.New("no AMM pool for pair")

// PoolQuoter is the AMM router and factory read surface
type PoolQuoter interface {
	Address() common.Address
	Factory() common.Address
	GetPool(ctx context.Context, tokenA, tokenB common.Address, stable bool) (common.Address, error)
	GetAmountsOut(ctx context.Context, amountIn *big.Int, routes []amm.Route) ([]*big.Int, error)
	GetAmountsIn(ctx context.Context, amountOut *big.Int, routes []amm.Route) ([]*big.Int, error)
}

// AMMStrategy quotes the router directly. It prefers a single-hop pool and
// falls back to two hops through the wrapped native token.
type AMMStrategy struct {
	pools         PoolQuoter
	wrappedNative common.Address
	nativeTargets map[common.Address]bool
	deadline      time.Duration
	now           func() time.Time
}

// NewAMMStrategy creates the AMM layer. nativeTargets lists the tokens the
// router can buy with the native asset.
func NewAMMStrategy(pools PoolQuoter, wrappedNative common.Address, nativeTargets []string, deadline time.Duration) *AMMStrategy {
	targets := make(map[common.Address]bool, len(nativeTargets))
	for _, t := range nativeTargets {
		if common.IsHexAddress(t) {
			targets[common.HexToAddress(t)] = true
		}
	}
	if deadline <= 0 {
		deadline = 20 * time.Minute
	}
	return &AMMStrategy{
		pools:         pools,
		wrappedNative: wrappedNative,
		nativeTargets: targets,
		deadline:      deadline,
		now:           time.Now,
	}
}

func (s *AMMStrategy) Name() string { return string(entities.SwapLayerAMM) }

func (s *AMMStrategy) Skip(req RouteRequest) error {
	if req.SellToken.IsNative() {
		if req.Side != entities.SwapSideSell {
			return fmt.Errorf("%w: native buy-side swaps", domainerrors.ErrNotSupported)
		}
		if !s.nativeTargets[common.HexToAddress(req.BuyToken.Address)] {
			return fmt.Errorf("%w: AMM has no native route to %s", domainerrors.ErrNotSupported, req.BuyToken.Symbol)
		}
	}
	return nil
}

type candidate struct {
	routes []amm.Route
	amount *big.Int
}

func (s *AMMStrategy) Attempt(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error) {
	from := common.HexToAddress(req.SellToken.Address)
	if req.SellToken.IsNative() {
		from = s.wrappedNative
	}
	to := common.HexToAddress(req.BuyToken.Address)
	if from == to {
		return nil, fmt.Errorf("%w: sell and buy token are the same", domainerrors.ErrNotSupported)
	}

	best, err := s.bestRoute(ctx, req, s.singleHops(ctx, from, to))
	if errors.Is(err, errNoPool) && from != s.wrappedNative && to != s.wrappedNative {
		best, err = s.bestRoute(ctx, req, s.twoHops(ctx, from, to))
	}
	if err != nil {
		return nil, err
	}

	return s.build(req, best)
}

func (s *AMMStrategy) singleHops(ctx context.Context, from, to common.Address) [][]amm.Route {
	var paths [][]amm.Route
	for _, stable := range []bool{true, false} {
		if s.hasPool(ctx, from, to, stable) {
			paths = append(paths, []amm.Route{s.hop(from, to, stable)})
		}
	}
	return paths
}

// twoHops checks every stable/volatile combination through the wrapped native token
func (s *AMMStrategy) twoHops(ctx context.Context, from, to common.Address) [][]amm.Route {
	first := make(map[bool]bool, 2)
	second := make(map[bool]bool, 2)
	for _, stable := range []bool{true, false} {
		first[stable] = s.hasPool(ctx, from, s.wrappedNative, stable)
		second[stable] = s.hasPool(ctx, s.wrappedNative, to, stable)
	}

	var paths [][]amm.Route
	for _, a := range []bool{true, false} {
		for _, b := range []bool{true, false} {
			if first[a] && second[b] {
				paths = append(paths, []amm.Route{
					s.hop(from, s.wrappedNative, a),
					s.hop(s.wrappedNative, to, b),
				})
			}
		}
	}
	return paths
}

func (s *AMMStrategy) hasPool(ctx context.Context, a, b common.Address, stable bool) bool {
	pool, err := s.pools.GetPool(ctx, a, b, stable)
	return err == nil && pool != (common.Address{})
}

func (s *AMMStrategy) hop(from, to common.Address, stable bool) amm.Route {
	return amm.Route{From: from, To: to, Stable: stable, Factory: s.pools.Factory()}
}

// bestRoute quotes every path: the largest output on the sell side, the smallest input on the buy side
func (s *AMMStrategy) bestRoute(ctx context.Context, req RouteRequest, paths [][]amm.Route) (*candidate, error) {
	if len(paths) == 0 {
		return nil, errNoPool
	}

	var best *candidate
	var lastErr error
	for _, routes := range paths {
		var amounts []*big.Int
		var err error
		if req.Side == entities.SwapSideBuy {
			amounts, err = s.pools.GetAmountsIn(ctx, req.Amount, routes)
		} else {
			amounts, err = s.pools.GetAmountsOut(ctx, req.Amount, routes)
		}
		if err != nil {
			lastErr = err
			continue
		}

		var quoted *big.Int
		if req.Side == entities.SwapSideBuy {
			quoted = amounts[0]
		} else {
			quoted = amounts[len(amounts)-1]
		}
		if quoted == nil || quoted.Sign() <= 0 {
			continue
		}

		better := best == nil ||
			(req.Side == entities.SwapSideBuy && quoted.Cmp(best.amount) < 0) ||
			(req.Side != entities.SwapSideBuy && quoted.Cmp(best.amount) > 0)
		if better {
			best = &candidate{routes: routes, amount: quoted}
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, domainerrors.TransientRPCError("amm quote", lastErr)
		}
		return nil, fmt.Errorf("%w: every pool quoted zero", errNoPool)
	}
	return best, nil
}

func (s *AMMStrategy) build(req RouteRequest, best *candidate) (*entities.ExecutableSwap, error) {
	deadline := big.NewInt(s.now().Add(s.deadline).Unix())
	router := s.pools.Address()

	swap := &entities.ExecutableSwap{
		To:       router.Hex(),
		Value:    big.NewInt(0),
		Layer:    entities.SwapLayerAMM,
		Provider: providerName(best.routes),
	}

	var data []byte
	var err error
	switch {
	case req.Side == entities.SwapSideBuy:
		maxIn := percentOf(best.amount, 102)
		data, err = amm.PackSwapTokensForExactTokens(req.Amount, maxIn, best.routes, req.Taker, deadline)
		swap.ExpectedOutput = new(big.Int).Set(req.Amount)
		swap.MinOutput = new(big.Int).Set(req.Amount)
		swap.MaxInput = maxIn
		swap.Approval = &entities.ApprovalRequirement{Token: req.SellToken.Address, Spender: router.Hex(), Amount: maxIn}
	case req.SellToken.IsNative():
		minOut := percentOf(best.amount, 99)
		data, err = amm.PackSwapExactETHForTokens(minOut, best.routes, req.Taker, deadline)
		swap.Value = new(big.Int).Set(req.Amount)
		swap.ExpectedOutput = best.amount
		swap.MinOutput = minOut
	default:
		minOut := percentOf(best.amount, 99)
		data, err = amm.PackSwapExactTokensForTokens(req.Amount, minOut, best.routes, req.Taker, deadline)
		swap.ExpectedOutput = best.amount
		swap.MinOutput = minOut
		swap.Approval = &entities.ApprovalRequirement{Token: req.SellToken.Address, Spender: router.Hex(), Amount: new(big.Int).Set(req.Amount)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode AMM swap: %w", err)
	}
	swap.Data = data
	return swap, nil
}

// percentOf returns amount * pct / 100, rounded down
func percentOf(amount *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}

func providerName(routes []amm.Route) string {
	kinds := make([]string, 0, len(routes))
	for _, r := range routes {
		if r.Stable {
			kinds = append(kinds, "stable")
		} else {
			kinds = append(kinds, "volatile")
		}
	}
	return "amm:" + strings.Join(kinds, "+")
}
