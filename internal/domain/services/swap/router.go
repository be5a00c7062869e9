package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
)

// RouteRequest asks for an executable swap. Amount is the sell amount on the
// sell side and the exact output on the buy side, in base units.
type RouteRequest struct {
	SellToken entities.Token
	BuyToken  entities.Token
	Amount    *big.Int
	Taker     common.Address
	Side      entities.SwapSide
}

// Strategy is one layer of the routing cascade
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error)
}

// Skipper is implemented by strategies that can rule themselves out without any call
type Skipper interface {
	Skip(req RouteRequest) error
}

// Fallback runs strategies in order and returns the first success
type Fallback struct {
	strategies []Strategy
	logger     *logger.Logger
}

func NewFallback(log *logger.Logger, strategies ...Strategy) *Fallback {
	return &Fallback{strategies: strategies, logger: log}
}

// Run tries each strategy once. When all fail the error lists every reason.
func (f *Fallback) Run(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error) {
	reasons := make(map[string]error, len(f.strategies))
	order := make([]string, 0, len(f.strategies))

	for _, strategy := range f.strategies {
		name := strategy.Name()
		order = append(order, name)

		if skipper, ok := strategy.(Skipper); ok {
			if err := skipper.Skip(req); err != nil {
				reasons[name] = err
				metrics.SwapLayerAttempts.WithLabelValues(name, "skipped").Inc()
				f.logger.Debug("Swap layer skipped", "layer", name, "reason", err)
				continue
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		swap, err := strategy.Attempt(ctx, req)
		if err != nil {
			reasons[name] = err
			metrics.SwapLayerAttempts.WithLabelValues(name, "failure").Inc()
			f.logger.Info("Swap layer failed",
				"layer", name,
				"sell_token", req.SellToken.Symbol,
				"buy_token", req.BuyToken.Symbol,
				"elapsed", time.Since(start).String(),
				"error", err)
			continue
		}

		metrics.SwapLayerAttempts.WithLabelValues(name, "success").Inc()
		f.logger.Info("Swap route found",
			"layer", name,
			"provider", swap.Provider,
			"sell_token", req.SellToken.Symbol,
			"buy_token", req.BuyToken.Symbol,
			"expected_output", swap.ExpectedOutput.String())
		return swap, nil
	}

	return nil, domainerrors.NoRouteFoundError(reasons, order)
}

// Router picks a swap through the permit, aggregator and AMM layers in that
// order, unless the sell/buy pair is pinned to one layer.
type Router struct {
	layers  map[entities.SwapLayer]Strategy
	cascade *Fallback
	routing map[string]entities.SwapLayer
	logger  *logger.Logger
}

// NewRouter builds the cascade. routing maps a "SELL/BUY" symbol pair to the
// only layer that pair may use; the reverse direction is not pinned.
func NewRouter(permit, aggregator, amm Strategy, routing map[string]string, log *logger.Logger) (*Router, error) {
	layers := map[entities.SwapLayer]Strategy{
		entities.SwapLayerPermit:     permit,
		entities.SwapLayerAggregator: aggregator,
		entities.SwapLayerAMM:        amm,
	}

	pinned := make(map[string]entities.SwapLayer, len(routing))
	for pair, layer := range routing {
		sell, buy, ok := strings.Cut(pair, "/")
		if !ok || sell == "" || buy == "" {
			return nil, fmt.Errorf("swap routing key %q must be a SELL/BUY pair", pair)
		}
		l := entities.SwapLayer(strings.ToLower(layer))
		if _, ok := layers[l]; !ok {
			return nil, fmt.Errorf("unknown swap layer %q for %s", layer, pair)
		}
		pinned[pairKey(sell, buy)] = l
	}

	return &Router{
		layers:  layers,
		cascade: NewFallback(log, permit, aggregator, amm),
		routing: pinned,
		logger:  log,
	}, nil
}

// Route returns an executable swap for req
func (r *Router) Route(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, domainerrors.ValidationError("amount", "swap amount must be positive")
	}
	if req.Side == "" {
		req.Side = entities.SwapSideSell
	}

	if layer, ok := r.routing[pairKey(req.SellToken.Symbol, req.BuyToken.Symbol)]; ok {
		r.logger.Debug("Using pinned swap layer",
			"sell_token", req.SellToken.Symbol,
			"buy_token", req.BuyToken.Symbol,
			"layer", string(layer))
		return NewFallback(r.logger, r.layers[layer]).Run(ctx, req)
	}
	return r.cascade.Run(ctx, req)
}

func pairKey(sell, buy string) string {
	return strings.ToUpper(strings.TrimSpace(sell)) + "/" + strings.ToUpper(strings.TrimSpace(buy))
}
