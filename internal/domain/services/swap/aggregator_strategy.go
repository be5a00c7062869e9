package swap

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rail-service/settlement_service/internal/adapters/aggregator"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

// QuoteClient is the aggregator API
type QuoteClient interface {
	PermitQuote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error)
	AllowanceQuote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error)
}

// AllowanceReader reads ERC-20 allowances
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// PermitStrategy executes through a signed permit so no approve transaction is needed
type PermitStrategy struct {
	client      QuoteClient
	slippageBps int
}

func NewPermitStrategy(client QuoteClient, slippageBps int) *PermitStrategy {
	return &PermitStrategy{client: client, slippageBps: slippageBps}
}

func (s *PermitStrategy) Name() string { return string(entities.SwapLayerPermit) }

func (s *PermitStrategy) Skip(req RouteRequest) error {
	if req.Side != entities.SwapSideSell {
		return fmt.Errorf("%w: permit quotes are sell-side only", domainerrors.ErrNotSupported)
	}
	if req.SellToken.IsNative() {
		return fmt.Errorf("%w: native asset cannot be permitted", domainerrors.ErrNotSupported)
	}
	return nil
}

func (s *PermitStrategy) Attempt(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error) {
	quote, err := s.client.PermitQuote(ctx, quoteRequest(req, s.slippageBps))
	if err != nil {
		return nil, err
	}
	if !quote.HasPermit() {
		return nil, fmt.Errorf("%w: quote carries no permit structure", domainerrors.ErrNotSupported)
	}

	swap, err := fromQuote(quote, entities.SwapLayerPermit)
	if err != nil {
		return nil, err
	}
	swap.PermitTypedData = quote.Permit2.EIP712
	// the permit contract itself still needs a one-time approval
	if quote.Issues.Allowance != nil && common.IsHexAddress(quote.Issues.Allowance.Spender) {
		swap.Approval = &entities.ApprovalRequirement{
			Token:   req.SellToken.Address,
			Spender: quote.Issues.Allowance.Spender,
			Amount:  new(big.Int).Set(req.Amount),
		}
	}
	return swap, nil
}

// AggregatorStrategy executes through a plain allowance on the aggregator's spender
type AggregatorStrategy struct {
	client      QuoteClient
	allowances  AllowanceReader
	slippageBps int
}

func NewAggregatorStrategy(client QuoteClient, allowances AllowanceReader, slippageBps int) *AggregatorStrategy {
	return &AggregatorStrategy{client: client, allowances: allowances, slippageBps: slippageBps}
}

func (s *AggregatorStrategy) Name() string { return string(entities.SwapLayerAggregator) }

func (s *AggregatorStrategy) Skip(req RouteRequest) error {
	if req.Side != entities.SwapSideSell {
		return fmt.Errorf("%w: aggregator quotes are sell-side only", domainerrors.ErrNotSupported)
	}
	return nil
}

func (s *AggregatorStrategy) Attempt(ctx context.Context, req RouteRequest) (*entities.ExecutableSwap, error) {
	quote, err := s.client.AllowanceQuote(ctx, quoteRequest(req, s.slippageBps))
	if err != nil {
		return nil, err
	}

	swap, err := fromQuote(quote, entities.SwapLayerAggregator)
	if err != nil {
		return nil, err
	}
	if req.SellToken.IsNative() {
		return swap, nil
	}

	spender := quote.Transaction.To
	if quote.Issues.Allowance != nil && common.IsHexAddress(quote.Issues.Allowance.Spender) {
		spender = quote.Issues.Allowance.Spender
	}
	current, err := s.allowances.Allowance(ctx,
		common.HexToAddress(req.SellToken.Address), req.Taker, common.HexToAddress(spender))
	if err != nil {
		return nil, domainerrors.TransientRPCError("allowance", err)
	}
	if current.Cmp(req.Amount) < 0 {
		swap.Approval = &entities.ApprovalRequirement{
			Token:   req.SellToken.Address,
			Spender: spender,
			Amount:  new(big.Int).Set(req.Amount),
		}
	}
	return swap, nil
}

func quoteRequest(req RouteRequest, slippageBps int) aggregator.QuoteRequest {
	return aggregator.QuoteRequest{
		SellToken:   req.SellToken.Address,
		BuyToken:    req.BuyToken.Address,
		SellAmount:  req.Amount.String(),
		Taker:       req.Taker.Hex(),
		SlippageBps: slippageBps,
	}
}

func fromQuote(quote *aggregator.Quote, layer entities.SwapLayer) (*entities.ExecutableSwap, error) {
	data, err := hexutil.Decode(ensureHexPrefix(quote.Transaction.Data))
	if err != nil {
		return nil, fmt.Errorf("invalid quote calldata: %w", err)
	}
	expected, ok := new(big.Int).SetString(quote.BuyAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quote buy amount %q", quote.BuyAmount)
	}
	minimum, ok := new(big.Int).SetString(quote.MinBuyAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quote min buy amount %q", quote.MinBuyAmount)
	}

	value := big.NewInt(0)
	if quote.Transaction.Value != "" {
		if v, ok := new(big.Int).SetString(quote.Transaction.Value, 10); ok {
			value = v
		}
	}
	var gas uint64
	if quote.Transaction.Gas != "" {
		if g, err := strconv.ParseUint(quote.Transaction.Gas, 10, 64); err == nil {
			gas = g
		}
	}

	return &entities.ExecutableSwap{
		To:             quote.Transaction.To,
		Data:           data,
		Value:          value,
		Gas:            gas,
		ExpectedOutput: expected,
		MinOutput:      minimum,
		Layer:          layer,
		Provider:       quote.Source(),
	}, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
