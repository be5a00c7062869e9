package swap

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rail-service/settlement_service/internal/adapters/aggregator"
	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// Chain is what the executor needs to send pool transactions
type Chain interface {
	AllowanceReader
	SendLegacy(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Submission is a swap that was sent but not yet confirmed. ExpectedOutput
// is nil when the submission is rebuilt from a persisted hash.
type Submission struct {
	TxHash         common.Hash
	Layer          entities.SwapLayer
	Provider       string
	ExpectedOutput *big.Int
}

// Result is a mined swap
type Result struct {
	TxHash   common.Hash
	Output   *big.Int
	Layer    entities.SwapLayer
	Provider string
}

// Executor sends routed swaps from the pool wallet
type Executor struct {
	chain  Chain
	key    *ecdsa.PrivateKey
	pool   common.Address
	logger *logger.Logger
}

func NewExecutor(c Chain, poolKey *ecdsa.PrivateKey, log *logger.Logger) *Executor {
	return &Executor{chain: c, key: poolKey, pool: chain.AddressOf(poolKey), logger: log}
}

// Pool returns the address swaps are sent from and paid to
func (e *Executor) Pool() common.Address {
	return e.pool
}

// Submit lands any required approval, signs the permit when there is one and
// sends the swap. The caller persists the hash before calling Await.
func (e *Executor) Submit(ctx context.Context, swap *entities.ExecutableSwap) (*Submission, error) {
	if swap.Approval != nil {
		if err := e.approve(ctx, swap.Approval); err != nil {
			return nil, err
		}
	}

	data := swap.Data
	if len(swap.PermitTypedData) > 0 {
		sig, err := aggregator.SignPermit(swap.PermitTypedData, e.key)
		if err != nil {
			return nil, domainerrors.SwapFailedError(err.Error())
		}
		data = aggregator.AppendSignature(data, sig)
	}

	value := swap.Value
	if value == nil {
		value = big.NewInt(0)
	}

	hash, err := e.chain.SendLegacy(ctx, e.key, common.HexToAddress(swap.To), value, data, swap.Gas)
	if err != nil {
		return nil, domainerrors.TransientRPCError("send swap", err)
	}
	e.logger.Info("Swap submitted",
		"tx_hash", hash.Hex(),
		"layer", string(swap.Layer),
		"provider", swap.Provider)

	return &Submission{
		TxHash:         hash,
		Layer:          swap.Layer,
		Provider:       swap.Provider,
		ExpectedOutput: swap.ExpectedOutput,
	}, nil
}

// Await waits for a submitted swap and reads what the pool received from the
// receipt. It never sends anything, so it is safe to call again after a failure.
func (e *Executor) Await(ctx context.Context, sub Submission, buyToken entities.Token) (*Result, error) {
	receipt, err := e.chain.WaitMined(ctx, sub.TxHash)
	if err != nil {
		return nil, domainerrors.TransientRPCError("wait swap", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, domainerrors.SwapFailedError(fmt.Sprintf("swap %s reverted", sub.TxHash.Hex()))
	}

	output := sub.ExpectedOutput
	if received := chain.TransferredTo(receipt, common.HexToAddress(buyToken.Address), e.pool); received != nil && received.Sign() > 0 {
		output = received
	}
	if output == nil || output.Sign() <= 0 {
		return nil, domainerrors.SwapFailedError(fmt.Sprintf("swap %s paid no %s to the pool", sub.TxHash.Hex(), buyToken.Symbol))
	}

	return &Result{TxHash: sub.TxHash, Output: output, Layer: sub.Layer, Provider: sub.Provider}, nil
}

func (e *Executor) approve(ctx context.Context, req *entities.ApprovalRequirement) error {
	token := common.HexToAddress(req.Token)
	spender := common.HexToAddress(req.Spender)

	current, err := e.chain.Allowance(ctx, token, e.pool, spender)
	if err != nil {
		return domainerrors.TransientRPCError("allowance", err)
	}
	if current.Cmp(req.Amount) >= 0 {
		return nil
	}

	data, err := chain.PackApprove(spender, req.Amount)
	if err != nil {
		return fmt.Errorf("failed to pack approve: %w", err)
	}
	hash, err := e.chain.SendLegacy(ctx, e.key, token, big.NewInt(0), data, 0)
	if err != nil {
		return domainerrors.TransientRPCError("send approve", err)
	}
	receipt, err := e.chain.WaitMined(ctx, hash)
	if err != nil {
		return domainerrors.TransientRPCError("wait approve", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domainerrors.SwapFailedError(fmt.Sprintf("approve %s reverted", hash.Hex()))
	}

	e.logger.Info("Approval landed",
		"token", req.Token,
		"spender", req.Spender,
		"amount", req.Amount.String(),
		"tx_hash", hash.Hex())
	return nil
}
