package sweep

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rail-service/settlement_service/internal/adapters/bundler"
	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// Bundler is the ERC-4337 bundler and paymaster surface
type Bundler interface {
	EntryPoint() common.Address
	EstimateGas(ctx context.Context, op *bundler.UserOperation) (*bundler.GasEstimate, error)
	Sponsor(ctx context.Context, op *bundler.UserOperation) (*bundler.Sponsorship, error)
	Send(ctx context.Context, op *bundler.UserOperation) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*bundler.Receipt, error)
}

// AccountChain is the chain surface a sponsored sweep reads
type AccountChain interface {
	chain.ContractCaller
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	FeeData(ctx context.Context) (maxFee, maxPriorityFee *big.Int, err error)
	ChainID() *big.Int
}

// SponsoredSweeper moves funds with a paymaster-sponsored user operation
// sent from the custody smart account.
type SponsoredSweeper struct {
	bundler       Bundler
	chain         AccountChain
	factory       common.Address
	pool          common.Address
	paymasterStub []byte
	logger        *logger.Logger
}

// NewSponsoredSweeper builds a sweeper. paymasterStub stands in for the
// sponsor's paymasterAndData while gas is estimated, so verification gas
// covers the paymaster's validation.
func NewSponsoredSweeper(b Bundler, c AccountChain, factory, pool common.Address, paymasterStub []byte, log *logger.Logger) *SponsoredSweeper {
	return &SponsoredSweeper{bundler: b, chain: c, factory: factory, pool: pool, paymasterStub: paymasterStub, logger: log}
}

func (s *SponsoredSweeper) Mode() entities.SweepMode { return entities.SweepModeSponsored }

// Submit builds, sponsors, signs and sends the user operation
func (s *SponsoredSweeper) Submit(ctx context.Context, req Request, amount *big.Int) (common.Hash, error) {
	if req.OwnerKey == nil {
		return common.Hash{}, domainerrors.SweepFailedError("missing owner credential")
	}
	sender := common.HexToAddress(req.Custody.Address)
	owner := crypto.PubkeyToAddress(req.OwnerKey.PublicKey)
	entryPoint := s.bundler.EntryPoint()

	callData, err := transferCall(req.Token, s.pool, amount)
	if err != nil {
		return common.Hash{}, err
	}

	initCode, err := s.initCode(ctx, sender, owner, req.Custody.AccountNonce)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := chain.AccountNonce(ctx, s.chain, entryPoint, sender)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("entrypoint getNonce", err)
	}
	maxFee, tip, err := s.chain.FeeData(ctx)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("fee data", err)
	}

	op := &bundler.UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		PaymasterAndData:     s.paymasterStub,
		Signature:            bundler.DummySignature(),
	}

	estimate, err := s.bundler.EstimateGas(ctx, op)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("estimate user operation", err)
	}
	estimate.Apply(op)

	sponsorship, err := s.bundler.Sponsor(ctx, op)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", domainerrors.ErrSponsorshipUnavailable, err)
	}
	sponsorship.Apply(op)

	if err := op.Sign(req.OwnerKey, entryPoint, s.chain.ChainID()); err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign user operation: %w", err)
	}

	hash, err := s.bundler.Send(ctx, op)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("send user operation", err)
	}
	return hash, nil
}

// Await waits for the bundle carrying the operation and returns its transaction hash
func (s *SponsoredSweeper) Await(ctx context.Context, hash common.Hash) (common.Hash, error) {
	receipt, err := s.bundler.WaitReceipt(ctx, hash)
	if err != nil {
		// includes bundler.ErrReceiptTimeout; the hash is persisted so awaiting again is safe
		return common.Hash{}, domainerrors.TransientRPCError("user operation receipt", err)
	}
	if !receipt.Success {
		reason := receipt.Reason
		if reason == "" {
			reason = "user operation reverted"
		}
		return common.Hash{}, domainerrors.SweepFailedError(reason)
	}

	s.logger.Info("Sponsored sweep included",
		"user_op_hash", hash.Hex(),
		"tx_hash", receipt.Receipt.TransactionHash.Hex())
	return receipt.Receipt.TransactionHash, nil
}

// initCode deploys the account with the first sweep. The factory must still
// map owner and the pinned salt to the custody address.
func (s *SponsoredSweeper) initCode(ctx context.Context, sender, owner common.Address, pinned *int64) ([]byte, error) {
	code, err := s.chain.CodeAt(ctx, sender)
	if err != nil {
		return nil, domainerrors.TransientRPCError("eth_getCode", err)
	}
	if len(code) > 0 {
		return nil, nil
	}

	salt := accountSalt(pinned)
	computed, err := chain.CounterfactualAddress(ctx, s.chain, s.factory, owner, salt)
	if err != nil {
		return nil, domainerrors.TransientRPCError("factory getAddress", err)
	}
	if computed != sender {
		return nil, domainerrors.NonceMismatchError(sender.Hex(), salt.Int64())
	}
	return chain.InitCode(s.factory, owner, salt)
}

// transferCall is the account's execute call that pays amount of token to pool
func transferCall(token entities.Token, pool common.Address, amount *big.Int) ([]byte, error) {
	if token.IsNative() {
		return chain.PackExecute(pool, amount, nil)
	}
	transfer, err := chain.PackTransfer(pool, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return chain.PackExecute(common.HexToAddress(token.Address), big.NewInt(0), transfer)
}

func accountSalt(pinned *int64) *big.Int {
	if pinned == nil {
		return big.NewInt(0)
	}
	return big.NewInt(*pinned)
}
