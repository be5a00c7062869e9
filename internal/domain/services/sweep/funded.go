package sweep

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

const nativeTransferGas = 21000

// FundedChain is the chain surface a funded sweep uses
type FundedChain interface {
	chain.ContractCaller
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendLegacy(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// FundedSweeper tops the signer up with gas from a reserve wallet and sends
// the transfer itself. HD custody signs directly; a smart account is driven
// by its owner through execute.
type FundedSweeper struct {
	chain   FundedChain
	reserve *ecdsa.PrivateKey
	factory common.Address
	pool    common.Address
	topUp   *big.Int
	logger  *logger.Logger
}

func NewFundedSweeper(c FundedChain, reserve *ecdsa.PrivateKey, factory, pool common.Address, topUp *big.Int, log *logger.Logger) *FundedSweeper {
	return &FundedSweeper{chain: c, reserve: reserve, factory: factory, pool: pool, topUp: topUp, logger: log}
}

func (s *FundedSweeper) Mode() entities.SweepMode { return entities.SweepModeFunded }

func (s *FundedSweeper) Submit(ctx context.Context, req Request, amount *big.Int) (common.Hash, error) {
	if req.OwnerKey == nil {
		return common.Hash{}, domainerrors.SweepFailedError("missing owner credential")
	}
	signer := crypto.PubkeyToAddress(req.OwnerKey.PublicKey)

	if req.Custody.Strategy == entities.DerivationStrategyHD && req.Token.IsNative() {
		return s.sendNative(ctx, req.OwnerKey, amount)
	}

	if err := s.ensureGas(ctx, signer); err != nil {
		return common.Hash{}, err
	}

	var to common.Address
	var data []byte
	var err error
	if req.Custody.Strategy == entities.DerivationStrategySmartAccount {
		account := common.HexToAddress(req.Custody.Address)
		if err := s.deploy(ctx, req.OwnerKey, account, req.Custody.AccountNonce); err != nil {
			return common.Hash{}, err
		}
		to = account
		data, err = transferCall(req.Token, s.pool, amount)
	} else {
		to = common.HexToAddress(req.Token.Address)
		data, err = chain.PackTransfer(s.pool, amount)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack sweep call: %w", err)
	}

	hash, err := s.chain.SendLegacy(ctx, req.OwnerKey, to, big.NewInt(0), data, 0)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("send sweep", err)
	}
	return hash, nil
}

func (s *FundedSweeper) Await(ctx context.Context, hash common.Hash) (common.Hash, error) {
	if err := s.waitSuccess(ctx, hash, "sweep"); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// sendNative pays the native balance minus a gas allowance straight to the pool
func (s *FundedSweeper) sendNative(ctx context.Context, key *ecdsa.PrivateKey, amount *big.Int) (common.Hash, error) {
	price, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("gas price", err)
	}
	// gas allowance at twice the current price
	fee := new(big.Int).Mul(price, big.NewInt(2*nativeTransferGas))
	value := new(big.Int).Sub(amount, fee)
	if value.Sign() <= 0 {
		return common.Hash{}, domainerrors.InsufficientBalanceError(amount.String(), fee.String())
	}

	hash, err := s.chain.SendLegacy(ctx, key, s.pool, value, nil, nativeTransferGas)
	if err != nil {
		return common.Hash{}, domainerrors.TransientRPCError("send sweep", err)
	}
	return hash, nil
}

// ensureGas sends the signer the difference up to the configured top-up
func (s *FundedSweeper) ensureGas(ctx context.Context, signer common.Address) error {
	balance, err := s.chain.BalanceAt(ctx, signer)
	if err != nil {
		return domainerrors.TransientRPCError("eth_getBalance", err)
	}
	if balance.Cmp(s.topUp) >= 0 {
		return nil
	}
	if s.reserve == nil {
		return domainerrors.SweepFailedError("signer has no gas and no reserve wallet is configured")
	}

	missing := new(big.Int).Sub(s.topUp, balance)
	hash, err := s.chain.SendLegacy(ctx, s.reserve, signer, missing, nil, nativeTransferGas)
	if err != nil {
		return domainerrors.TransientRPCError("send gas top-up", err)
	}
	if err := s.waitSuccess(ctx, hash, "gas top-up"); err != nil {
		return err
	}

	s.logger.Info("Gas topped up",
		"signer", signer.Hex(),
		"amount_wei", missing.String(),
		"tx_hash", hash.Hex())
	return nil
}

// deploy creates the smart account through the factory when it has no code yet
func (s *FundedSweeper) deploy(ctx context.Context, owner *ecdsa.PrivateKey, account common.Address, pinned *int64) error {
	code, err := s.chain.CodeAt(ctx, account)
	if err != nil {
		return domainerrors.TransientRPCError("eth_getCode", err)
	}
	if len(code) > 0 {
		return nil
	}

	ownerAddr := crypto.PubkeyToAddress(owner.PublicKey)
	salt := accountSalt(pinned)
	computed, err := chain.CounterfactualAddress(ctx, s.chain, s.factory, ownerAddr, salt)
	if err != nil {
		return domainerrors.TransientRPCError("factory getAddress", err)
	}
	if computed != account {
		return domainerrors.NonceMismatchError(account.Hex(), salt.Int64())
	}

	data, err := chain.AccountFactoryABI.Pack("createAccount", ownerAddr, salt)
	if err != nil {
		return fmt.Errorf("failed to pack createAccount: %w", err)
	}
	hash, err := s.chain.SendLegacy(ctx, owner, s.factory, big.NewInt(0), data, 0)
	if err != nil {
		return domainerrors.TransientRPCError("send createAccount", err)
	}
	return s.waitSuccess(ctx, hash, "account deployment")
}

func (s *FundedSweeper) waitSuccess(ctx context.Context, hash common.Hash, what string) error {
	receipt, err := s.chain.WaitMined(ctx, hash)
	if err != nil {
		return domainerrors.TransientRPCError("wait "+what, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domainerrors.SweepFailedError(fmt.Sprintf("%s %s reverted", what, hash.Hex()))
	}
	return nil
}
