package custody

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
)

const ownerKeyInfo = "settlement-owner-key"

// SmartAccountStrategy derives a counterfactual ERC-4337 account per user.
// The owner key comes from the custody record when one exists, else from HKDF
// over the master secret salted with the user reference.
type SmartAccountStrategy struct {
	caller  chain.ContractCaller
	factory common.Address
	secret  []byte
}

func NewSmartAccountStrategy(caller chain.ContractCaller, factory common.Address, ownerSecret string) (*SmartAccountStrategy, error) {
	if ownerSecret == "" {
		return nil, ErrMissingKeyMaterial
	}
	if factory == (common.Address{}) {
		return nil, fmt.Errorf("smart account factory address is required")
	}
	return &SmartAccountStrategy{caller: caller, factory: factory, secret: []byte(ownerSecret)}, nil
}

func (s *SmartAccountStrategy) Kind() entities.DerivationStrategy {
	return entities.DerivationStrategySmartAccount
}

// Factory returns the account factory address
func (s *SmartAccountStrategy) Factory() common.Address {
	return s.factory
}

// OwnerKey derives the owner key of userRef
func (s *SmartAccountStrategy) OwnerKey(userRef string) (*ecdsa.PrivateKey, error) {
	reader := hkdf.New(sha256.New, s.secret, []byte(userRef), []byte(ownerKeyInfo))
	buf := make([]byte, 32)
	// a 32-byte draw is out of the curve order with negligible probability; draw again if so
	for attempt := 0; attempt < 4; attempt++ {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, fmt.Errorf("failed to derive owner key: %w", err)
		}
		if key, err := crypto.ToECDSA(buf); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("failed to derive a valid owner key for %s", userRef)
}

// Derive computes the account address via the factory's read-only getAddress
func (s *SmartAccountStrategy) Derive(ctx context.Context, in DeriveInput) (*Derivation, error) {
	key := in.OwnerKey
	if key == nil {
		derived, err := s.OwnerKey(in.UserRef)
		if err != nil {
			return nil, err
		}
		key = derived
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	nonce := int64(0)
	if in.Nonce != nil {
		nonce = *in.Nonce
	}

	addr, err := chain.CounterfactualAddress(ctx, s.caller, s.factory, owner, big.NewInt(nonce))
	if err != nil {
		return nil, domainerrors.TransientRPCError("factory getAddress", err)
	}

	return &Derivation{
		Address: addr,
		Owner:   &owner,
		Nonce:   &nonce,
		Key:     key,
	}, nil
}

// ResolveNonce searches salts 0..maxNonce for the one whose account is expected
func (s *SmartAccountStrategy) ResolveNonce(ctx context.Context, owner, expected common.Address, maxNonce int64) (int64, error) {
	for nonce := int64(0); nonce <= maxNonce; nonce++ {
		addr, err := chain.CounterfactualAddress(ctx, s.caller, s.factory, owner, big.NewInt(nonce))
		if err != nil {
			return 0, domainerrors.TransientRPCError("factory getAddress", err)
		}
		if addr == expected {
			return nonce, nil
		}
	}
	return 0, domainerrors.NonceMismatchError(expected.Hex(), maxNonce)
}
