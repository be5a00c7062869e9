package custody

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/rail-service/settlement_service/internal/domain/entities"
)

// ErrMissingKeyMaterial is returned when no master seed or secret is configured
var ErrMissingKeyMaterial = errors.New("custody master key material is not configured")

// HDStrategy derives one BIP-44 Ethereum account per user from a master seed
type HDStrategy struct {
	master *hdkeychain.ExtendedKey
}

// NewHDStrategy builds the master key from a mnemonic, or from a hex seed when no mnemonic is set
func NewHDStrategy(mnemonic, passphrase, seedHex string) (*HDStrategy, error) {
	var seed []byte
	switch {
	case strings.TrimSpace(mnemonic) != "":
		s, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), passphrase)
		if err != nil {
			return nil, fmt.Errorf("invalid custody mnemonic: %w", err)
		}
		seed = s
	case seedHex != "":
		s, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid custody seed: %w", err)
		}
		seed = s
	default:
		return nil, ErrMissingKeyMaterial
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	return &HDStrategy{master: master}, nil
}

func (s *HDStrategy) Kind() entities.DerivationStrategy {
	return entities.DerivationStrategyHD
}

// IndexFor maps a user reference to a non-hardened child index
func IndexFor(userRef string) uint32 {
	return binary.BigEndian.Uint32(crypto.Keccak256([]byte(userRef))[:4]) & 0x7fffffff
}

// PathFor returns the BIP-44 path of a user's custody account
func PathFor(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// Derive walks m/44'/60'/0'/0/{index}. It makes no chain calls.
func (s *HDStrategy) Derive(_ context.Context, in DeriveInput) (*Derivation, error) {
	index := IndexFor(in.UserRef)

	key := s.master
	for _, child := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	} {
		next, err := key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", child, err)
		}
		key = next
	}

	btcKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	privateKey, err := ethereumKey(btcKey)
	if err != nil {
		return nil, err
	}

	idx := int64(index)
	return &Derivation{
		Address: crypto.PubkeyToAddress(privateKey.PublicKey),
		Path:    PathFor(index),
		Index:   &idx,
		Key:     privateKey,
	}, nil
}

// ethereumKey re-encodes a secp256k1 key from the BIP-32 tree for go-ethereum signing
func ethereumKey(k *btcec.PrivateKey) (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.ToECDSA(k.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	return privateKey, nil
}
