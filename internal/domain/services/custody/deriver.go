package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/internal/domain/repositories"
	sealer "github.com/rail-service/settlement_service/pkg/crypto"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/security"
)

// Config holds deriver settings
type Config struct {
	ChainID          int64
	KeyEncryptionKey string
	MaxNonceSearch   int64
	CacheSize        int
}

// Deriver assigns, verifies and unlocks per-user custody addresses
type Deriver struct {
	strategy Strategy
	repo     repositories.CustodyRepository
	cache    *lru.Cache[string, *entities.CustodyAddress]
	config   Config
	logger   *logger.Logger
}

// NewDeriver creates a deriver over one strategy
func NewDeriver(strategy Strategy, repo repositories.CustodyRepository, config Config, log *logger.Logger) (*Deriver, error) {
	if strategy == nil {
		return nil, ErrMissingKeyMaterial
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 4096
	}
	if config.MaxNonceSearch <= 0 {
		config.MaxNonceSearch = 20
	}

	cache, err := lru.New[string, *entities.CustodyAddress](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create custody cache: %w", err)
	}

	return &Deriver{
		strategy: strategy,
		repo:     repo,
		cache:    cache,
		config:   config,
		logger:   log,
	}, nil
}

// Strategy returns the configured derivation strategy
func (d *Deriver) Strategy() entities.DerivationStrategy {
	return d.strategy.Kind()
}

// DeriveAddress returns the custody address of userRef and its descriptor.
// An assigned record is verified and returned; otherwise the address is
// computed without being persisted.
func (d *Deriver) DeriveAddress(ctx context.Context, userRef string) (string, *entities.CustodyAddress, error) {
	record, err := d.lookup(ctx, userRef)
	if err == nil {
		return record.Address, record, nil
	}
	if !domainerrors.IsNotFound(err) {
		return "", nil, err
	}

	derivation, err := d.strategy.Derive(ctx, DeriveInput{UserRef: userRef})
	if err != nil {
		return "", nil, err
	}
	record = d.recordFor(userRef, derivation)
	return record.Address, record, nil
}

// Assign returns the user's custody record, creating and persisting it on first use
func (d *Deriver) Assign(ctx context.Context, userRef string) (*entities.CustodyAddress, error) {
	record, err := d.lookup(ctx, userRef)
	if err == nil {
		return record, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, err
	}

	derivation, err := d.strategy.Derive(ctx, DeriveInput{UserRef: userRef})
	if err != nil {
		return nil, err
	}
	record = d.recordFor(userRef, derivation)

	if derivation.Owner != nil && d.config.KeyEncryptionKey != "" {
		sealed, err := sealer.Seal(crypto.FromECDSA(derivation.Key), d.config.KeyEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to seal owner key: %w", err)
		}
		record.EncryptedOwnerKey = &sealed
	}

	if err := d.repo.Create(ctx, record); err != nil {
		if domainerrors.IsConflict(err) {
			// assigned concurrently; the stored record wins
			return d.lookup(ctx, userRef)
		}
		return nil, fmt.Errorf("failed to persist custody address: %w", err)
	}

	d.cache.Add(userRef, record)
	d.logger.Info("Custody address assigned",
		"user_ref", userRef,
		"address", security.MaskAddress(record.Address),
		"strategy", string(record.Strategy))
	return record, nil
}

// OwnerCredential returns the key that controls record's address
func (d *Deriver) OwnerCredential(ctx context.Context, record *entities.CustodyAddress) (*ecdsa.PrivateKey, error) {
	derivation, err := d.rederive(ctx, record)
	if err != nil {
		return nil, err
	}
	return derivation.Key, nil
}

func (d *Deriver) lookup(ctx context.Context, userRef string) (*entities.CustodyAddress, error) {
	if record, ok := d.cache.Get(userRef); ok {
		return record, nil
	}

	record, err := d.repo.GetByUserRef(ctx, userRef, d.config.ChainID)
	if err != nil {
		return nil, err
	}
	if _, err := d.rederive(ctx, record); err != nil {
		return nil, err
	}

	d.cache.Add(userRef, record)
	return record, nil
}

// rederive recomputes record's address and fails with a descriptor mismatch when it differs.
// Legacy smart-account records without a pinned nonce get one resolved and persisted.
func (d *Deriver) rederive(ctx context.Context, record *entities.CustodyAddress) (*Derivation, error) {
	if record.Strategy != d.strategy.Kind() {
		return nil, fmt.Errorf("%w: record uses %s, deriver is %s",
			domainerrors.ErrDescriptorMismatch, record.Strategy, d.strategy.Kind())
	}

	in := DeriveInput{UserRef: record.UserRef, Nonce: record.AccountNonce}
	if record.EncryptedOwnerKey != nil && *record.EncryptedOwnerKey != "" {
		key, err := d.openOwnerKey(*record.EncryptedOwnerKey)
		if err != nil {
			return nil, err
		}
		in.OwnerKey = key
	}

	if record.Strategy == entities.DerivationStrategySmartAccount && record.AccountNonce == nil {
		nonce, err := d.resolveLegacyNonce(ctx, record, in.OwnerKey)
		if err != nil {
			return nil, err
		}
		in.Nonce = &nonce
	}

	derivation, err := d.strategy.Derive(ctx, in)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(derivation.Address.Hex(), record.Address) {
		d.logger.Error("Custody address mismatch",
			"user_ref", record.UserRef,
			"stored", record.Address,
			"computed", derivation.Address.Hex())
		return nil, domainerrors.DescriptorMismatchError(record.Address, derivation.Address.Hex())
	}
	return derivation, nil
}

func (d *Deriver) resolveLegacyNonce(ctx context.Context, record *entities.CustodyAddress, ownerKey *ecdsa.PrivateKey) (int64, error) {
	resolver, ok := d.strategy.(NonceResolver)
	if !ok {
		return 0, fmt.Errorf("strategy %s cannot resolve account nonces", d.strategy.Kind())
	}

	var owner common.Address
	switch {
	case ownerKey != nil:
		owner = crypto.PubkeyToAddress(ownerKey.PublicKey)
	case record.OwnerAddress != nil:
		owner = common.HexToAddress(*record.OwnerAddress)
	default:
		derivation, err := d.strategy.Derive(ctx, DeriveInput{UserRef: record.UserRef})
		if err != nil {
			return 0, err
		}
		owner = *derivation.Owner
	}

	start := time.Now()
	nonce, err := resolver.ResolveNonce(ctx, owner, common.HexToAddress(record.Address), d.config.MaxNonceSearch)
	if err != nil {
		return 0, err
	}
	if err := d.repo.PinNonce(ctx, record.UserRef, record.ChainID, nonce); err != nil {
		return 0, fmt.Errorf("failed to pin account nonce: %w", err)
	}
	record.AccountNonce = &nonce

	d.logger.Info("Resolved legacy account nonce",
		"user_ref", record.UserRef,
		"nonce", nonce,
		"elapsed", time.Since(start).String())
	return nonce, nil
}

func (d *Deriver) openOwnerKey(sealed string) (*ecdsa.PrivateKey, error) {
	if d.config.KeyEncryptionKey == "" {
		return nil, errors.New("custody record has a sealed owner key but no key encryption key is configured")
	}
	raw, err := sealer.Open(sealed, d.config.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open owner key: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid owner key: %w", err)
	}
	return key, nil
}

func (d *Deriver) recordFor(userRef string, derivation *Derivation) *entities.CustodyAddress {
	record := &entities.CustodyAddress{
		UserRef:         userRef,
		Address:         derivation.Address.Hex(),
		Strategy:        d.strategy.Kind(),
		DerivationPath:  derivation.Path,
		DerivationIndex: derivation.Index,
		AccountNonce:    derivation.Nonce,
		ChainID:         d.config.ChainID,
		CreatedAt:       time.Now().UTC(),
	}
	if derivation.Owner != nil {
		owner := derivation.Owner.Hex()
		record.OwnerAddress = &owner
	}
	return record
}
