package custody

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/settlement_service/internal/domain/entities"
)

// Derivation is everything needed to recompute and control a custody address
type Derivation struct {
	Address common.Address
	Path    string
	Index   *int64
	Owner   *common.Address
	Nonce   *int64
	Key     *ecdsa.PrivateKey
}

// DeriveInput selects what a strategy derives. Nonce and OwnerKey come from an
// existing custody record when there is one.
type DeriveInput struct {
	UserRef  string
	Nonce    *int64
	OwnerKey *ecdsa.PrivateKey
}

// Strategy turns a user reference into a custody address
type Strategy interface {
	Kind() entities.DerivationStrategy
	Derive(ctx context.Context, in DeriveInput) (*Derivation, error)
}

// NonceResolver finds the salt that produced a recorded smart-account address
type NonceResolver interface {
	ResolveNonce(ctx context.Context, owner, expected common.Address, maxNonce int64) (int64, error)
}
