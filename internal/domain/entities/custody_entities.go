package entities

import "time"

// DerivationStrategy selects how a custody address is produced
type DerivationStrategy string

const (
	DerivationStrategyHD           DerivationStrategy = "hd"
	DerivationStrategySmartAccount DerivationStrategy = "smart_account"
)

// CustodyAddress is the per-user deposit address record. Recomputing it from
// the same user reference and master key material yields the same address.
type CustodyAddress struct {
	UserRef           string             `json:"user_ref" db:"user_ref"`
	Address           string             `json:"address" db:"address"`
	Strategy          DerivationStrategy `json:"strategy" db:"strategy"`
	DerivationPath    string             `json:"derivation_path,omitempty" db:"derivation_path"`
	DerivationIndex   *int64             `json:"derivation_index,omitempty" db:"derivation_index"`
	OwnerAddress      *string            `json:"owner_address,omitempty" db:"owner_address"`
	EncryptedOwnerKey *string            `json:"-" db:"encrypted_owner_key"`
	AccountNonce      *int64             `json:"account_nonce,omitempty" db:"account_nonce"`
	ChainID           int64              `json:"chain_id" db:"chain_id"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}
