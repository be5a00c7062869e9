package repositories

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/ with column types sqlite round-trips losslessly.
const sqliteSchema = `
CREATE TABLE custody_addresses (
    user_ref TEXT NOT NULL,
    chain_id INTEGER NOT NULL,
    address TEXT NOT NULL,
    strategy TEXT NOT NULL,
    derivation_path TEXT NOT NULL DEFAULT '',
    derivation_index INTEGER,
    owner_address TEXT,
    encrypted_owner_key TEXT,
    account_nonce INTEGER,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (user_ref, chain_id)
);
CREATE UNIQUE INDEX idx_custody_addresses_address ON custody_addresses (chain_id, address);

CREATE TABLE settlement_transactions (
    id TEXT PRIMARY KEY,
    user_ref TEXT NOT NULL,
    retry_of TEXT,
    custody_address TEXT NOT NULL,
    strategy TEXT NOT NULL,
    derivation_path TEXT NOT NULL DEFAULT '',
    account_nonce INTEGER,
    chain_id INTEGER NOT NULL,
    token_symbol TEXT NOT NULL,
    token_address TEXT NOT NULL,
    token_decimals INTEGER NOT NULL,
    bank_account_number TEXT NOT NULL,
    bank_code TEXT NOT NULL,
    account_name TEXT NOT NULL,
    swept_amount TEXT,
    sweep_mode TEXT,
    sweep_tx_hash TEXT,
    swap_tx_hash TEXT,
    swap_provider TEXT,
    converted_amount TEXT,
    rate TEXT,
    fiat_gross TEXT,
    fee TEXT,
    fiat_amount TEXT,
    fee_tier_id TEXT,
    payout_reference TEXT UNIQUE,
    status TEXT NOT NULL,
    error_code TEXT,
    error_message TEXT,
    retryable BOOLEAN NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    token_detected_at DATETIME,
    swept_at DATETIME,
    payout_initiated_at DATETIME,
    payout_confirmed_at DATETIME,
    updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX idx_settlement_transactions_retry_of ON settlement_transactions (retry_of) WHERE retry_of IS NOT NULL;

CREATE TABLE fee_tiers (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    min_amount TEXT NOT NULL,
    max_amount TEXT,
    fee_type TEXT NOT NULL,
    fee_value TEXT NOT NULL
);

CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_by TEXT NOT NULL DEFAULT 'system',
    updated_at DATETIME NOT NULL
);
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}
