package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
chain:
  chain_id: 84532
  pool_address: "0x1111111111111111111111111111111111111111"
  settlement_token: USDC
  tokens:
    - symbol: USDC
      address: "0x2222222222222222222222222222222222222222"
      decimals: 6
custody:
  strategy: smart_account
  factory_address: "0x3333333333333333333333333333333333333333"
swap:
  routing:
    USDT/USDC: amm
workers:
  settlement:
    transaction_timeout: 90s
`

// paymaster address, validity window and a dummy signature
const testPaymasterStub = "0x4444444444444444444444444444444444444444" +
	"00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
	"fffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c"

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(body), 0o600))
	t.Chdir(dir)
	viper.Reset()
}

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("POOL_PRIVATE_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("CUSTODY_OWNER_SECRET", "owner-secret")
	t.Setenv("BUNDLER_URL", "http://localhost:4337")
	t.Setenv("BUNDLER_PAYMASTER_STUB", testPaymasterStub)
	t.Setenv("FIAT_RAIL_SECRET_KEY", "sk_test")
	t.Setenv("FIAT_RAIL_WEBHOOK_SECRET", "whsec")
}

func TestLoad(t *testing.T) {
	writeConfig(t, testYAML)
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(84532), cfg.Chain.ChainID)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, "owner-secret", cfg.Custody.OwnerSecret)
	assert.Equal(t, 90*time.Second, cfg.Workers.Settlement.TransactionTimeout)
	assert.Equal(t, 15*time.Second, cfg.Workers.Settlement.PollInterval)
	assert.Equal(t, "0.01", cfg.Sweep.MinAmount)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "amm", cfg.Swap.Routing["usdt/usdc"])
	assert.Equal(t, testPaymasterStub, cfg.Bundler.PaymasterStub)
	assert.Contains(t, cfg.Database.URL, "postgres://postgres:@localhost:5432/settlement_service")

	token, ok := cfg.Token("usdc")
	require.True(t, ok)
	assert.Equal(t, int32(6), token.Decimals)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		unset   string
		wantErr string
	}{
		{name: "missing jwt secret", yaml: testYAML, unset: "JWT_SECRET", wantErr: "JWT secret"},
		{name: "missing fiat rail key", yaml: testYAML, unset: "FIAT_RAIL_SECRET_KEY", wantErr: "fiat rail secret key"},
		{name: "missing paymaster stub", yaml: testYAML, unset: "BUNDLER_PAYMASTER_STUB", wantErr: "paymaster stub"},
		{
			name:    "paymaster stub shorter than an address",
			yaml:    testYAML + "bundler:\n  paymaster_stub: \"0x4444\"\n",
			unset:   "BUNDLER_PAYMASTER_STUB",
			wantErr: "paymaster stub",
		},
		{
			name:    "bad sweep mode",
			yaml:    testYAML + "sweep:\n  mode: teleport\n",
			wantErr: "unknown sweep mode",
		},
		{
			name:    "bad routing layer",
			yaml:    "chain:\n  pool_address: \"0x1\"\n  tokens:\n    - symbol: USDC\ncustody:\n  factory_address: \"0x3\"\nswap:\n  routing:\n    DAI/USDC: teleport\n",
			wantErr: "unknown layer",
		},
		{
			name:    "routing key without buy token",
			yaml:    "chain:\n  pool_address: \"0x1\"\n  tokens:\n    - symbol: USDC\ncustody:\n  factory_address: \"0x3\"\nswap:\n  routing:\n    DAI: amm\n",
			wantErr: "sell/buy pair",
		},
		{
			name:    "settlement token not configured",
			yaml:    "chain:\n  pool_address: \"0x1\"\n  settlement_token: EURC\ncustody:\n  factory_address: \"0x3\"\n",
			wantErr: "settlement token",
		},
		{
			name:    "bad custody strategy",
			yaml:    "chain:\n  pool_address: \"0x1\"\n  tokens:\n    - symbol: USDC\ncustody:\n  strategy: paper\n",
			wantErr: "unknown custody strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.yaml)
			setRequiredEnv(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}

			_, err := Load()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.True(t, (&Config{Environment: "staging"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}
