package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the settlement service
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	JWT         JWTConfig        `mapstructure:"jwt"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Chain       ChainConfig      `mapstructure:"chain"`
	Custody     CustodyConfig    `mapstructure:"custody"`
	Bundler     BundlerConfig    `mapstructure:"bundler"`
	Sweep       SweepConfig      `mapstructure:"sweep"`
	Swap        SwapConfig       `mapstructure:"swap"`
	Aggregator  AggregatorConfig `mapstructure:"aggregator"`
	AMM         AMMConfig        `mapstructure:"amm"`
	FiatRail    FiatRailConfig   `mapstructure:"fiat_rail"`
	Pricing     PricingConfig    `mapstructure:"pricing"`
	Workers     WorkerConfig     `mapstructure:"workers"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Notify      NotifyConfig     `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// TokenConfig is one accepted deposit token
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	ChainID             int64         `mapstructure:"chain_id"`
	PoolAddress         string        `mapstructure:"pool_address"`
	PoolPrivateKey      string        `mapstructure:"pool_private_key"`
	ReservePrivateKey   string        `mapstructure:"reserve_private_key"`
	WrappedNative       string        `mapstructure:"wrapped_native"`
	SettlementToken     string        `mapstructure:"settlement_token"`
	Tokens              []TokenConfig `mapstructure:"tokens"`
	RPCMaxRetries       int           `mapstructure:"rpc_max_retries"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

type CustodyConfig struct {
	Strategy          string `mapstructure:"strategy"`
	Mnemonic          string `mapstructure:"mnemonic"`
	Passphrase        string `mapstructure:"passphrase"`
	SeedHex           string `mapstructure:"seed_hex"`
	OwnerSecret       string `mapstructure:"owner_secret"`
	KeyEncryptionKey  string `mapstructure:"key_encryption_key"`
	FactoryAddress    string `mapstructure:"factory_address"`
	EntryPointAddress string `mapstructure:"entry_point_address"`
	MaxNonceSearch    int64  `mapstructure:"max_nonce_search"`
	CacheSize         int    `mapstructure:"cache_size"`
}

type BundlerConfig struct {
	URL             string        `mapstructure:"url"`
	PaymasterURL    string        `mapstructure:"paymaster_url"`
	SponsorPolicyID string        `mapstructure:"sponsor_policy_id"`
	// PaymasterStub is the hex paymasterAndData set on an operation while
	// its gas is estimated; the sponsor's real value replaces it.
	PaymasterStub   string        `mapstructure:"paymaster_stub"`
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type SweepConfig struct {
	Mode           string `mapstructure:"mode"`
	MinAmount      string `mapstructure:"min_amount"`
	FundedFallback bool   `mapstructure:"funded_fallback"`
	GasTopUpWei    string `mapstructure:"gas_top_up_wei"`
}

type SwapConfig struct {
	// Routing pins a "sell/buy" symbol pair to one cascade layer (permit, aggregator, amm).
	Routing map[string]string `mapstructure:"routing"`
}

type AggregatorConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Version         string        `mapstructure:"version"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
}

type AMMConfig struct {
	RouterAddress  string   `mapstructure:"router_address"`
	FactoryAddress string   `mapstructure:"factory_address"`
	NativeTargets  []string `mapstructure:"native_targets"`
}

type FiatRailConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	SecretKey       string        `mapstructure:"secret_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SkipSignature   bool          `mapstructure:"skip_signature"`
	Currency        string        `mapstructure:"currency"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
}

type PricingConfig struct {
	RateTTL     time.Duration `mapstructure:"rate_ttl"`
	DefaultRate string        `mapstructure:"default_rate"`
}

type SettlementWorkerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	WorkerCount        int           `mapstructure:"worker_count"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	InterRecordDelay   time.Duration `mapstructure:"inter_record_delay"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	PendingGrace       time.Duration `mapstructure:"pending_grace"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
}

type WorkerConfig struct {
	Settlement               SettlementWorkerConfig `mapstructure:"settlement"`
	SettingsRefreshSchedule  string                 `mapstructure:"settings_refresh_schedule"`
	ReconciliationSchedule   string                 `mapstructure:"reconciliation_schedule"`
	ReconciliationStaleAfter time.Duration          `mapstructure:"reconciliation_stale_after"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NotifyConfig struct {
	SendGridAPIKey string   `mapstructure:"sendgrid_api_key"`
	FromEmail      string   `mapstructure:"from_email"`
	FromName       string   `mapstructure:"from_name"`
	OperatorEmails []string `mapstructure:"operator_emails"`
}

// Load reads configs/config.yaml, .env and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.rate_limit_per_min", 120)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "settlement_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrations_path", "migrations")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.issuer", "settlement_service")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_rate", 0.1)

	viper.SetDefault("chain.chain_id", 8453)
	viper.SetDefault("chain.pool_address", "")
	viper.SetDefault("chain.wrapped_native", "0x4200000000000000000000000000000000000006")
	viper.SetDefault("chain.rpc_max_retries", 3)
	viper.SetDefault("chain.receipt_timeout", 3*time.Minute)
	viper.SetDefault("chain.receipt_poll_interval", 3*time.Second)
	viper.SetDefault("chain.settlement_token", "USDC")

	viper.SetDefault("custody.strategy", "smart_account")
	viper.SetDefault("custody.factory_address", "")
	viper.SetDefault("custody.entry_point_address", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	viper.SetDefault("custody.max_nonce_search", 20)
	viper.SetDefault("custody.cache_size", 4096)

	viper.SetDefault("bundler.paymaster_stub", "")
	viper.SetDefault("bundler.receipt_timeout", 2*time.Minute)
	viper.SetDefault("bundler.poll_interval", 2*time.Second)

	viper.SetDefault("sweep.mode", "auto")
	viper.SetDefault("sweep.min_amount", "0.01")
	viper.SetDefault("sweep.funded_fallback", true)
	viper.SetDefault("sweep.gas_top_up_wei", "200000000000000")

	viper.SetDefault("amm.router_address", "")
	viper.SetDefault("amm.factory_address", "")

	viper.SetDefault("aggregator.base_url", "https://api.0x.org")
	viper.SetDefault("aggregator.version", "v2")
	viper.SetDefault("aggregator.timeout", 15*time.Second)
	viper.SetDefault("aggregator.rate_limit_per_sec", 5.0)

	viper.SetDefault("fiat_rail.skip_signature", false)
	viper.SetDefault("fiat_rail.base_url", "https://api.paystack.co")
	viper.SetDefault("fiat_rail.currency", "NGN")
	viper.SetDefault("fiat_rail.timeout", 30*time.Second)
	viper.SetDefault("fiat_rail.max_retries", 3)
	viper.SetDefault("fiat_rail.rate_limit_per_sec", 10.0)

	viper.SetDefault("pricing.rate_ttl", 60*time.Second)

	viper.SetDefault("workers.settlement.enabled", true)
	viper.SetDefault("workers.settlement.worker_count", 4)
	viper.SetDefault("workers.settlement.poll_interval", 15*time.Second)
	viper.SetDefault("workers.settlement.batch_size", 50)
	viper.SetDefault("workers.settlement.inter_record_delay", 250*time.Millisecond)
	viper.SetDefault("workers.settlement.transaction_timeout", 5*time.Minute)
	viper.SetDefault("workers.settlement.stale_after", 10*time.Minute)
	viper.SetDefault("workers.settlement.pending_grace", 0)
	viper.SetDefault("workers.settlement.max_attempts", 5)
	viper.SetDefault("workers.settings_refresh_schedule", "@every 1m")
	viper.SetDefault("workers.reconciliation_schedule", "@every 5m")
	viper.SetDefault("workers.reconciliation_stale_after", 30*time.Minute)

	viper.SetDefault("kafka.topic", "settlement.status")

	viper.SetDefault("notify.from_email", "settlements@rail.money")
	viper.SetDefault("notify.from_name", "Settlement Service")
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	secrets := map[string]string{
		"DATABASE_URL":             "database.url",
		"REDIS_PASSWORD":           "redis.password",
		"JWT_SECRET":               "jwt.secret",
		"RPC_URL":                  "chain.rpc_url",
		"POOL_PRIVATE_KEY":         "chain.pool_private_key",
		"RESERVE_PRIVATE_KEY":      "chain.reserve_private_key",
		"CUSTODY_MNEMONIC":         "custody.mnemonic",
		"CUSTODY_SEED_HEX":         "custody.seed_hex",
		"CUSTODY_OWNER_SECRET":     "custody.owner_secret",
		"KEY_ENCRYPTION_KEY":       "custody.key_encryption_key",
		"BUNDLER_URL":              "bundler.url",
		"PAYMASTER_URL":            "bundler.paymaster_url",
		"AGGREGATOR_API_KEY":       "aggregator.api_key",
		"FIAT_RAIL_SECRET_KEY":     "fiat_rail.secret_key",
		"FIAT_RAIL_WEBHOOK_SECRET": "fiat_rail.webhook_secret",
		"SENDGRID_API_KEY":         "notify.sendgrid_api_key",
	}
	for env, key := range secrets {
		if v := os.Getenv(env); v != "" {
			viper.Set(key, v)
		}
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", strings.Split(brokers, ","))
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required")
	}
	if config.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id is required")
	}
	if config.Chain.PoolAddress == "" {
		return fmt.Errorf("pool address is required")
	}
	if config.Chain.PoolPrivateKey == "" {
		return fmt.Errorf("pool private key is required")
	}
	if _, ok := config.Token(config.Chain.SettlementToken); !ok {
		return fmt.Errorf("settlement token %q is not in chain.tokens", config.Chain.SettlementToken)
	}

	switch config.Custody.Strategy {
	case "hd":
		if config.Custody.Mnemonic == "" && config.Custody.SeedHex == "" {
			return fmt.Errorf("custody mnemonic or seed is required for the hd strategy")
		}
	case "smart_account":
		if config.Custody.OwnerSecret == "" {
			return fmt.Errorf("custody owner secret is required for the smart_account strategy")
		}
		if config.Custody.FactoryAddress == "" {
			return fmt.Errorf("custody factory address is required for the smart_account strategy")
		}
	default:
		return fmt.Errorf("unknown custody strategy %q", config.Custody.Strategy)
	}

	switch config.Sweep.Mode {
	case "auto", "sponsored", "funded":
	default:
		return fmt.Errorf("unknown sweep mode %q", config.Sweep.Mode)
	}
	if config.Sweep.Mode != "funded" && config.Custody.Strategy == "smart_account" && config.Bundler.URL == "" {
		return fmt.Errorf("bundler url is required for sponsored sweeps")
	}
	if config.Bundler.URL != "" {
		// paymaster address plus at least a validity window
		stub, err := hex.DecodeString(strings.TrimPrefix(config.Bundler.PaymasterStub, "0x"))
		if err != nil || len(stub) < 20 {
			return fmt.Errorf("bundler paymaster stub must be hex paymasterAndData starting with the paymaster address")
		}
	}
	if (config.Sweep.Mode == "funded" || config.Sweep.FundedFallback) && config.Custody.Strategy == "hd" && config.Chain.ReservePrivateKey == "" {
		return fmt.Errorf("reserve private key is required for funded sweeps")
	}
	if _, err := decimal.NewFromString(config.Sweep.MinAmount); err != nil {
		return fmt.Errorf("sweep min amount %q is not a decimal", config.Sweep.MinAmount)
	}

	for pair, layer := range config.Swap.Routing {
		if sell, buy, ok := strings.Cut(pair, "/"); !ok || sell == "" || buy == "" {
			return fmt.Errorf("swap routing key %q must be a sell/buy pair", pair)
		}
		switch layer {
		case "permit", "aggregator", "amm":
		default:
			return fmt.Errorf("swap routing for %s names unknown layer %q", pair, layer)
		}
	}

	if config.FiatRail.SecretKey == "" {
		return fmt.Errorf("fiat rail secret key is required")
	}
	if config.FiatRail.WebhookSecret == "" && !config.FiatRail.SkipSignature {
		return fmt.Errorf("fiat rail webhook secret is required")
	}

	if config.Workers.Settlement.WorkerCount <= 0 {
		return fmt.Errorf("settlement worker count must be positive")
	}

	return nil
}

// Token looks up an accepted token by symbol, case-insensitively
func (c *Config) Token(symbol string) (TokenConfig, bool) {
	for _, t := range c.Chain.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// IsProduction returns true for production and staging deployments
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}
