package di

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/adapters/aggregator"
	"github.com/rail-service/settlement_service/internal/adapters/amm"
	"github.com/rail-service/settlement_service/internal/adapters/bundler"
	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/adapters/fiatrail"
	"github.com/rail-service/settlement_service/internal/api/handlers"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/internal/domain/services/balance"
	"github.com/rail-service/settlement_service/internal/domain/services/custody"
	"github.com/rail-service/settlement_service/internal/domain/services/payout"
	"github.com/rail-service/settlement_service/internal/domain/services/pricing"
	"github.com/rail-service/settlement_service/internal/domain/services/reconciliation"
	"github.com/rail-service/settlement_service/internal/domain/services/settlement"
	"github.com/rail-service/settlement_service/internal/domain/services/swap"
	"github.com/rail-service/settlement_service/internal/domain/services/sweep"
	"github.com/rail-service/settlement_service/internal/infrastructure/adapters"
	"github.com/rail-service/settlement_service/internal/infrastructure/cache"
	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/internal/infrastructure/database"
	"github.com/rail-service/settlement_service/internal/infrastructure/events"
	"github.com/rail-service/settlement_service/internal/infrastructure/repositories"
	"github.com/rail-service/settlement_service/internal/workers/settings_refresher"
	"github.com/rail-service/settlement_service/internal/workers/settlement_worker"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/retry"
)

const defaultSlippageBps = 100

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger

	// Nil when redis is disabled
	Redis cache.RedisClient

	// Adapters
	Chain      *chain.Client
	Bundler    *bundler.Client
	Aggregator *aggregator.Client
	AMM        *amm.Router
	FiatRail   *fiatrail.Client

	// Repositories
	SettlementRepo *repositories.SettlementRepository
	CustodyRepo    *repositories.CustodyRepository
	FeeTierRepo    *repositories.FeeTierRepository
	SettingsRepo   *repositories.SettingsRepository

	// Domain services
	Custody        *custody.Deriver
	Prober         *balance.Prober
	Sweeper        *sweep.Executor
	SwapRouter     *swap.Router
	SwapExecutor   *swap.Executor
	Pricing        *pricing.Engine
	Payouts        *payout.Initiator
	Events         *events.Publisher
	Notifier       *adapters.OperatorNotifier
	Settlement     *settlement.Service
	Reconciliation *reconciliation.Listener

	// Workers
	SettlementDriver        *settlement_worker.Driver
	ReconciliationScheduler *reconciliation.Scheduler
	SettingsRefresher       *settings_refresher.Worker
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	container := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
	}

	container.SettlementRepo = repositories.NewSettlementRepository(db)
	container.CustodyRepo = repositories.NewCustodyRepository(db)
	container.FeeTierRepo = repositories.NewFeeTierRepository(db)
	container.SettingsRepo = repositories.NewSettingsRepository(db)

	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
		if err != nil {
			// Rate sharing and webhook dedup degrade without redis; the pipeline does not
			log.Warn("Redis unavailable, continuing without shared cache", "error", err)
		} else {
			container.Redis = redisClient
		}
	}

	if err := container.initializeAdapters(ctx); err != nil {
		return nil, err
	}
	if err := container.initializeDomainServices(ctx); err != nil {
		return nil, err
	}
	if err := container.initializeWorkers(); err != nil {
		return nil, err
	}

	return container, nil
}

func (c *Container) initializeAdapters(ctx context.Context) error {
	cfg := c.Config

	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cfg.Chain.RPCURL,
		ChainID:      cfg.Chain.ChainID,
		MaxRetries:   cfg.Chain.RPCMaxRetries,
		PollInterval: cfg.Chain.ReceiptPollInterval,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize chain client: %w", err)
	}
	c.Chain = chainClient

	if cfg.Bundler.URL != "" {
		bundlerClient, err := bundler.Dial(ctx, bundler.Config{
			URL:             cfg.Bundler.URL,
			PaymasterURL:    cfg.Bundler.PaymasterURL,
			SponsorPolicyID: cfg.Bundler.SponsorPolicyID,
			EntryPoint:      common.HexToAddress(cfg.Custody.EntryPointAddress),
			PollInterval:    cfg.Bundler.PollInterval,
			ReceiptTimeout:  cfg.Bundler.ReceiptTimeout,
		}, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize bundler client: %w", err)
		}
		c.Bundler = bundlerClient
	}

	c.Aggregator = aggregator.NewClient(aggregator.Config{
		BaseURL:         cfg.Aggregator.BaseURL,
		APIKey:          cfg.Aggregator.APIKey,
		Version:         cfg.Aggregator.Version,
		ChainID:         cfg.Chain.ChainID,
		Timeout:         cfg.Aggregator.Timeout,
		RateLimitPerSec: cfg.Aggregator.RateLimitPerSec,
	}, c.Logger)

	c.AMM = amm.NewRouter(chainClient,
		common.HexToAddress(cfg.AMM.RouterAddress),
		common.HexToAddress(cfg.AMM.FactoryAddress))

	c.FiatRail = fiatrail.NewClient(fiatrail.Config{
		BaseURL:         cfg.FiatRail.BaseURL,
		SecretKey:       cfg.FiatRail.SecretKey,
		WebhookSecret:   cfg.FiatRail.WebhookSecret,
		Currency:        cfg.FiatRail.Currency,
		Timeout:         cfg.FiatRail.Timeout,
		MaxRetries:      cfg.FiatRail.MaxRetries,
		RateLimitPerSec: cfg.FiatRail.RateLimitPerSec,
	}, c.Logger)

	c.Events = events.NewPublisher(cfg.Kafka, c.Logger)
	c.Notifier = adapters.NewOperatorNotifier(cfg.Notify, c.Logger)

	c.Logger.Info("Adapters initialized",
		"chain_id", chainClient.ChainID().String(),
		"bundler", c.Bundler != nil,
		"redis", c.Redis != nil)
	return nil
}

func (c *Container) initializeDomainServices(ctx context.Context) error {
	cfg := c.Config

	strategy, err := c.custodyStrategy()
	if err != nil {
		return err
	}
	c.Custody, err = custody.NewDeriver(strategy, c.CustodyRepo, custody.Config{
		ChainID:          cfg.Chain.ChainID,
		KeyEncryptionKey: cfg.Custody.KeyEncryptionKey,
		MaxNonceSearch:   cfg.Custody.MaxNonceSearch,
		CacheSize:        cfg.Custody.CacheSize,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize custody deriver: %w", err)
	}

	c.Prober = balance.NewProber(c.Chain, retry.RetryConfig{
		MaxAttempts: cfg.Chain.RPCMaxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}, c.Logger)

	poolKey, err := chain.ParsePrivateKey(cfg.Chain.PoolPrivateKey)
	if err != nil {
		return fmt.Errorf("invalid pool private key: %w", err)
	}
	// Sweeps land where swaps are signed from
	pool := chain.AddressOf(poolKey)
	if cfg.Chain.PoolAddress != "" && common.HexToAddress(cfg.Chain.PoolAddress) != pool {
		return fmt.Errorf("pool address %s does not match the pool private key (%s)", cfg.Chain.PoolAddress, pool.Hex())
	}

	minAmount, err := decimal.NewFromString(cfg.Sweep.MinAmount)
	if err != nil {
		return fmt.Errorf("invalid sweep min amount: %w", err)
	}
	sponsored, funded, err := c.sweepers(pool)
	if err != nil {
		return err
	}
	c.Sweeper = sweep.NewExecutor(c.Prober, sponsored, funded, sweep.Config{
		Mode:           cfg.Sweep.Mode,
		MinAmount:      minAmount,
		FundedFallback: cfg.Sweep.FundedFallback,
	}, c.Logger)

	c.SwapRouter, err = swap.NewRouter(
		swap.NewPermitStrategy(c.Aggregator, defaultSlippageBps),
		swap.NewAggregatorStrategy(c.Aggregator, c.Chain, defaultSlippageBps),
		swap.NewAMMStrategy(c.AMM, common.HexToAddress(cfg.Chain.WrappedNative), cfg.AMM.NativeTargets, 0),
		cfg.Swap.Routing,
		c.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize swap router: %w", err)
	}
	c.SwapExecutor = swap.NewExecutor(c.Chain, poolKey, c.Logger)

	defaultRate := decimal.Zero
	if cfg.Pricing.DefaultRate != "" {
		if defaultRate, err = decimal.NewFromString(cfg.Pricing.DefaultRate); err != nil {
			return fmt.Errorf("invalid default rate: %w", err)
		}
	}
	var shared pricing.SharedCache
	if c.Redis != nil {
		shared = c.Redis
	}
	rates := pricing.NewRateCache(c.SettingsRepo, shared, cfg.Pricing.RateTTL, defaultRate, c.Logger)
	fees := pricing.NewFeeSchedule(c.FeeTierRepo, c.Logger)
	c.Pricing = pricing.NewEngine(rates, fees, c.Logger)
	if err := c.Pricing.Refresh(ctx); err != nil {
		// The refresher retries on its schedule; conversions fail until it succeeds
		c.Logger.Warn("Initial pricing load failed", "error", err)
	}

	c.Payouts = payout.NewInitiator(c.FiatRail, c.Logger)

	tokens := make([]entities.Token, 0, len(cfg.Chain.Tokens))
	for _, t := range cfg.Chain.Tokens {
		tokens = append(tokens, entities.Token{Symbol: strings.ToUpper(t.Symbol), Address: t.Address, Decimals: t.Decimals})
	}
	settlementToken, ok := cfg.Token(cfg.Chain.SettlementToken)
	if !ok {
		return fmt.Errorf("settlement token %s is not in chain.tokens", cfg.Chain.SettlementToken)
	}

	c.Settlement = settlement.NewService(settlement.Dependencies{
		Repo:     c.SettlementRepo,
		Custody:  c.Custody,
		Accounts: c.FiatRail,
		Prober:   c.Prober,
		Sweeper:  c.Sweeper,
		Router:   c.SwapRouter,
		Swapper:  c.SwapExecutor,
		Pricer:   c.Pricing,
		Payouts:  c.Payouts,
		Events:   c.Events,
		Notifier: c.Notifier,
	}, settlement.Config{
		ChainID: cfg.Chain.ChainID,
		Tokens:  tokens,
		SettlementToken: entities.Token{
			Symbol:   strings.ToUpper(settlementToken.Symbol),
			Address:  settlementToken.Address,
			Decimals: settlementToken.Decimals,
		},
		MinAmount:   minAmount,
		MaxAttempts: cfg.Workers.Settlement.MaxAttempts,
	}, c.Logger)

	var dedup reconciliation.Deduper
	if c.Redis != nil {
		dedup = c.Redis
	}
	c.Reconciliation = reconciliation.NewListener(c.SettlementRepo, dedup, c.FiatRail, c.Events, reconciliation.Config{
		StaleAfter: cfg.Workers.ReconciliationStaleAfter,
	}, c.Logger)

	return nil
}

func (c *Container) custodyStrategy() (custody.Strategy, error) {
	cfg := c.Config.Custody
	switch cfg.Strategy {
	case string(entities.DerivationStrategyHD):
		strategy, err := custody.NewHDStrategy(cfg.Mnemonic, cfg.Passphrase, cfg.SeedHex)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize hd custody: %w", err)
		}
		return strategy, nil
	default:
		strategy, err := custody.NewSmartAccountStrategy(c.Chain, common.HexToAddress(cfg.FactoryAddress), cfg.OwnerSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize smart account custody: %w", err)
		}
		return strategy, nil
	}
}

// sweepers builds whichever sweep modes the deployment can run. Either may be nil.
func (c *Container) sweepers(pool common.Address) (sweep.Sweeper, sweep.Sweeper, error) {
	cfg := c.Config
	factory := common.HexToAddress(cfg.Custody.FactoryAddress)

	var sponsored, funded sweep.Sweeper
	if c.Bundler != nil {
		sponsored = sweep.NewSponsoredSweeper(c.Bundler, c.Chain, factory, pool, common.FromHex(cfg.Bundler.PaymasterStub), c.Logger)
	}

	if cfg.Chain.ReservePrivateKey != "" {
		reserve, err := chain.ParsePrivateKey(cfg.Chain.ReservePrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid reserve private key: %w", err)
		}
		topUp, ok := new(big.Int).SetString(cfg.Sweep.GasTopUpWei, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid gas top-up %q", cfg.Sweep.GasTopUpWei)
		}
		funded = sweep.NewFundedSweeper(c.Chain, reserve, factory, pool, topUp, c.Logger)
	}

	if sponsored == nil && funded == nil {
		return nil, nil, fmt.Errorf("no sweep mode available: configure a bundler or a reserve key")
	}
	return sponsored, funded, nil
}

func (c *Container) initializeWorkers() error {
	cfg := c.Config

	driver, err := settlement_worker.NewDriver(
		settlement_worker.ConfigFrom(cfg.Workers.Settlement),
		c.SettlementRepo,
		c.Settlement,
		c.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize settlement driver: %w", err)
	}
	c.SettlementDriver = driver

	c.ReconciliationScheduler = reconciliation.NewScheduler(c.Reconciliation, cfg.Workers.ReconciliationSchedule, c.Logger)
	c.SettingsRefresher = settings_refresher.NewWorker(c.Pricing, cfg.Workers.SettingsRefreshSchedule, c.Logger.Zap())

	return nil
}

// HealthChecks lists the dependencies reported on /health
func (c *Container) HealthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{
		{
			Name:     "database",
			Critical: true,
			Check: func(ctx context.Context) error {
				return database.HealthCheck(ctx, c.DB)
			},
		},
		{
			Name: "chain",
			Check: func(ctx context.Context) error {
				_, err := c.Chain.SuggestGasPrice(ctx)
				return err
			},
		},
		{
			Name: "rate",
			Check: func(ctx context.Context) error {
				_, err := c.Pricing.Rates().Get(ctx)
				return err
			},
		},
	}
	if c.Redis != nil {
		checks = append(checks, handlers.HealthCheck{
			Name:  "redis",
			Check: c.Redis.Ping,
		})
	}
	return checks
}

// Close releases connections held by the container
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis", "error", err)
		}
	}
	if c.Bundler != nil {
		c.Bundler.Close()
	}
	if c.Chain != nil {
		c.Chain.Close()
	}
}
