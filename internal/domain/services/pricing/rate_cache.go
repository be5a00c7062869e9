package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
	"github.com/rail-service/settlement_service/pkg/metrics"
)

const rateCacheKey = "settlement:rate"

// RateStore is the durable home of the rate
type RateStore interface {
	GetRate(ctx context.Context) (*entities.RateSetting, error)
	SetRate(ctx context.Context, setting entities.RateSetting) error
}

// SharedCache is an optional second-level cache shared between instances
type SharedCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// RateCache keeps the current rate in memory for at most ttl.
type RateCache struct {
	mu          sync.RWMutex
	value       *entities.RateSetting
	refreshedAt time.Time

	ttl         time.Duration
	store       RateStore
	shared      SharedCache
	defaultRate decimal.Decimal
	logger      *logger.Logger
	now         func() time.Time
}

// NewRateCache creates a rate cache. shared may be nil. defaultRate is used
// only while storage holds no rate at all.
func NewRateCache(store RateStore, shared SharedCache, ttl time.Duration, defaultRate decimal.Decimal, log *logger.Logger) *RateCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RateCache{
		ttl:         ttl,
		store:       store,
		shared:      shared,
		defaultRate: defaultRate,
		logger:      log,
		now:         time.Now,
	}
}

// Get returns the cached rate, reloading it first when it is older than the TTL
func (c *RateCache) Get(ctx context.Context) (entities.RateSetting, error) {
	c.mu.RLock()
	if c.value != nil && c.now().Sub(c.refreshedAt) < c.ttl {
		value := *c.value
		c.mu.RUnlock()
		return value, nil
	}
	c.mu.RUnlock()

	return c.Refresh(ctx)
}

// Refresh reloads the rate from storage. When storage is unreachable the
// shared cache is consulted before giving up.
func (c *RateCache) Refresh(ctx context.Context) (entities.RateSetting, error) {
	setting, err := c.load(ctx)
	if err != nil {
		metrics.RateCacheRefreshes.WithLabelValues("failure").Inc()
		return entities.RateSetting{}, err
	}
	if !setting.Rate.IsPositive() {
		metrics.RateCacheRefreshes.WithLabelValues("invalid").Inc()
		return entities.RateSetting{}, domainerrors.ValidationError("rate", fmt.Sprintf("configured rate %s is not positive", setting.Rate))
	}

	c.install(*setting)
	metrics.RateCacheRefreshes.WithLabelValues("success").Inc()
	return *setting, nil
}

// Set stores a new operator rate and makes it visible immediately
func (c *RateCache) Set(ctx context.Context, setting entities.RateSetting) error {
	if !setting.Rate.IsPositive() {
		return domainerrors.ValidationError("rate", "must be greater than zero")
	}
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = c.now().UTC()
	}
	if err := c.store.SetRate(ctx, setting); err != nil {
		return err
	}

	c.install(setting)
	c.share(ctx, setting)
	c.logger.Info("Rate updated", "rate", setting.Rate.String(), "updated_by", setting.UpdatedBy)
	return nil
}

func (c *RateCache) load(ctx context.Context) (*entities.RateSetting, error) {
	setting, err := c.store.GetRate(ctx)
	if err == nil {
		c.share(ctx, *setting)
		return setting, nil
	}

	if domainerrors.IsNotFound(err) {
		if c.defaultRate.IsPositive() {
			c.logger.Warn("No rate stored, using configured default", "rate", c.defaultRate.String())
			return &entities.RateSetting{Rate: c.defaultRate, UpdatedAt: c.now().UTC(), UpdatedBy: "config"}, nil
		}
		return nil, fmt.Errorf("no rate configured: %w", err)
	}

	if c.shared != nil {
		var cached entities.RateSetting
		if sharedErr := c.shared.Get(ctx, rateCacheKey, &cached); sharedErr == nil {
			c.logger.Warn("Rate storage unavailable, using shared cache", "error", err)
			return &cached, nil
		}
	}
	return nil, fmt.Errorf("failed to load rate: %w", err)
}

func (c *RateCache) install(setting entities.RateSetting) {
	c.mu.Lock()
	c.value = &setting
	c.refreshedAt = c.now()
	c.mu.Unlock()
}

func (c *RateCache) share(ctx context.Context, setting entities.RateSetting) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, rateCacheKey, setting, c.ttl*10); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Failed to write rate to shared cache", "error", err)
	}
}
