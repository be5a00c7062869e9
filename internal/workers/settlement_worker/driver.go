package settlement_worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// Processor advances one settlement as far as it can go
type Processor interface {
	Process(ctx context.Context, id uuid.UUID) (*entities.SettlementTransaction, error)
}

// Lister finds settlements that need work
type Lister interface {
	ListProcessable(ctx context.Context, pendingBefore, staleBefore time.Time, limit int) ([]*entities.SettlementTransaction, error)
}

// DriverConfig holds configuration for the batch driver
type DriverConfig struct {
	WorkerCount        int
	PollInterval       time.Duration
	BatchSize          int
	InterRecordDelay   time.Duration
	TransactionTimeout time.Duration
	StaleAfter         time.Duration
	PendingGrace       time.Duration
}

// DefaultDriverConfig returns default configuration
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		WorkerCount:        4,
		PollInterval:       15 * time.Second,
		BatchSize:          50,
		InterRecordDelay:   200 * time.Millisecond,
		TransactionTimeout: 5 * time.Minute,
		StaleAfter:         10 * time.Minute,
		PendingGrace:       0,
	}
}

// ConfigFrom maps the worker section of the service config, keeping
// defaults for unset values
func ConfigFrom(cfg config.SettlementWorkerConfig) DriverConfig {
	out := DefaultDriverConfig()
	if cfg.WorkerCount > 0 {
		out.WorkerCount = cfg.WorkerCount
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	if cfg.InterRecordDelay > 0 {
		out.InterRecordDelay = cfg.InterRecordDelay
	}
	if cfg.TransactionTimeout > 0 {
		out.TransactionTimeout = cfg.TransactionTimeout
	}
	if cfg.StaleAfter > 0 {
		out.StaleAfter = cfg.StaleAfter
	}
	if cfg.PendingGrace > 0 {
		out.PendingGrace = cfg.PendingGrace
	}
	return out
}

// Driver scans for processable settlements and feeds them to a bounded pool
type Driver struct {
	config    DriverConfig
	lister    Lister
	processor Processor
	limiter   *rate.Limiter
	logger    *logger.Logger
	now       func() time.Time

	inFlight sync.Map
	jobs     chan uuid.UUID

	// Metrics
	processedCounter  metric.Int64Counter
	durationHistogram metric.Float64Histogram
	scanCounter       metric.Int64Counter

	// Worker management
	scanWG         sync.WaitGroup
	workerWG       sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewDriver creates a new batch driver
func NewDriver(config DriverConfig, lister Lister, processor Processor, log *logger.Logger) (*Driver, error) {
	if config.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	if config.PollInterval <= 0 || config.TransactionTimeout <= 0 {
		return nil, fmt.Errorf("poll interval and transaction timeout must be positive")
	}
	// a row younger than one full run may still be in another worker's hands
	if config.StaleAfter <= config.TransactionTimeout {
		return nil, fmt.Errorf("stale after (%s) must exceed the transaction timeout (%s)", config.StaleAfter, config.TransactionTimeout)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultDriverConfig().BatchSize
	}

	meter := otel.Meter("settlement-driver")

	processedCounter, err := meter.Int64Counter(
		"settlement.processed.total",
		metric.WithDescription("Total number of settlement runs by resulting status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"settlement.processing.duration.seconds",
		metric.WithDescription("Settlement run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	scanCounter, err := meter.Int64Counter(
		"settlement.scan.total",
		metric.WithDescription("Total number of batch scans"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan counter: %w", err)
	}

	limit := rate.Inf
	if config.InterRecordDelay > 0 {
		limit = rate.Every(config.InterRecordDelay)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		config:            config,
		lister:            lister,
		processor:         processor,
		limiter:           rate.NewLimiter(limit, 1),
		logger:            log,
		now:               time.Now,
		jobs:              make(chan uuid.UUID),
		processedCounter:  processedCounter,
		durationHistogram: durationHistogram,
		scanCounter:       scanCounter,
		shutdownCtx:       ctx,
		shutdownCancel:    cancel,
	}, nil
}

// Start launches the worker pool and the scan loop
func (d *Driver) Start(ctx context.Context) error {
	d.logger.Info("Starting settlement driver",
		"worker_count", d.config.WorkerCount,
		"poll_interval", d.config.PollInterval,
		"batch_size", d.config.BatchSize)

	for i := 0; i < d.config.WorkerCount; i++ {
		d.workerWG.Add(1)
		go d.worker(i)
	}

	d.scanWG.Add(1)
	go d.scanLoop(ctx)

	return nil
}

// Shutdown stops scanning and waits for in-flight settlements to finish
func (d *Driver) Shutdown(timeout time.Duration) error {
	d.logger.Info("Shutting down settlement driver", "timeout", timeout)

	d.shutdownCancel()

	done := make(chan struct{})
	go func() {
		d.scanWG.Wait()
		close(d.jobs)
		d.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Settlement driver shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (d *Driver) scanLoop(ctx context.Context) {
	defer d.scanWG.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdownCtx.Done():
			return
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

// scan lists one batch and dispatches it, pacing records by the inter-record delay
func (d *Driver) scan(ctx context.Context) int {
	now := d.now()
	rows, err := d.lister.ListProcessable(ctx, now.Add(-d.config.PendingGrace), now.Add(-d.config.StaleAfter), d.config.BatchSize)
	if err != nil {
		d.scanCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		d.logger.Error("Failed to list processable settlements", "error", err)
		return 0
	}
	d.scanCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))

	dispatched := 0
	for _, tx := range rows {
		if _, busy := d.inFlight.LoadOrStore(tx.ID, struct{}{}); busy {
			continue
		}
		if err := d.limiter.Wait(d.shutdownCtx); err != nil {
			d.inFlight.Delete(tx.ID)
			return dispatched
		}
		select {
		case d.jobs <- tx.ID:
			dispatched++
		case <-d.shutdownCtx.Done():
			d.inFlight.Delete(tx.ID)
			return dispatched
		case <-ctx.Done():
			d.inFlight.Delete(tx.ID)
			return dispatched
		}
	}

	if dispatched > 0 {
		d.logger.Debug("Dispatched settlements", "count", dispatched, "listed", len(rows))
	}
	return dispatched
}

func (d *Driver) worker(workerID int) {
	defer d.workerWG.Done()
	for id := range d.jobs {
		d.processOne(workerID, id)
	}
}

// processOne runs a settlement under its own deadline. The deadline is not
// tied to shutdown so a draining driver lets the record finish.
func (d *Driver) processOne(workerID int, id uuid.UUID) {
	defer d.inFlight.Delete(id)

	ctx, cancel := context.WithTimeout(context.Background(), d.config.TransactionTimeout)
	defer cancel()

	start := time.Now()
	tx, err := d.processor.Process(ctx, id)
	duration := time.Since(start)

	status := "unknown"
	if tx != nil {
		status = string(tx.Status)
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	d.processedCounter.Add(ctx, 1, attrs)
	d.durationHistogram.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("Settlement exceeded its deadline", "settlement_id", id.String(), "worker_id", workerID)
			return
		}
		d.logger.Warn("Settlement run ended with error",
			"settlement_id", id.String(),
			"worker_id", workerID,
			"status", status,
			"error", err)
		return
	}

	d.logger.Debug("Settlement run finished",
		"settlement_id", id.String(),
		"worker_id", workerID,
		"status", status,
		"duration", duration)
}
