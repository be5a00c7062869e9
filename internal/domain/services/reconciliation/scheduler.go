package reconciliation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rail-service/settlement_service/pkg/logger"
)

// Scheduler runs the payout poller on a cron schedule
type Scheduler struct {
	listener *Listener
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *logger.Logger
}

// NewScheduler creates a scheduler. schedule is a standard five-field cron spec.
func NewScheduler(listener *Listener, schedule string, log *logger.Logger) *Scheduler {
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	return &Scheduler{
		listener: listener,
		schedule: schedule,
		timeout:  2 * time.Minute,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   log,
	}
}

// Start registers the poll job and starts the cron runner
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Reconciliation scheduler started", "schedule", s.schedule)
	return nil
}

// Stop waits for a running poll to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Reconciliation scheduler stopped")
}

// RunOnce polls stale payouts once
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	applied, err := s.listener.Sweep(ctx)
	if err != nil {
		s.logger.Error("Scheduled reconciliation failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Scheduled reconciliation completed", "applied", applied, "duration", time.Since(start))
}
