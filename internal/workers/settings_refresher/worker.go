package settings_refresher

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher reloads cached settings from the durable store
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Worker struct {
	refresher Refresher
	schedule  string
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewWorker(refresher Refresher, schedule string, logger *zap.Logger) *Worker {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Worker{
		refresher: refresher,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger,
	}
}

func (w *Worker) Start() error {
	// Initial load so the first settlement does not pay for it
	w.RunOnce()

	if _, err := w.cron.AddFunc(w.schedule, w.RunOnce); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Settings refresher started", zap.String("schedule", w.schedule))
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Settings refresher stopped")
}

// RunOnce reloads the rate and fee tiers
func (w *Worker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.refresher.Refresh(ctx); err != nil {
		w.logger.Error("Failed to refresh settlement settings", zap.Error(err))
	}
}
