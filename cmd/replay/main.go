// Command replay drives one settlement from its persisted status through the
// same pipeline the server runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/rail-service/settlement_service/internal/infrastructure/config"
	"github.com/rail-service/settlement_service/internal/infrastructure/database"
	"github.com/rail-service/settlement_service/internal/infrastructure/di"
	"github.com/rail-service/settlement_service/pkg/logger"
)

func main() {
	var (
		id      = pflag.String("id", "", "settlement transaction id")
		show    = pflag.Bool("show", false, "print the stored transaction without replaying it")
		timeout = pflag.Duration("timeout", 10*time.Minute, "maximum time to spend on the replay")
	)
	pflag.Parse()

	if err := run(*id, *show, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(rawID string, show bool, timeout time.Duration) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("--id must be a settlement uuid: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.Environment).With("command", "replay", "settlement_id", id.String())
	defer log.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	defer container.Close()
	defer container.Events.Shutdown(5 * time.Second)

	tx, err := container.Settlement.Get(ctx, id)
	if err != nil {
		return err
	}
	if !show {
		log.Info("Replaying settlement", "status", string(tx.Status))
		tx, err = container.Settlement.Replay(ctx, id)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tx)
}
