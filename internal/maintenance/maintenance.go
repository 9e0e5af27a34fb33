// Package maintenance runs periodic housekeeping on a cron schedule:
// it logs store statistics and requests a pebble compaction so long-lived
// servers keep disk usage in check.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/store"
)

// Start launches the scheduler when enabled and returns a cancel func.
// An empty cron defaults to daily at 03:00.
func Start(ctx context.Context, cfg config.MaintenanceConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("maintenance_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("maintenance_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid maintenance cron expression: %s", cfg.Cron)
	}

	logger.Info("maintenance_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, running one pass per tick until canceled.
func runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("maintenance_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			runOnce()
		case <-ctx.Done():
			logger.Info("maintenance_scheduler_stopping")
			return
		}
	}
}

func runOnce() {
	users, convs, msgs := store.Counts()
	disk, err := store.DiskEstimate()
	if err != nil {
		logger.Warn("maintenance_disk_estimate_failed", "error", err)
	}
	logger.Info("maintenance_stats", "users", users, "conversations", convs, "messages", msgs, "disk_bytes", disk)

	if err := store.Compact(); err != nil {
		logger.Warn("maintenance_compact_failed", "error", err)
		return
	}
	logger.Info("maintenance_compacted")
}
