package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specTokenPurge      = "0 15 * * * *"
	specStockGauges     = "0 */5 * * * *"
	specMaintenanceSync = "*/30 * * * * *"
)

type TokenTask interface {
	PurgeExpiredTokens()
}

type StockTask interface {
	RefreshStockGauges()
}

// MaintenanceTask reloads the shared maintenance flag written by another instance.
type MaintenanceTask interface {
	SyncMaintenance()
}

type Deps struct {
	TokenJob       TokenTask
	StockJob       StockTask
	MaintenanceJob MaintenanceTask
}

func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.TokenJob != nil {
		addFunc(c, specTokenPurge, "auth.purge_refresh_tokens", logger, deps.TokenJob.PurgeExpiredTokens)
	}
	if deps.StockJob != nil {
		addFunc(c, specStockGauges, "gain.refresh_stock_gauges", logger, deps.StockJob.RefreshStockGauges)
	}
	if deps.MaintenanceJob != nil {
		addFunc(c, specMaintenanceSync, "system.sync_maintenance", logger, deps.MaintenanceJob.SyncMaintenance)
	}

	return c
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if logger == nil {
		return
	}

	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
