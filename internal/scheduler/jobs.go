package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"thetiptop/internal/metrics"
	"thetiptop/internal/repository"
)

const jobTimeout = 2 * time.Minute

type TokenCleanupJob struct {
	tokens repository.RefreshTokenRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenCleanupJob(tokens repository.RefreshTokenRepository, logger *zap.Logger) *TokenCleanupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCleanupJob{tokens: tokens, logger: logger, now: time.Now}
}

func (j *TokenCleanupJob) PurgeExpiredTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	purged, err := j.tokens.PurgeExpired(ctx, j.now().UTC())
	if err != nil {
		j.logger.Warn("purge expired refresh tokens failed", zap.Error(err))
		return
	}
	if purged > 0 {
		j.logger.Info("expired refresh tokens purged", zap.Int64("count", purged))
	}
}

type StockGaugeJob struct {
	gains  repository.GainRepository
	logger *zap.Logger
}

func NewStockGaugeJob(gains repository.GainRepository, logger *zap.Logger) *StockGaugeJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockGaugeJob{gains: gains, logger: logger}
}

func (j *StockGaugeJob) RefreshStockGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	gains, err := j.gains.List(ctx, false)
	if err != nil {
		j.logger.Warn("refresh gain stock gauges failed", zap.Error(err))
		return
	}
	for _, gain := range gains {
		metrics.SetGainRemaining(gain.Name, gain.RemainingQuantity)
		if gain.IsActive && gain.RemainingQuantity == 0 {
			j.logger.Warn("gain out of stock", zap.String("gain", gain.Name), zap.String("gain_id", gain.ID.String()))
		}
	}
}
