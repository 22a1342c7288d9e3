package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thetiptop/internal/cache"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
	"thetiptop/pkg/logger"
)

// Pinger is satisfied by *pgxpool.Pool and the cache implementations.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ComponentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthReport struct {
	Status      string            `json:"status"`
	Maintenance bool              `json:"maintenance"`
	Components  []ComponentHealth `json:"components"`
	CheckedAt   time.Time         `json:"checked_at"`
}

func (r HealthReport) Healthy() bool {
	return r.Status == "ok"
}

type SystemService struct {
	db          Pinger
	cache       cache.Cache
	auditRepo   repository.AuditRepository
	logStore    *logger.SystemLogStore
	game        GameConfig
	logger      *zap.Logger
	maintenance atomic.Bool
	now         func() time.Time
}

func NewSystemService(
	db Pinger,
	kv cache.Cache,
	auditRepo repository.AuditRepository,
	logStore *logger.SystemLogStore,
	game GameConfig,
	logger *zap.Logger,
) *SystemService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SystemService{
		db:        db,
		cache:     kv,
		auditRepo: auditRepo,
		logStore:  logStore,
		game:      game,
		logger:    logger,
		now:       time.Now,
	}
}

// LoadMaintenance restores the flag shared through the cache, so every instance agrees after a restart.
func (s *SystemService) LoadMaintenance(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, cache.MaintenanceKey())
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			s.maintenance.Store(false)
			return nil
		}
		return err
	}
	s.maintenance.Store(raw == "1")
	return nil
}

// SyncMaintenance is the scheduled form of LoadMaintenance.
func (s *SystemService) SyncMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.LoadMaintenance(ctx); err != nil {
		s.logger.Warn("sync maintenance flag failed", zap.Error(err))
	}
}

func (s *SystemService) IsMaintenance() bool {
	return s.maintenance.Load()
}

func (s *SystemService) SetMaintenance(ctx context.Context, operatorID string, enabled bool) error {
	previous := s.maintenance.Load()

	if s.cache != nil {
		value := "0"
		if enabled {
			value = "1"
		}
		if err := s.cache.Set(ctx, cache.MaintenanceKey(), value, 0); err != nil {
			return err
		}
	}
	s.maintenance.Store(enabled)

	if previous == enabled {
		return nil
	}

	var actorID *uuid.UUID
	if parsed, err := uuid.Parse(strings.TrimSpace(operatorID)); err == nil {
		actorID = &parsed
	}
	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       actorID,
		Action:       model.AuditSystemMaintenance,
		ResourceType: strPtr("system"),
		ResourceID:   strPtr("maintenance"),
		OldValue:     map[string]interface{}{"maintenance_mode": previous},
		NewValue:     map[string]interface{}{"maintenance_mode": enabled},
	})
	s.logger.Warn("maintenance mode changed", zap.Bool("enabled", enabled), zap.String("operator_id", operatorID))

	return nil
}

func (s *SystemService) GameStatus() GameStatus {
	return s.game.Status(s.now().UTC())
}

func (s *SystemService) QueryLogs(q logger.LogQuery) ([]logger.SystemLogEntry, int64, error) {
	return s.logStore.Query(q)
}

// Health pings the database and the cache. A cache outage degrades the service without failing it.
func (s *SystemService) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:      "ok",
		Maintenance: s.IsMaintenance(),
		CheckedAt:   s.now().UTC(),
	}

	check := func(name string, p Pinger) ComponentHealth {
		item := ComponentHealth{Name: name, Status: "up"}
		if p == nil {
			item.Status = "disabled"
			return item
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			item.Status = "down"
			item.Error = err.Error()
		}
		return item
	}

	database := check("database", s.db)
	if database.Status == "down" {
		report.Status = "down"
	}
	kv := check("cache", s.cache)
	if kv.Status == "down" && report.Status == "ok" {
		report.Status = "degraded"
	}
	report.Components = []ComponentHealth{database, kv}

	return report
}
