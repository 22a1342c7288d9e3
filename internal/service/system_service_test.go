package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"thetiptop/internal/cache"
	"thetiptop/internal/model"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestSystemService_MaintenanceSharedThroughCache(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	kv := cache.NewMemoryCache()
	admin := seedUser(t, store, "admin@example.com", model.RoleAdmin, true)

	first := NewSystemService(nil, kv, store.auditRepo(), nil, GameConfig{}, zap.NewNop())
	if err := first.SetMaintenance(context.Background(), admin.ID.String(), true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	if !first.IsMaintenance() {
		t.Fatal("expected maintenance on")
	}
	// setting the same value again is not audited twice
	if err := first.SetMaintenance(context.Background(), admin.ID.String(), true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}

	second := NewSystemService(nil, kv, store.auditRepo(), nil, GameConfig{}, zap.NewNop())
	if err := second.LoadMaintenance(context.Background()); err != nil {
		t.Fatalf("LoadMaintenance: %v", err)
	}
	if !second.IsMaintenance() {
		t.Fatal("expected maintenance flag to be restored from cache")
	}

	count := 0
	for _, action := range store.auditActions() {
		if action == model.AuditSystemMaintenance {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one maintenance audit entry, got %d", count)
	}
}

func TestSystemService_Health(t *testing.T) {
	t.Parallel()

	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	svc := NewSystemService(up, cache.NewMemoryCache(), nil, nil, GameConfig{}, nil)
	if report := svc.Health(context.Background()); !report.Healthy() {
		t.Fatalf("expected healthy report, got %+v", report)
	}

	svc = NewSystemService(down, cache.NewMemoryCache(), nil, nil, GameConfig{}, nil)
	report := svc.Health(context.Background())
	if report.Status != "down" || report.Components[0].Error == "" {
		t.Fatalf("expected database down, got %+v", report)
	}
}

func TestSystemService_GameStatus(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	svc := NewSystemService(nil, nil, nil, nil, GameConfig{EndAt: &end}, nil)

	svc.now = func() time.Time { return end.Add(-time.Hour) }
	if status := svc.GameStatus(); !status.Open {
		t.Fatalf("expected open game, got %+v", status)
	}
	svc.now = func() time.Time { return end.Add(time.Second) }
	if status := svc.GameStatus(); status.Open || status.Reason == "" {
		t.Fatalf("expected closed game with reason, got %+v", status)
	}
}

func TestStatsOverview(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	client := seedUser(t, store, "client@example.com", model.RoleClient, true)
	employee := seedUser(t, store, "staff@example.com", model.RoleEmployee, true)
	gain := seedGain(t, store, "Infuseur", 8, 10, 10)
	for _, code := range []string{"STATS00001", "STATS00002", "STATS00003", "STATS00004"} {
		seedCode(t, store, code, gain.ID)
	}
	if _, err := store.codeRepo().Redeem(context.Background(), "STATS00001", client.ID, time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := store.codeRepo().MarkDelivered(context.Background(), "STATS00001", employee.ID, time.Now()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	overview, err := NewStatsService(store.codeRepo(), store.userRepo()).Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.TotalCodes != 4 || overview.UsedCodes != 1 || overview.DeliveredCodes != 1 || overview.Participants != 1 {
		t.Fatalf("unexpected code stats: %+v", overview.CodeStats)
	}
	if overview.RegisteredUsers != 2 || overview.ClientUsers != 1 {
		t.Fatalf("unexpected user counts: %d/%d", overview.RegisteredUsers, overview.ClientUsers)
	}
	if overview.RedemptionRate != 0.25 || overview.DeliveryRate != 1 {
		t.Fatalf("unexpected rates: %v %v", overview.RedemptionRate, overview.DeliveryRate)
	}
}
