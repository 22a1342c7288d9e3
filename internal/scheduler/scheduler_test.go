package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokens struct {
	purgedAt time.Time
	err      error
}

func (s *stubTokens) Create(context.Context, string, uuid.UUID, time.Time) error { return nil }
func (s *stubTokens) Rotate(context.Context, string, string, time.Time, time.Time) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubTokens) Delete(context.Context, string) (uuid.UUID, error) { return uuid.Nil, nil }
func (s *stubTokens) DeleteByUser(context.Context, uuid.UUID) error     { return nil }
func (s *stubTokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.purgedAt = now
	return 3, s.err
}

type taskFunc func()

func (f taskFunc) PurgeExpiredTokens() { f() }

type stockFunc func()

func (f stockFunc) RefreshStockGauges() { f() }

type syncFunc func()

func (f syncFunc) SyncMaintenance() { f() }

func TestNewScheduler_RegistersConfiguredJobs(t *testing.T) {
	c := NewScheduler(Deps{TokenJob: taskFunc(func() {})}, nil)
	if got := len(c.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	c = NewScheduler(Deps{
		TokenJob:       taskFunc(func() {}),
		StockJob:       stockFunc(func() {}),
		MaintenanceJob: syncFunc(func() {}),
	}, nil)
	if got := len(c.Entries()); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}

	c = NewScheduler(Deps{}, nil)
	if got := len(c.Entries()); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
}

func TestAddFunc_RecoversPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	c := NewScheduler(Deps{TokenJob: taskFunc(func() { panic("boom") })}, zap.New(core))

	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entries[0].Job.Run()

	if logs.FilterMessage("scheduler job panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestTokenCleanupJob(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tokens := &stubTokens{}
	core, logs := observer.New(zapcore.InfoLevel)
	job := NewTokenCleanupJob(tokens, zap.New(core))
	job.now = func() time.Time { return fixed }

	job.PurgeExpiredTokens()
	if !tokens.purgedAt.Equal(fixed) {
		t.Fatalf("expected purge at %v, got %v", fixed, tokens.purgedAt)
	}
	if logs.FilterMessage("expired refresh tokens purged").Len() != 1 {
		t.Fatal("expected purge to be logged")
	}

	tokens.err = errors.New("db down")
	job.PurgeExpiredTokens()
	if logs.FilterMessage("purge expired refresh tokens failed").Len() != 1 {
		t.Fatal("expected failure to be logged")
	}
}
