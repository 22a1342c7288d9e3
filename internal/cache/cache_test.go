package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryCache_Contract(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestRedisCache_Contract(t *testing.T) {
	exerciseCache(t, startRedisForTest(t))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := c.Incr(ctx, "n", time.Minute); err != nil {
		t.Fatalf("Incr: %v", err)
	}

	now = now.Add(30 * time.Second)
	// a later increment must not extend the window
	if got, _ := c.Incr(ctx, "n", time.Hour); got != 2 {
		t.Fatalf("expected counter 2, got %d", got)
	}

	now = now.Add(31 * time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expired key, got %v", err)
	}
	if got, _ := c.Incr(ctx, "n", time.Minute); got != 1 {
		t.Fatalf("expected counter to restart at 1, got %d", got)
	}
}

func TestMemoryCache_ConcurrentIncr(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "hits", time.Minute)
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, "hits")
	if err != nil || got != "50" {
		t.Fatalf("expected 50 hits, got %q (%v)", got, err)
	}
}

func TestMemoryCache_SweepsExpiredKeysWhenLarge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	for i := 0; i < memorySweepSize; i++ {
		if _, err := c.Incr(ctx, fmt.Sprintf("participation:%d", i), time.Hour); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}
	if err := c.Set(ctx, "kept", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if err := c.Set(ctx, "fresh", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	if size != 2 {
		t.Fatalf("expected expired counters to be swept, %d keys left", size)
	}
}

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := c.Set(ctx, "greeting", "bonjour", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := c.Get(ctx, "greeting"); err != nil || got != "bonjour" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Fatalf("Incr = %d, want %d", got, want)
		}
	}

	if got, err := c.Decr(ctx, "counter"); err != nil || got != 2 {
		t.Fatalf("Decr = %d, %v, want 2", got, err)
	}
	if got, err := c.Decr(ctx, "absent"); err != nil || got != 0 {
		t.Fatalf("Decr on a missing key = %d, %v, want 0", got, err)
	}
	if _, err := c.Get(ctx, "absent"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Decr must not create a key, got %v", err)
	}

	if err := c.Set(ctx, "once", "token", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := c.Take(ctx, "once"); err != nil || got != "token" {
		t.Fatalf("Take = %q, %v", got, err)
	}
	if _, err := c.Take(ctx, "once"); !errors.Is(err, ErrMiss) {
		t.Fatalf("second Take should miss, got %v", err)
	}

	if err := c.Delete(ctx, "greeting", "counter"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "counter"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected deleted key to miss, got %v", err)
	}
}

func startRedisForTest(t *testing.T) *RedisCache {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}

	c := NewRedisCache(RedisOptions{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}
