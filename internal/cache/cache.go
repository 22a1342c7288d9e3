// Package cache is the TTL key/value store behind login throttling, participation limits,
// email verification tokens and the public gain list.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr bumps a counter and starts its ttl on the first increment only.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr gives back one unit of a live counter. A missing key stays missing and yields 0.
	Decr(ctx context.Context, key string) (int64, error)
	// Take returns the value and removes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

const prefix = "tiptop:"

func LoginFailuresKey(email string) string {
	return prefix + "login_failures:" + strings.ToLower(strings.TrimSpace(email))
}

func ParticipationKey(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("%sparticipation:%s:%s", prefix, userID, day.UTC().Format("2006-01-02"))
}

func VerifyTokenKey(tokenHash string) string {
	return prefix + "verify_email:" + tokenHash
}

func GainListKey() string {
	return prefix + "gains:active"
}

func MaintenanceKey() string {
	return prefix + "maintenance"
}
