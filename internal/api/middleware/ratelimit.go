package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/response"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
	// idle keys are swept once this many keys are tracked
	rateLimitSweepSize = 4096
)

// slidingWindow keeps the request timestamps of every key seen by one middleware
// instance; two routes limited on the same e-mail keep separate budgets.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &slidingWindow{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

// allow records a hit for key and reports how long to wait when the budget is spent.
func (w *slidingWindow) allow(key string, now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.hits) >= rateLimitSweepSize {
		w.sweep(now)
	}

	cutoff := now.Add(-w.window)
	recent := w.hits[key][:0]
	for _, ts := range w.hits[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= w.limit {
		w.hits[key] = recent
		return false, recent[0].Add(w.window).Sub(now)
	}
	w.hits[key] = append(recent, now)
	return true, 0
}

func (w *slidingWindow) sweep(now time.Time) {
	cutoff := now.Add(-w.window)
	for key, stamps := range w.hits {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(w.hits, key)
		}
	}
}

// RateLimit throttles a route per caller. keyTemplate may reference {ip} and {user_id};
// an anonymous caller on a {user_id} template falls back to its IP.
func RateLimit(keyTemplate string, limit int, window time.Duration) gin.HandlerFunc {
	return limitBy(newSlidingWindow(limit, window), func(c *gin.Context) string {
		userID := ""
		if claims, ok := GetClaims(c); ok {
			userID = claims.UserID
		}
		if userID == "" && strings.Contains(keyTemplate, "{user_id}") {
			userID = "anonymous@" + c.ClientIP()
		}
		return strings.NewReplacer("{ip}", c.ClientIP(), "{user_id}", userID).Replace(keyTemplate)
	})
}

// RateLimitByJSONField throttles on a body field such as the login e-mail, case-insensitively.
// Requests without the field share their IP's budget.
func RateLimitByJSONField(field string, limit int, window time.Duration) gin.HandlerFunc {
	field = strings.TrimSpace(field)
	return limitBy(newSlidingWindow(limit, window), func(c *gin.Context) string {
		if value := jsonBodyField(c, field); value != "" {
			return field + ":" + strings.ToLower(value)
		}
		return field + ":missing@" + c.ClientIP()
	})
}

func limitBy(w *slidingWindow, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := w.allow(key(c), time.Now())
		if !ok {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
			response.Fail(c, http.StatusTooManyRequests, response.ErrRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

// jsonBodyField reads a top-level string field and restores the body for binding.
func jsonBodyField(c *gin.Context, field string) string {
	if field == "" || c.Request == nil || c.Request.Body == nil {
		return ""
	}

	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(payload[field], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}
