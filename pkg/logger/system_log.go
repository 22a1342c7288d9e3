package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultSystemLogCapacity = 1000
	defaultLogPageSize       = 20
	maxLogPageSize           = 200
)

type SystemLogEntry struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogQuery filters the in-memory log tail shown on the admin dashboard.
// MinLevel keeps entries at or above that severity; Component matches the
// logger name (auth, redemption, scheduler...) or any of its children.
type LogQuery struct {
	MinLevel  string
	Component string
	Keyword   string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// SystemLogStore keeps the most recent entries in a fixed ring.
type SystemLogStore struct {
	mu       sync.RWMutex
	ring     []SystemLogEntry
	capacity int
	head     int
	size     int
	lastID   int64
}

func NewSystemLogStore(capacity int) *SystemLogStore {
	if capacity <= 0 {
		capacity = defaultSystemLogCapacity
	}
	return &SystemLogStore{
		ring:     make([]SystemLogEntry, capacity),
		capacity: capacity,
	}
}

// WrapZapLogger tees every enabled entry of base into store, redacted.
func WrapZapLogger(base *zap.Logger, store *SystemLogStore) *zap.Logger {
	if base == nil || store == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &teeCore{Core: core, store: store}
	}))
}

// Query returns one page of matching entries, newest first, with the total match count.
func (s *SystemLogStore) Query(q LogQuery) ([]SystemLogEntry, int64, error) {
	if s == nil {
		return []SystemLogEntry{}, 0, nil
	}

	minLevel := zapcore.DebugLevel
	if raw := strings.TrimSpace(q.MinLevel); raw != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return nil, 0, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
		minLevel = parsed
	}
	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultLogPageSize
	}
	if pageSize > maxLogPageSize {
		pageSize = maxLogPageSize
	}
	component := strings.ToLower(strings.TrimSpace(q.Component))
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))

	matches := make([]SystemLogEntry, 0)
	s.mu.RLock()
	for i := 0; i < s.size; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		entry := s.ring[idx]

		level, err := zapcore.ParseLevel(entry.Level)
		if err == nil && level < minLevel {
			continue
		}
		if component != "" && entry.Component != component && !strings.HasPrefix(entry.Component, component+".") {
			continue
		}
		if !q.From.IsZero() && entry.Timestamp.Before(q.From.UTC()) {
			continue
		}
		if !q.To.IsZero() && entry.Timestamp.After(q.To.UTC()) {
			continue
		}
		if keyword != "" && !mentions(entry, keyword) {
			continue
		}
		matches = append(matches, entry)
	}
	s.mu.RUnlock()

	total := int64(len(matches))
	start := (page - 1) * pageSize
	if start >= len(matches) {
		return []SystemLogEntry{}, total, nil
	}
	end := min(start+pageSize, len(matches))

	out := make([]SystemLogEntry, 0, end-start)
	for _, entry := range matches[start:end] {
		out = append(out, entry.clone())
	}
	return out, total, nil
}

func mentions(entry SystemLogEntry, keyword string) bool {
	if strings.Contains(strings.ToLower(entry.Message), keyword) || strings.Contains(entry.Caller, keyword) {
		return true
	}
	return len(entry.Fields) > 0 && strings.Contains(strings.ToLower(fmt.Sprint(entry.Fields)), keyword)
}

func (e SystemLogEntry) clone() SystemLogEntry {
	if len(e.Fields) == 0 {
		return e
	}
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	e.Fields = fields
	return e
}

func (s *SystemLogStore) add(entry zapcore.Entry, fields []zapcore.Field) {
	if s == nil {
		return
	}

	var encoded map[string]interface{}
	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(enc)
		}
		if len(enc.Fields) > 0 {
			encoded = enc.Fields
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	s.ring[s.head] = SystemLogEntry{
		ID:        s.lastID,
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Component: entry.LoggerName,
		Message:   entry.Message,
		Caller:    entry.Caller.TrimmedPath(),
		Stack:     entry.Stack,
		Fields:    encoded,
	}
	s.head = (s.head + 1) % s.capacity
	if s.size < s.capacity {
		s.size++
	}
}

// teeCore forwards to the wrapped core and stores a redacted copy, including the
// fields bound through With.
type teeCore struct {
	zapcore.Core
	store *SystemLogStore
	bound []zapcore.Field
}

func (c *teeCore) With(fields []zapcore.Field) zapcore.Core {
	bound := make([]zapcore.Field, 0, len(c.bound)+len(fields))
	bound = append(bound, c.bound...)
	bound = append(bound, fields...)
	return &teeCore{Core: c.Core.With(fields), store: c.store, bound: bound}
}

func (c *teeCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return checked
	}
	return checked.AddCore(entry, c)
}

func (c *teeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.bound)+len(fields))
	all = append(all, c.bound...)
	all = append(all, fields...)
	c.store.add(entry, SanitizeFields(all))
	return c.Core.Write(entry, fields)
}
