package sse

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"thetiptop/internal/metrics"
	"thetiptop/internal/model"
)

const (
	heartbeatInterval     = 30 * time.Second
	backpressureFullLimit = 5
)

// SSEHub fans live events out to connected dashboards. One connection per user;
// a new connection replaces the previous one.
type SSEHub struct {
	clients  sync.Map
	eventBuf *RingBuffer

	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub(logger *zap.Logger) *SSEHub {
	hub := newHub(logger)
	go hub.startHeartbeat(heartbeatInterval)
	return hub
}

func newHub(logger *zap.Logger) *SSEHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHub{
		eventBuf: NewRingBuffer(defaultRingBufferSize),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (h *SSEHub) Register(client *SSEClient) {
	if h == nil || client == nil || client.UserID == "" {
		return
	}

	if previous, loaded := h.clients.Swap(client.UserID, client); loaded {
		if old, ok := previous.(*SSEClient); ok && old != client {
			old.Close()
		}
	}
	metrics.SetSSEClients(h.ConnectedCount())
}

// Unregister drops client if it is still the registered connection for its user.
func (h *SSEHub) Unregister(client *SSEClient) {
	if h == nil || client == nil {
		return
	}

	if h.clients.CompareAndDelete(client.UserID, client) {
		metrics.SetSSEClients(h.ConnectedCount())
	}
	client.Close()
}

func (h *SSEHub) Publish(event SSEEvent, audience Audience) {
	if h == nil {
		return
	}

	h.eventBuf.Push(event, audience)
	if audience.UserID != "" {
		if value, ok := h.clients.Load(audience.UserID); ok {
			if client, ok := value.(*SSEClient); ok {
				h.dispatch(client, event)
			}
		}
		return
	}

	h.clients.Range(func(_, value any) bool {
		if client, ok := value.(*SSEClient); ok && audience.Matches(client) {
			h.dispatch(client, event)
		}
		return true
	})
}

func (h *SSEHub) SendToUser(userID string, event SSEEvent) {
	if userID == "" {
		return
	}
	h.Publish(event, Audience{UserID: userID})
}

// SendToRole reaches every client whose role includes minRole.
func (h *SSEHub) SendToRole(minRole model.Role, event SSEEvent) {
	if minRole == "" {
		return
	}
	h.Publish(event, Audience{MinRole: minRole})
}

func (h *SSEHub) Since(lastID string, client *SSEClient) []SSEEvent {
	if h == nil {
		return nil
	}
	return h.eventBuf.Since(lastID, client)
}

func (h *SSEHub) Close() {
	if h == nil {
		return
	}

	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.clients.Range(func(key, value any) bool {
		if client, ok := value.(*SSEClient); ok {
			client.Close()
		}
		h.clients.Delete(key)
		return true
	})
	metrics.SetSSEClients(0)
}

func (h *SSEHub) ConnectedCount() int {
	if h == nil {
		return 0
	}

	count := 0
	h.clients.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (h *SSEHub) dispatch(client *SSEClient, event SSEEvent) {
	if ok, misses := client.offer(event); !ok {
		h.logger.Warn("sse buffer full, event dropped",
			zap.String("user_id", client.UserID),
			zap.String("type", event.Type),
			zap.Int32("misses", misses),
		)
		if misses >= backpressureFullLimit {
			h.logger.Warn("disconnect slow sse client",
				zap.String("user_id", client.UserID),
				zap.Duration("connected_for", time.Since(client.ConnectedAt)),
			)
			h.Unregister(client)
		}
	}
}

// Heartbeats are not buffered for replay.
func (h *SSEHub) startHeartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			heartbeat := NewEvent(EventHeartbeat, map[string]any{
				"ts": now.UTC().Format(time.RFC3339Nano),
			})
			h.clients.Range(func(_, value any) bool {
				if client, ok := value.(*SSEClient); ok {
					h.dispatch(client, heartbeat)
				}
				return true
			})
		}
	}
}
