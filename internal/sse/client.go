package sse

import (
	"sync"
	"sync/atomic"
	"time"

	"thetiptop/internal/model"
)

const clientBufferSize = 64

// SSEClient is one open /events stream. A user holds at most one.
type SSEClient struct {
	UserID      string
	Role        model.Role
	ConnectedAt time.Time
	Ch          chan SSEEvent
	Done        chan struct{}

	// consecutive events dropped because Ch was full
	misses    atomic.Int32
	closeOnce sync.Once
}

func NewClient(userID string, role model.Role) *SSEClient {
	return newClientWithBuffer(userID, role, clientBufferSize)
}

func newClientWithBuffer(userID string, role model.Role, size int) *SSEClient {
	return &SSEClient{
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		Ch:          make(chan SSEEvent, size),
		Done:        make(chan struct{}),
	}
}

// offer queues ev without blocking. It returns false with the current miss streak
// when the buffer is full, and true once the client is closed so callers stop retrying.
func (c *SSEClient) offer(ev SSEEvent) (bool, int32) {
	select {
	case <-c.Done:
		return true, 0
	case c.Ch <- ev:
		c.misses.Store(0)
		return true, 0
	default:
		return false, c.misses.Add(1)
	}
}

func (c *SSEClient) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.Done) })
}
