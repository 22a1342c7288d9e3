package sse

import (
	"strconv"
	"sync"
)

const defaultRingBufferSize = 256

type bufferedEvent struct {
	event    SSEEvent
	audience Audience
}

type RingBuffer struct {
	mu       sync.RWMutex
	capacity int
	items    []bufferedEvent
	start    int
	size     int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultRingBufferSize
	}

	return &RingBuffer{
		capacity: capacity,
		items:    make([]bufferedEvent, capacity),
	}
}

func (rb *RingBuffer) Push(event SSEEvent, audience Audience) {
	if rb == nil {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry := bufferedEvent{event: event, audience: audience}
	if rb.size < rb.capacity {
		idx := (rb.start + rb.size) % rb.capacity
		rb.items[idx] = entry
		rb.size++
		return
	}

	rb.items[rb.start] = entry
	rb.start = (rb.start + 1) % rb.capacity
}

// Since returns the buffered events newer than lastID that client may see.
// An empty or malformed lastID yields nothing: replay is only for reconnects.
func (rb *RingBuffer) Since(lastID string, client *SSEClient) []SSEEvent {
	if rb == nil || client == nil {
		return nil
	}

	lastSeq, err := strconv.ParseInt(lastID, 10, 64)
	if err != nil {
		return nil
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]SSEEvent, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		entry := rb.items[(rb.start+i)%rb.capacity]
		seq, err := strconv.ParseInt(entry.event.ID, 10, 64)
		if err != nil || seq <= lastSeq {
			continue
		}
		if entry.audience.Matches(client) {
			result = append(result, entry.event)
		}
	}
	return result
}
