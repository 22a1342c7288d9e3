package sse

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"thetiptop/internal/model"
)

type SSEEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data string `json:"data"`
}

const (
	EventHeartbeat  = "heartbeat"
	EventPrizeWon   = "prize.won"
	EventRedemption = "redemption"
)

var globalEventID int64

func NewEvent(eventType string, payload any) SSEEvent {
	id := atomic.AddInt64(&globalEventID, 1)
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	return SSEEvent{
		ID:   strconv.FormatInt(id, 10),
		Type: eventType,
		Data: string(data),
	}
}

// Audience selects the clients an event is delivered and replayed to.
// The zero value reaches everyone.
type Audience struct {
	UserID  string
	MinRole model.Role
}

func (a Audience) Matches(client *SSEClient) bool {
	if client == nil {
		return false
	}
	if a.UserID != "" {
		return client.UserID == a.UserID
	}
	if a.MinRole != "" {
		return client.Role.Includes(a.MinRole)
	}
	return true
}
