package event

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventCodeRedeemed   = "code.redeemed"
	EventUserRegistered = "user.registered"
	EventVerifyResent   = "user.verification_resent"
)

type CodeRedeemedPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	Code       string    `json:"code"`
	GainID     uuid.UUID `json:"gain_id"`
	GainName   string    `json:"gain_name"`
	GainValue  float64   `json:"gain_value"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// UserRegisteredPayload carries the raw verification token; it is never persisted.
type UserRegisteredPayload struct {
	UserID            uuid.UUID `json:"user_id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	VerificationToken string    `json:"-"`
}

type Handler func(payload any)

// Bus fans domain events out to in-process subscribers (mailer, live feed).
// Handlers run on their own goroutines; a panicking handler is recovered and reported.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	onPanic  func(event string, recovered any)
	inflight sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// OnPanic sets the reporter for recovered handler panics.
func (b *Bus) OnPanic(fn func(event string, recovered any)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onPanic = fn
	b.mu.Unlock()
}

func (b *Bus) Subscribe(event string, handler Handler) {
	name := strings.TrimSpace(event)
	if b == nil || handler == nil || name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish returns immediately; use Wait to drain.
func (b *Bus) Publish(event string, payload any) {
	name := strings.TrimSpace(event)
	if b == nil || name == "" {
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	report := b.onPanic
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil && report != nil {
					report(name, r)
				}
			}()
			h(payload)
		}(handler)
	}
}

// Wait blocks until handlers started by Publish have returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}
