package sse

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thetiptop/internal/event"
	"thetiptop/internal/model"
)

func TestPublish_AllClientsReceive(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	clientA := NewClient("u1", model.RoleClient)
	clientB := NewClient("u2", model.RoleAdmin)
	hub.Register(clientA)
	hub.Register(clientB)

	hub.Publish(NewEvent(EventRedemption, map[string]any{"gain_name": "Infuseur"}), Audience{})

	assertEventType(t, clientA.Ch, EventRedemption)
	assertEventType(t, clientB.Ch, EventRedemption)
}

func TestSendToRole_UsesHierarchy(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	admin := NewClient("admin-1", model.RoleAdmin)
	employee := NewClient("employee-1", model.RoleEmployee)
	client := NewClient("client-1", model.RoleClient)
	hub.Register(admin)
	hub.Register(employee)
	hub.Register(client)

	hub.SendToRole(model.RoleEmployee, NewEvent(EventRedemption, map[string]any{"gain_name": "Coffret"}))

	assertEventType(t, admin.Ch, EventRedemption)
	assertEventType(t, employee.Ch, EventRedemption)
	assertNoEvent(t, client.Ch)
}

func TestSendToUser_PreciseDelivery(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	target := NewClient("target", model.RoleClient)
	other := NewClient("other", model.RoleClient)
	hub.Register(target)
	hub.Register(other)

	hub.SendToUser("target", NewEvent(EventPrizeWon, map[string]any{"code": "AB12CD34EF"}))

	assertEventType(t, target.Ch, EventPrizeWon)
	assertNoEvent(t, other.Ch)
}

func TestRegister_ReplacesPreviousConnection(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	first := NewClient("u1", model.RoleClient)
	second := NewClient("u1", model.RoleClient)
	hub.Register(first)
	hub.Register(second)

	select {
	case <-first.Done:
	default:
		t.Fatal("previous connection must be closed")
	}

	// The stale connection unwinding must not evict the new one.
	hub.Unregister(first)
	if hub.ConnectedCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ConnectedCount())
	}
	hub.SendToUser("u1", NewEvent(EventPrizeWon, nil))
	assertEventType(t, second.Ch, EventPrizeWon)
}

func TestBackpressure_SlowClientIsDropped(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	slow := newClientWithBuffer("slow", model.RoleAdmin, 1)
	fast := newClientWithBuffer("fast", model.RoleAdmin, backpressureFullLimit+2)
	slow.Ch <- NewEvent(EventHeartbeat, nil)
	hub.Register(slow)
	hub.Register(fast)

	for i := 0; i < backpressureFullLimit; i++ {
		hub.Publish(NewEvent(EventRedemption, nil), Audience{})
	}

	select {
	case <-slow.Done:
	default:
		t.Fatal("slow client must be disconnected")
	}
	if len(fast.Ch) != backpressureFullLimit {
		t.Fatalf("fast client expected %d events, got %d", backpressureFullLimit, len(fast.Ch))
	}
}

func TestSince_FiltersByAudience(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer(10)
	rb.Push(SSEEvent{ID: "1", Type: EventRedemption}, Audience{MinRole: model.RoleEmployee})
	rb.Push(SSEEvent{ID: "2", Type: EventPrizeWon}, Audience{UserID: "winner"})
	rb.Push(SSEEvent{ID: "3", Type: EventRedemption}, Audience{MinRole: model.RoleEmployee})
	rb.Push(SSEEvent{ID: "4", Type: EventPrizeWon}, Audience{UserID: "someone-else"})

	winner := NewClient("winner", model.RoleClient)
	if events := rb.Since("0", winner); len(events) != 1 || events[0].ID != "2" {
		t.Fatalf("winner replay: %+v", events)
	}

	staff := NewClient("staff", model.RoleEmployee)
	events := rb.Since("1", staff)
	if len(events) != 1 || events[0].ID != "3" {
		t.Fatalf("staff replay: %+v", events)
	}

	if events := rb.Since("", staff); len(events) != 0 {
		t.Fatalf("no Last-Event-ID means no replay, got %+v", events)
	}
}

func TestRingBuffer_EvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer(3)
	for _, id := range []string{"1", "2", "3", "4"} {
		rb.Push(SSEEvent{ID: id, Type: EventRedemption}, Audience{})
	}

	events := rb.Since("0", NewClient("u", model.RoleClient))
	if len(events) != 3 || events[0].ID != "2" || events[2].ID != "4" {
		t.Fatalf("unexpected buffer contents after eviction: %+v", events)
	}
}

func TestSubscribe_ForwardsRedemptions(t *testing.T) {
	t.Parallel()

	hub := newHub(zap.NewNop())
	winnerID := uuid.New()
	winner := NewClient(winnerID.String(), model.RoleClient)
	staff := NewClient("staff", model.RoleEmployee)
	bystander := NewClient("bystander", model.RoleClient)
	hub.Register(winner)
	hub.Register(staff)
	hub.Register(bystander)

	bus := event.NewBus()
	hub.Subscribe(bus)
	bus.Publish(event.EventCodeRedeemed, event.CodeRedeemedPayload{
		UserID:     winnerID,
		Email:      "jeanne@example.com",
		Code:       "AB12CD34EF",
		GainID:     uuid.New(),
		GainName:   "Infuseur a the",
		RedeemedAt: time.Now().UTC(),
	})
	bus.Wait()

	assertEventType(t, winner.Ch, EventPrizeWon)
	select {
	case ev := <-staff.Ch:
		if ev.Type != EventRedemption {
			t.Fatalf("unexpected staff event %q", ev.Type)
		}
		if want := `"winner":"j***@example.com"`; !strings.Contains(ev.Data, want) {
			t.Fatalf("staff payload %s missing %s", ev.Data, want)
		}
		if strings.Contains(ev.Data, "AB12CD34EF") {
			t.Fatalf("staff payload must not carry the code: %s", ev.Data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for staff event")
	}
	assertNoEvent(t, bystander.Ch)
}

func assertEventType(t *testing.T, ch <-chan SSEEvent, wantType string) {
	t.Helper()
	select {
	case got := <-ch:
		if got.Type != wantType {
			t.Fatalf("expected event type %q, got %q", wantType, got.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event type %q", wantType)
	}
}

func assertNoEvent(t *testing.T, ch <-chan SSEEvent) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("expected no event, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
