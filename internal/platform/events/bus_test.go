package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingForwarder struct {
	events []Event
	err    error
}

func (f *recordingForwarder) Forward(_ context.Context, ev Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := NewBus(WithOrigin("proc-a"), WithClock(func() time.Time { return now }))

	var order []string
	bus.Subscribe("ns", func(Event) { order = append(order, "first") })
	bus.Subscribe("ns", func(Event) { order = append(order, "second") })
	bus.Subscribe("other", func(Event) { order = append(order, "other") })

	var got Event
	bus.Subscribe("ns", func(ev Event) { got = ev })

	bus.Publish(context.Background(), Event{Namespace: "ns", Key: "cart", Kind: KindCartUpdated})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected delivery order %v", order)
	}
	if got.Origin != "proc-a" || !got.At.Equal(now) {
		t.Fatalf("expected event to be stamped, got %+v", got)
	}
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe("ns", func(Event) { calls++ })
	keep := bus.Subscribe("ns", func(Event) {})
	defer keep()

	unsubscribe()
	unsubscribe()

	bus.Publish(context.Background(), Event{Namespace: "ns", Kind: KindCartUpdated})
	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
	if n := bus.Listeners("ns"); n != 1 {
		t.Fatalf("expected one remaining listener, got %d", n)
	}
}

func TestBusRecoversPanickingListener(t *testing.T) {
	var logged []string
	bus := NewBus(WithLogger(func(_ context.Context, event string, _ map[string]any) {
		logged = append(logged, event)
	}))
	reached := false
	bus.Subscribe("ns", func(Event) { panic("listener exploded") })
	bus.Subscribe("ns", func(Event) { reached = true })

	bus.Publish(context.Background(), Event{Namespace: "ns", Kind: KindCartUpdated})

	if !reached {
		t.Fatalf("listeners after a panicking one must still run")
	}
	if len(logged) != 1 || logged[0] != "events.listener_panic" {
		t.Fatalf("expected panic to be logged, got %v", logged)
	}
}

func TestBusForwardsOnlyLocalOrigin(t *testing.T) {
	fwd := &recordingForwarder{err: errors.New("topic down")}
	bus := NewBus(WithOrigin("proc-a"))
	bus.SetForwarder(fwd)

	bus.Publish(context.Background(), Event{Namespace: "ns", Kind: KindOrderPlaced})
	bus.Publish(context.Background(), Event{Namespace: "ns", Kind: KindCartUpdated, Origin: "proc-b"})

	if len(fwd.events) != 1 || fwd.events[0].Kind != KindOrderPlaced {
		t.Fatalf("expected only the local event to be forwarded, got %+v", fwd.events)
	}
}
