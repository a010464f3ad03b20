// Package events fans storage changes out to listeners of the same visitor namespace.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names what changed.
type Kind string

const (
	KindCartUpdated Kind = "cartUpdated"
	KindOrderPlaced Kind = "orderPlaced"
)

// Event announces a change to one key of a namespace.
type Event struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Origin    string    `json:"origin"`
	At        time.Time `json:"at"`
}

// Listener receives events for the namespace it subscribed to.
type Listener func(Event)

// Forwarder receives every event published on this process, e.g. to relay it to other instances.
type Forwarder interface {
	Forward(ctx context.Context, ev Event) error
}

type subscription struct {
	id uint64
	fn Listener
}

// Bus delivers events synchronously, in subscription order, to listeners of a namespace.
type Bus struct {
	origin string
	now    func() time.Time
	logger func(context.Context, string, map[string]any)

	mu        sync.RWMutex
	nextID    uint64
	subs      map[string][]subscription
	forwarder Forwarder
}

// BusOption customises a Bus.
type BusOption func(*Bus)

// WithOrigin fixes the origin id stamped on published events.
func WithOrigin(origin string) BusOption {
	return func(b *Bus) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger installs the structured event hook.
func WithLogger(logger func(context.Context, string, map[string]any)) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus constructs a Bus with a random process origin.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		origin: uuid.NewString(),
		now:    time.Now,
		logger: func(context.Context, string, map[string]any) {},
		subs:   make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin identifies events published by this process.
func (b *Bus) Origin() string { return b.origin }

// SetForwarder installs (or clears, with nil) the forwarding hook.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// Subscribe registers fn for events of namespace. The returned func unsubscribes and is
// safe to call more than once.
func (b *Bus) Subscribe(namespace string, fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[namespace] = append(b.subs[namespace], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(namespace, id) })
	}
}

func (b *Bus) unsubscribe(namespace string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.subs[namespace]
	for i, sub := range current {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, namespace)
		} else {
			b.subs[namespace] = next
		}
		return
	}
}

// Publish stamps the event, delivers it locally and hands it to the forwarder.
// Forwarding failures are logged, never returned to the mutating caller.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}
	b.Deliver(ctx, ev)

	b.mu.RLock()
	forwarder := b.forwarder
	b.mu.RUnlock()
	if forwarder == nil || ev.Origin != b.origin {
		return
	}
	if err := forwarder.Forward(ctx, ev); err != nil {
		b.logger(ctx, "events.forward_failed", map[string]any{
			"kind":  string(ev.Kind),
			"error": err.Error(),
		})
	}
}

// Deliver runs local listeners only. Relays use it for events received from other instances.
func (b *Bus) Deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	listeners := append([]subscription(nil), b.subs[ev.Namespace]...)
	b.mu.RUnlock()

	for _, sub := range listeners {
		b.invoke(ctx, sub.fn, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, fn Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger(ctx, "events.listener_panic", map[string]any{
				"kind":  string(ev.Kind),
				"panic": fmt.Sprint(rec),
			})
		}
	}()
	fn(ev)
}

// Listeners reports how many listeners are registered for namespace.
func (b *Bus) Listeners(namespace string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[namespace])
}
