// Package cart keeps each visitor's line items in key/value storage and announces every
// change on the event bus.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/kv"
)

var (
	// ErrInvalidQuantity is returned when adding fewer than one unit.
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")
	// ErrInvalidProduct is returned for products without a usable id.
	ErrInvalidProduct = errors.New("cart: product id is required")
	// ErrNamespaceRequired is returned when a store is requested without a namespace.
	ErrNamespaceRequired = errors.New("cart: namespace is required")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("cart: storage unavailable")

	errKVRequired = errors.New("cart: key/value store is required")
)

// Cart is a normalised snapshot of a namespace's line items.
type Cart struct {
	Items []domain.LineItem
}

// Summary aggregates a cart for badges and totals.
type Summary struct {
	UniqueItems   int
	TotalQuantity int
	Subtotal      float64
}

// Summary computes unique ids, total quantity and Σ price×qty.
func (c Cart) Summary() Summary {
	s := Summary{UniqueItems: len(c.Items)}
	for _, item := range c.Items {
		s.TotalQuantity += item.Qty
		s.Subtotal += item.LineTotal()
	}
	return s
}

// Contains reports whether an item with id is present.
func (c Cart) Contains(id int) bool {
	_, ok := c.Item(id)
	return ok
}

// Item returns the line item for id.
func (c Cart) Item(id int) (domain.LineItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.LineItem{}, false
}

// Empty reports whether the cart has no items.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// ManagerDeps bundles the collaborators of a Manager.
type ManagerDeps struct {
	KV     kv.Store
	Bus    *events.Bus
	Logger func(context.Context, string, map[string]any)
}

// Manager hands out per-namespace stores and serialises their mutations within the process.
type Manager struct {
	kv     kv.Store
	bus    *events.Bus
	logger func(context.Context, string, map[string]any)
	locks  *keyedMutex
}

// NewManager validates deps and constructs a Manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.KV == nil {
		return nil, errKVRequired
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Manager{
		kv:     deps.KV,
		bus:    bus,
		logger: logger,
		locks:  newKeyedMutex(),
	}, nil
}

// Bus exposes the event bus carts publish on.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Store returns the cart store for namespace.
func (m *Manager) Store(namespace string) (*Store, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	return &Store{m: m, namespace: namespace}, nil
}

// Store operates on one namespace's cart.
type Store struct {
	m         *Manager
	namespace string
}

// Namespace returns the namespace this store is bound to.
func (s *Store) Namespace() string { return s.namespace }

// Load reads the cart. Absent or malformed data yields an empty cart; only storage
// failures are returned as errors.
func (s *Store) Load(ctx context.Context) (Cart, error) {
	raw, err := s.m.kv.Get(ctx, s.namespace, kv.KeyCart)
	if kv.IsNotFound(err) {
		return Cart{Items: []domain.LineItem{}}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	items, ok := Decode(raw)
	if !ok {
		s.m.logger(ctx, "cart.discarded_malformed", map[string]any{"bytes": len(raw)})
	}
	return Cart{Items: items}, nil
}

// Add puts qty units of product in the cart, increasing the quantity when already present.
func (s *Store) Add(ctx context.Context, product domain.Product, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, ErrInvalidQuantity
	}
	if product.ID == 0 {
		return Cart{}, ErrInvalidProduct
	}
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		for i := range items {
			if items[i].ID == product.ID {
				items[i].Qty += qty
				return items, true
			}
		}
		return append(items, domain.LineItemFromProduct(product, qty)), true
	})
}

// Remove drops every entry with id.
func (s *Store) Remove(ctx context.Context, id int) (Cart, error) {
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		kept := items[:0]
		for _, item := range items {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		return kept, len(kept) != len(items)
	})
}

// SetQuantity sets the quantity of id; zero or negative removes it. Unknown ids are left alone.
func (s *Store) SetQuantity(ctx context.Context, id, qty int) (Cart, error) {
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			if qty > 0 {
				items[i].Qty = qty
			} else {
				items = append(items[:i], items[i+1:]...)
			}
			return items, true
		}
		return items, false
	})
}

// Increment adds one unit of an item already in the cart.
func (s *Store) Increment(ctx context.Context, id int) (Cart, error) {
	return s.step(ctx, id, 1)
}

// Decrement removes one unit; at quantity 1 the item is removed.
func (s *Store) Decrement(ctx context.Context, id int) (Cart, error) {
	return s.step(ctx, id, -1)
}

func (s *Store) step(ctx context.Context, id, delta int) (Cart, error) {
	return s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			if next := items[i].Qty + delta; next > 0 {
				items[i].Qty = next
			} else {
				items = append(items[:i], items[i+1:]...)
			}
			return items, true
		}
		return items, false
	})
}

// Toggle removes product when present, otherwise adds one unit. It reports the new membership.
func (s *Store) Toggle(ctx context.Context, product domain.Product) (bool, Cart, error) {
	if product.ID == 0 {
		return false, Cart{}, ErrInvalidProduct
	}
	var inCart bool
	c, err := s.mutate(ctx, func(items []domain.LineItem) ([]domain.LineItem, bool) {
		for i := range items {
			if items[i].ID == product.ID {
				inCart = false
				return append(items[:i], items[i+1:]...), true
			}
		}
		inCart = true
		return append(items, domain.LineItemFromProduct(product, 1)), true
	})
	if err != nil {
		return false, Cart{}, err
	}
	return inCart, c, nil
}

// Contains reports whether id is in the stored cart.
func (s *Store) Contains(ctx context.Context, id int) (bool, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return c.Contains(id), nil
}

// Summary loads the cart and aggregates it.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	return c.Summary(), nil
}

// Clear removes the cart key entirely.
func (s *Store) Clear(ctx context.Context) error {
	unlock := s.m.locks.Lock(s.namespace)
	err := s.m.kv.Delete(ctx, s.namespace, kv.KeyCart)
	unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.publish(ctx)
	return nil
}

// Deduct subtracts the quantities in ordered from the stored cart and drops lines that
// reach zero. Lines added after ordered was read are kept. An emptied cart is removed.
func (s *Store) Deduct(ctx context.Context, ordered []domain.LineItem) (Cart, error) {
	bought := make(map[int]int, len(ordered))
	for _, item := range ordered {
		bought[item.ID] += item.Qty
	}

	unlock := s.m.locks.Lock(s.namespace)
	current, err := s.Load(ctx)
	if err != nil {
		unlock()
		return Cart{}, err
	}
	kept := make([]domain.LineItem, 0, len(current.Items))
	for _, item := range current.Items {
		item.Qty -= bought[item.ID]
		if item.Qty > 0 {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		err = s.m.kv.Delete(ctx, s.namespace, kv.KeyCart)
	} else {
		var payload []byte
		if payload, err = Encode(kept); err != nil {
			unlock()
			return Cart{}, fmt.Errorf("cart: encode: %w", err)
		}
		err = s.m.kv.Set(ctx, s.namespace, kv.KeyCart, payload)
	}
	unlock()
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.publish(ctx)
	return Cart{Items: kept}, nil
}

// Subscribe registers fn for change events of this namespace.
func (s *Store) Subscribe(fn func(events.Event)) func() {
	return s.m.bus.Subscribe(s.namespace, fn)
}

// mutate loads, applies fn and, when fn reports a change, persists the normalised result.
// The change is announced after the namespace lock is released so listeners may read or
// mutate the cart themselves.
func (s *Store) mutate(ctx context.Context, fn func([]domain.LineItem) ([]domain.LineItem, bool)) (Cart, error) {
	c, changed, err := s.apply(ctx, fn)
	if err != nil {
		return Cart{}, err
	}
	if changed {
		s.publish(ctx)
	}
	return c, nil
}

func (s *Store) apply(ctx context.Context, fn func([]domain.LineItem) ([]domain.LineItem, bool)) (Cart, bool, error) {
	unlock := s.m.locks.Lock(s.namespace)
	defer unlock()

	current, err := s.Load(ctx)
	if err != nil {
		return Cart{}, false, err
	}
	items, changed := fn(domain.CloneLineItems(current.Items))
	if !changed {
		return current, false, nil
	}
	items = Normalize(items)
	payload, err := Encode(items)
	if err != nil {
		return Cart{}, false, fmt.Errorf("cart: encode: %w", err)
	}
	if err := s.m.kv.Set(ctx, s.namespace, kv.KeyCart, payload); err != nil {
		return Cart{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Cart{Items: items}, true, nil
}

func (s *Store) publish(ctx context.Context) {
	s.m.bus.Publish(ctx, events.Event{
		Namespace: s.namespace,
		Key:       kv.KeyCart,
		Kind:      events.KindCartUpdated,
	})
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release func. Entries are dropped once
// nobody holds or waits for them.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
