package cart

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/kv"
)

var (
	backpack = domain.Product{ID: 1, Title: "Backpack", Price: 109.95, Image: "bag.jpg", Category: "men's clothing"}
	tshirt   = domain.Product{ID: 2, Title: "T-Shirt", Price: 22.3, Image: "tee.jpg", Category: "men's clothing"}
)

type failingKV struct{ kv.Store }

func (failingKV) Get(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func newTestStore(t *testing.T) (*Store, *kv.MemoryStore, *events.Bus) {
	t.Helper()
	mem := kv.NewMemoryStore()
	bus := events.NewBus()
	manager, err := NewManager(ManagerDeps{KV: mem, Bus: bus})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, err := manager.Store("visitor")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return store, mem, bus
}

func TestAddSameProductAccumulatesQuantity(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, backpack, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c, err := store.Add(ctx, backpack, 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(c.Items) != 1 || c.Items[0].Qty != 3 {
		t.Fatalf("expected one line with qty 3, got %+v", c.Items)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].Qty != 3 {
		t.Fatalf("persisted cart mismatch: %+v", loaded.Items)
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := store.Add(context.Background(), backpack, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := store.Add(context.Background(), domain.Product{}, 1); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct, got %v", err)
	}
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	for _, qty := range []int{0, -3} {
		store, _, _ := newTestStore(t)
		if _, err := store.Add(ctx, backpack, 2); err != nil {
			t.Fatalf("Add: %v", err)
		}
		c, err := store.SetQuantity(ctx, backpack.ID, qty)
		if err != nil {
			t.Fatalf("SetQuantity: %v", err)
		}
		if !c.Empty() {
			t.Fatalf("qty %d should remove the item, got %+v", qty, c.Items)
		}
	}

	store, _, bus := newTestStore(t)
	if _, err := store.Add(ctx, backpack, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c, err := store.SetQuantity(ctx, backpack.ID, 5)
	if err != nil || c.Items[0].Qty != 5 {
		t.Fatalf("expected qty 5, got %+v, %v", c.Items, err)
	}

	notified := 0
	bus.Subscribe("visitor", func(events.Event) { notified++ })
	if _, err := store.SetQuantity(ctx, 999, 4); err != nil {
		t.Fatalf("SetQuantity unknown: %v", err)
	}
	if notified != 0 {
		t.Fatalf("unknown id must not emit a change, got %d events", notified)
	}
}

func TestIncrementDecrement(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, tshirt, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c, _ := store.Increment(ctx, tshirt.ID)
	if c.Items[0].Qty != 2 {
		t.Fatalf("expected qty 2, got %d", c.Items[0].Qty)
	}
	c, _ = store.Decrement(ctx, tshirt.ID)
	if c.Items[0].Qty != 1 {
		t.Fatalf("expected qty 1, got %d", c.Items[0].Qty)
	}
	c, _ = store.Decrement(ctx, tshirt.ID)
	if !c.Empty() {
		t.Fatalf("decrement at 1 must remove the item, got %+v", c.Items)
	}
}

func TestToggleAndContains(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	in, _, err := store.Toggle(ctx, backpack)
	if err != nil || !in {
		t.Fatalf("first toggle should add, got %v, %v", in, err)
	}
	if ok, _ := store.Contains(ctx, backpack.ID); !ok {
		t.Fatalf("expected backpack in cart")
	}
	in, c, err := store.Toggle(ctx, backpack)
	if err != nil || in || !c.Empty() {
		t.Fatalf("second toggle should remove, got %v, %+v, %v", in, c.Items, err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	_, _ = store.Add(ctx, backpack, 1)
	_, _ = store.Add(ctx, tshirt, 4)

	c, err := store.Remove(ctx, backpack.ID)
	if err != nil || len(c.Items) != 1 || c.Items[0].ID != tshirt.ID {
		t.Fatalf("unexpected cart after remove: %+v, %v", c.Items, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := mem.Get(ctx, "visitor", kv.KeyCart); !kv.IsNotFound(err) {
		t.Fatalf("expected cart key to be absent, got %v", err)
	}
}

func TestDeductKeepsLinesAddedLater(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	ordered, _ := store.Add(ctx, backpack, 2)
	_, _ = store.Add(ctx, backpack, 1)
	_, _ = store.Add(ctx, tshirt, 1)

	c, err := store.Deduct(ctx, ordered.Items)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if len(c.Items) != 2 || c.Items[0].ID != backpack.ID || c.Items[0].Qty != 1 || c.Items[1].ID != tshirt.ID {
		t.Fatalf("unexpected cart after deduct: %+v", c.Items)
	}
	loaded, _ := store.Load(ctx)
	if len(loaded.Items) != 2 {
		t.Fatalf("deduct was not persisted: %+v", loaded.Items)
	}

	if _, err := store.Deduct(ctx, loaded.Items); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if _, err := mem.Get(ctx, "visitor", kv.KeyCart); !kv.IsNotFound(err) {
		t.Fatalf("expected emptied cart to be removed, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	_, _ = store.Add(ctx, backpack, 2)
	_, _ = store.Add(ctx, tshirt, 1)

	s, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.UniqueItems != 2 || s.TotalQuantity != 3 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if want := 242.2; math.Abs(s.Subtotal-want) > 1e-9 {
		t.Fatalf("expected subtotal %v, got %v", want, s.Subtotal)
	}
}

func TestPersistReloadIsIdempotent(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	_, _ = store.Add(ctx, backpack, 2)
	_, _ = store.Add(ctx, tshirt, 1)

	first, _ := mem.Get(ctx, "visitor", kv.KeyCart)
	loaded, _ := store.Load(ctx)
	again, err := Encode(loaded.Items)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(first) != string(again) {
		t.Fatalf("reload changed the payload:\n%s\n%s", first, again)
	}
}

func TestLoadDiscardsMalformedData(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	if err := mem.Set(ctx, "visitor", kv.KeyCart, []byte(`{not json`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("malformed data must not surface as error, got %v", err)
	}
	if !c.Empty() {
		t.Fatalf("expected empty cart, got %+v", c.Items)
	}
}

func TestLoadSurfacesBackendFailure(t *testing.T) {
	manager, err := NewManager(ManagerDeps{KV: failingKV{kv.NewMemoryStore()}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, _ := manager.Store("visitor")
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestMutationsPublishCartUpdated(t *testing.T) {
	store, _, _ := newTestStore(t)
	var got []events.Event
	unsubscribe := store.Subscribe(func(ev events.Event) { got = append(got, ev) })
	defer unsubscribe()

	ctx := context.Background()
	_, _ = store.Add(ctx, backpack, 1)
	_, _ = store.Increment(ctx, backpack.ID)
	_ = store.Clear(ctx)

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Kind != events.KindCartUpdated || ev.Namespace != "visitor" || ev.Key != kv.KeyCart {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestListenerMayMutate(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fired := false
	store.Subscribe(func(events.Event) {
		if fired {
			return
		}
		fired = true
		if _, err := store.Add(ctx, tshirt, 1); err != nil {
			t.Errorf("nested Add: %v", err)
		}
	})
	if _, err := store.Add(ctx, backpack, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c, _ := store.Load(ctx)
	if len(c.Items) != 2 {
		t.Fatalf("expected nested mutation to land, got %+v", c.Items)
	}
}

func TestManagerRequiresNamespaceAndKV(t *testing.T) {
	if _, err := NewManager(ManagerDeps{}); err == nil {
		t.Fatalf("expected error without kv")
	}
	manager, _ := NewManager(ManagerDeps{KV: kv.NewMemoryStore()})
	if _, err := manager.Store("  "); !errors.Is(err, ErrNamespaceRequired) {
		t.Fatalf("expected ErrNamespaceRequired, got %v", err)
	}
}
