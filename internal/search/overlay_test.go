package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/debounce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/kv"
)

type stubCatalog struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
	calls    int
}

func (s *stubCatalog) All(context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.products, nil
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool { t.stopped = true; return true }

type manualClock struct{ timers []*manualTimer }

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) debounce.Timer {
	t := &manualTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) fire() {
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

var catalogFixture = []domain.Product{
	{ID: 1, Title: "Fjallraven Backpack", Price: 109.95, Category: "men's clothing"},
	{ID: 2, Title: "Mens Casual T-Shirt", Price: 22.3, Category: "men's clothing"},
	{ID: 5, Title: "Dragon Bracelet", Price: 695, Category: "jewelery"},
	{ID: 9, Title: "WD Hard Drive", Price: 64, Category: "electronics"},
}

func newOverlayFixture(t *testing.T, catalog *stubCatalog, clock *manualClock, onChange func(View)) (*Overlay, *cart.Store) {
	t.Helper()
	manager, err := cart.NewManager(cart.ManagerDeps{KV: kv.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, _ := manager.Store("visitor")
	deps := OverlayDeps{Catalog: catalog, Cart: store, OnChange: onChange}
	if clock != nil {
		deps.AfterFunc = clock.AfterFunc
	}
	overlay, err := NewOverlay(deps)
	if err != nil {
		t.Fatalf("NewOverlay: %v", err)
	}
	t.Cleanup(overlay.Stop)
	return overlay, store
}

func TestOverlayOpenShowsFirstResultsAndCachesCatalog(t *testing.T) {
	catalog := &stubCatalog{products: catalogFixture}
	overlay, _ := newOverlayFixture(t, catalog, nil, nil)
	ctx := context.Background()

	view, err := overlay.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !view.Open || view.Query != "" || len(view.Results) != 4 {
		t.Fatalf("unexpected view %+v", view)
	}

	overlay.Close(ctx, CloseEscape)
	if overlay.IsOpen() {
		t.Fatalf("expected overlay to be closed")
	}
	if _, err := overlay.Open(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if catalog.calls != 1 {
		t.Fatalf("catalog must be fetched once per overlay, got %d", catalog.calls)
	}
}

func TestOverlayOpenFailureIsRetried(t *testing.T) {
	catalog := &stubCatalog{err: errors.New("offline")}
	overlay, _ := newOverlayFixture(t, catalog, nil, nil)
	ctx := context.Background()

	view, err := overlay.Open(ctx)
	if err != nil {
		t.Fatalf("Open must not fail the caller: %v", err)
	}
	if !errors.Is(view.Err, ErrCatalogUnavailable) || !view.Open {
		t.Fatalf("expected unavailable view, got %+v", view)
	}

	catalog.mu.Lock()
	catalog.err = nil
	catalog.products = catalogFixture
	catalog.mu.Unlock()

	view, _ = overlay.Open(ctx)
	if view.Err != nil || len(view.Results) != 4 {
		t.Fatalf("expected retry to succeed, got %+v", view)
	}
}

func TestOverlayInputIsDebounced(t *testing.T) {
	catalog := &stubCatalog{products: catalogFixture}
	clock := &manualClock{}
	var views []View
	overlay, _ := newOverlayFixture(t, catalog, clock, func(v View) { views = append(views, v) })
	ctx := context.Background()

	if _, err := overlay.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	overlay.Input(ctx, "b")
	overlay.Input(ctx, "br")
	overlay.Input(ctx, "BRACE")
	clock.fire()

	if len(views) != 1 {
		t.Fatalf("expected one debounced render, got %d", len(views))
	}
	if len(views[0].Results) != 1 || views[0].Results[0].Product.ID != 5 {
		t.Fatalf("unexpected results %+v", views[0].Results)
	}
}

func TestOverlayCloseCancelsPendingInput(t *testing.T) {
	catalog := &stubCatalog{products: catalogFixture}
	clock := &manualClock{}
	rendered := 0
	overlay, _ := newOverlayFixture(t, catalog, clock, func(View) { rendered++ })
	ctx := context.Background()

	_, _ = overlay.Open(ctx)
	overlay.Input(ctx, "men")
	view := overlay.Close(ctx, CloseBackdrop)
	clock.fire()

	if rendered != 0 {
		t.Fatalf("pending filter must be cancelled on close")
	}
	if view.Open || view.Query != "" || len(view.Results) != 0 {
		t.Fatalf("close must clear the view, got %+v", view)
	}
	if _, err := overlay.Search(ctx, "men"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestOverlayFlushRunsPendingInput(t *testing.T) {
	clock := &manualClock{}
	var views []View
	overlay, _ := newOverlayFixture(t, &stubCatalog{products: catalogFixture}, clock, func(v View) { views = append(views, v) })
	ctx := context.Background()

	_, _ = overlay.Open(ctx)
	overlay.Input(ctx, "drive")
	if !overlay.Flush() {
		t.Fatal("expected a pending filter")
	}
	if len(views) != 1 || views[0].Query != "drive" || len(views[0].Results) != 1 {
		t.Fatalf("unexpected flushed views %+v", views)
	}
	clock.fire()
	if len(views) != 1 {
		t.Fatalf("flushed filter must not run again, got %d renders", len(views))
	}
	if overlay.Flush() {
		t.Fatal("nothing should be pending after a flush")
	}
}

func TestOverlaySearchNoMatches(t *testing.T) {
	overlay, _ := newOverlayFixture(t, &stubCatalog{products: catalogFixture}, nil, nil)
	ctx := context.Background()
	_, _ = overlay.Open(ctx)

	view, err := overlay.Search(ctx, "submarine")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !view.Empty() {
		t.Fatalf("expected empty view, got %+v", view)
	}
}

func TestOverlayToggleUpdatesOnlyThatResult(t *testing.T) {
	overlay, store := newOverlayFixture(t, &stubCatalog{products: catalogFixture}, nil, nil)
	ctx := context.Background()
	_, _ = overlay.Open(ctx)
	_, _ = overlay.Search(ctx, "men's")

	res, err := overlay.Toggle(ctx, 2)
	if err != nil || !res.InCart {
		t.Fatalf("expected product to be added, got %+v, %v", res, err)
	}
	view := overlay.View()
	for _, r := range view.Results {
		if r.InCart != (r.Product.ID == 2) {
			t.Fatalf("unexpected membership for %d: %v", r.Product.ID, r.InCart)
		}
	}
	if ok, _ := store.Contains(ctx, 2); !ok {
		t.Fatalf("expected cart to contain product 2")
	}

	res, _ = overlay.Toggle(ctx, 2)
	if res.InCart {
		t.Fatalf("second toggle should remove")
	}
	if _, err := overlay.Toggle(ctx, 404); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestOverlayWithRealTimerDoesNotLeak(t *testing.T) {
	// the Firestore SDK pulled in through kv starts an opencensus worker at init
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreCurrent(),
	)

	done := make(chan View, 1)
	overlay, _ := newOverlayFixture(t, &stubCatalog{products: catalogFixture}, nil, func(v View) { done <- v })
	ctx := context.Background()
	_, _ = overlay.Open(ctx)
	overlay.Input(ctx, "drive")

	select {
	case v := <-done:
		if len(v.Results) != 1 || v.Results[0].Product.ID != 9 {
			t.Fatalf("unexpected results %+v", v.Results)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced search never ran")
	}
	overlay.Stop()
}
