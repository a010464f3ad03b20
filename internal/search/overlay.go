package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/debounce"
	"github.com/hanko-field/storefront/internal/domain"
)

// DefaultDebounce is the quiet period before typed input is filtered.
const DefaultDebounce = 180 * time.Millisecond

var (
	// ErrCatalogUnavailable is set on the view when the product list could not be loaded.
	ErrCatalogUnavailable = errors.New("search: catalog unavailable")
	// ErrNotOpen is returned by operations that need an open overlay.
	ErrNotOpen = errors.New("search: overlay is closed")
	// ErrUnknownProduct is returned when toggling an id that is not in the catalog.
	ErrUnknownProduct = errors.New("search: unknown product")
)

// CloseReason records how the overlay was dismissed.
type CloseReason string

const (
	CloseControl  CloseReason = "control"
	CloseEscape   CloseReason = "escape"
	CloseBackdrop CloseReason = "backdrop"
)

// Catalog supplies the product list.
type Catalog interface {
	All(ctx context.Context) ([]domain.Product, error)
}

// Cart is the slice of the cart store the overlay needs.
type Cart interface {
	Load(ctx context.Context) (cart.Cart, error)
	Toggle(ctx context.Context, product domain.Product) (bool, cart.Cart, error)
}

// Result is one product card with its cart membership.
type Result struct {
	Product domain.Product
	InCart  bool
}

// View is a snapshot of the overlay for rendering.
type View struct {
	Open    bool
	Query   string
	Results []Result
	Err     error
}

// Empty reports whether an open overlay has nothing to show ("No products found.").
func (v View) Empty() bool {
	return v.Open && v.Err == nil && len(v.Results) == 0
}

// OverlayDeps bundles the collaborators of an Overlay.
type OverlayDeps struct {
	Catalog   Catalog
	Cart      Cart
	Limit     int
	Debounce  time.Duration
	AfterFunc debounce.AfterFunc
	// OnChange receives the view after each debounced filter run.
	OnChange func(View)
	Logger   func(context.Context, string, map[string]any)
}

// Overlay is the search state machine: Closed until Open, then filtering input until Close.
// The catalog is fetched on the first successful Open and kept for the overlay's lifetime.
type Overlay struct {
	catalog  Catalog
	cart     Cart
	limit    int
	onChange func(View)
	logger   func(context.Context, string, map[string]any)
	debounce *debounce.Debouncer

	mu       sync.Mutex
	open     bool
	query    string
	results  []Result
	err      error
	products []domain.Product
	loaded   bool
}

// NewOverlay validates deps and returns a closed overlay.
func NewOverlay(deps OverlayDeps) (*Overlay, error) {
	if deps.Catalog == nil {
		return nil, errors.New("search: catalog is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("search: cart is required")
	}
	limit := deps.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	quiet := deps.Debounce
	if quiet <= 0 {
		quiet = DefaultDebounce
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	onChange := deps.OnChange
	if onChange == nil {
		onChange = func(View) {}
	}
	return &Overlay{
		catalog:  deps.Catalog,
		cart:     deps.Cart,
		limit:    limit,
		onChange: onChange,
		logger:   logger,
		debounce: debounce.New(quiet, debounce.WithAfterFunc(deps.AfterFunc)),
	}, nil
}

// Open shows the overlay with an empty query and the first results. A failed catalog
// fetch leaves the overlay open with Err set; the next Open retries.
func (o *Overlay) Open(ctx context.Context) (View, error) {
	o.debounce.Cancel()
	products, err := o.ensureProducts(ctx)

	o.mu.Lock()
	o.open = true
	o.query = ""
	o.results = nil
	o.err = nil
	o.mu.Unlock()

	if err != nil {
		o.logger(ctx, "search.catalog_failed", map[string]any{"error": err.Error()})
		o.mu.Lock()
		o.err = ErrCatalogUnavailable
		view := o.viewLocked()
		o.mu.Unlock()
		return view, nil
	}
	return o.apply(ctx, "", products)
}

// Input records typed text and schedules a filter after the quiet period. Only the latest
// input is filtered; the result is delivered through OnChange.
func (o *Overlay) Input(ctx context.Context, query string) {
	o.mu.Lock()
	if !o.open {
		o.mu.Unlock()
		return
	}
	o.query = query
	o.mu.Unlock()

	o.debounce.Trigger(func() {
		view, err := o.Search(ctx, query)
		if err != nil {
			return
		}
		o.onChange(view)
	})
}

// Flush runs a pending debounced filter now instead of waiting out the quiet period.
// It reports whether one was pending.
func (o *Overlay) Flush() bool {
	return o.debounce.Flush()
}

// Search filters immediately. Used where the client already debounces.
func (o *Overlay) Search(ctx context.Context, query string) (View, error) {
	o.mu.Lock()
	if !o.open {
		o.mu.Unlock()
		return View{}, ErrNotOpen
	}
	o.mu.Unlock()

	products, err := o.ensureProducts(ctx)
	if err != nil {
		o.logger(ctx, "search.catalog_failed", map[string]any{"error": err.Error()})
		o.mu.Lock()
		o.query = query
		o.results = nil
		o.err = ErrCatalogUnavailable
		view := o.viewLocked()
		o.mu.Unlock()
		return view, nil
	}
	return o.apply(ctx, query, products)
}

// Close hides the overlay, clearing query and results and dropping any pending filter.
// The fetched catalog is kept.
func (o *Overlay) Close(ctx context.Context, reason CloseReason) View {
	o.debounce.Cancel()
	o.mu.Lock()
	wasOpen := o.open
	o.open = false
	o.query = ""
	o.results = nil
	o.err = nil
	view := o.viewLocked()
	o.mu.Unlock()
	if wasOpen {
		o.logger(ctx, "search.closed", map[string]any{"reason": string(reason)})
	}
	return view
}

// Toggle flips cart membership of a listed product and updates only that result.
func (o *Overlay) Toggle(ctx context.Context, id int) (Result, error) {
	o.mu.Lock()
	var product domain.Product
	found := false
	for _, p := range o.products {
		if p.ID == id {
			product, found = p, true
			break
		}
	}
	o.mu.Unlock()
	if !found {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownProduct, id)
	}

	inCart, _, err := o.cart.Toggle(ctx, product)
	if err != nil {
		return Result{}, err
	}

	o.mu.Lock()
	for i := range o.results {
		if o.results[i].Product.ID == id {
			o.results[i].InCart = inCart
		}
	}
	o.mu.Unlock()
	return Result{Product: product, InCart: inCart}, nil
}

// View returns the current snapshot.
func (o *Overlay) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// IsOpen reports the overlay state.
func (o *Overlay) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// Stop releases the debounce timer. The overlay must not be used afterwards.
func (o *Overlay) Stop() {
	o.debounce.Stop()
}

func (o *Overlay) ensureProducts(ctx context.Context) ([]domain.Product, error) {
	o.mu.Lock()
	if o.loaded {
		products := o.products
		o.mu.Unlock()
		return products, nil
	}
	o.mu.Unlock()

	products, err := o.catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.products = products
	o.loaded = true
	o.mu.Unlock()
	return products, nil
}

func (o *Overlay) apply(ctx context.Context, query string, products []domain.Product) (View, error) {
	matches := Filter(products, query, o.limit)

	current, err := o.cart.Load(ctx)
	if err != nil {
		return View{}, err
	}
	results := make([]Result, len(matches))
	for i, p := range matches {
		results[i] = Result{Product: p, InCart: current.Contains(p.ID)}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return o.viewLocked(), ErrNotOpen
	}
	o.query = query
	o.results = results
	o.err = nil
	return o.viewLocked(), nil
}

func (o *Overlay) viewLocked() View {
	results := make([]Result, len(o.results))
	copy(results, o.results)
	return View{Open: o.open, Query: o.query, Results: results, Err: o.err}
}
