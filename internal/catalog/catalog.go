// Package catalog reads products from the Fake Store API with a short-lived in-process cache.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hanko-field/storefront/internal/domain"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultCacheTTL      = 5 * time.Minute
	defaultCategoryLimit = 10
	maxBodyBytes         = 4 << 20
)

var (
	// ErrUnavailable covers network failures, error statuses and undecodable bodies.
	ErrUnavailable = errors.New("catalog: unavailable")
	// ErrNotFound is returned when the product endpoint has no record for the id.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrInvalidID is returned for ids that are not positive integers.
	ErrInvalidID = errors.New("catalog: invalid product id")
	// ErrNoSelection is returned when no product id was supplied at all.
	ErrNoSelection = errors.New("catalog: no product selected")
)

var tracer = otel.Tracer("github.com/hanko-field/storefront/internal/catalog")

// Client fetches catalog data. The full product list is cached for the TTL and concurrent
// misses share one request. Failures are not retried.
type Client struct {
	baseURL  string
	http     *http.Client
	cacheTTL time.Duration
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)

	group singleflight.Group

	mu        sync.RWMutex
	products  []domain.Product
	fetchedAt time.Time
}

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithCacheTTL sets how long the product list is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger installs the structured event hook.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Client for baseURL, e.g. https://fakestoreapi.com.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// All returns every product in API order.
func (c *Client) All(ctx context.Context) ([]domain.Product, error) {
	if cached, ok := c.cached(); ok {
		return cached, nil
	}

	ch := c.group.DoChan("products", func() (any, error) {
		// detached so one impatient caller does not fail the shared fetch
		fetchCtx := context.WithoutCancel(ctx)
		var products []domain.Product
		if err := c.getJSON(fetchCtx, "catalog.all", &products, "products"); err != nil {
			return nil, err
		}
		if products == nil {
			products = []domain.Product{}
		}
		c.store(products)
		return products, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneProducts(res.Val.([]domain.Product)), nil
	}
}

// Product returns a single product by id.
func (c *Client) Product(ctx context.Context, id int) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, ErrInvalidID
	}
	if cached, ok := c.cached(); ok {
		for _, p := range cached {
			if p.ID == id {
				return p, nil
			}
		}
	}

	var product *domain.Product
	if err := c.getJSON(ctx, "catalog.product", &product, "products", strconv.Itoa(id)); err != nil {
		return domain.Product{}, err
	}
	if product == nil || product.ID == 0 {
		return domain.Product{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return *product, nil
}

// ByCategory returns up to limit products whose category equals category exactly.
// A non-positive limit means 10.
func (c *Client) ByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = defaultCategoryLimit
	}
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, limit)
	for _, p := range all {
		if p.Category != category {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Featured returns the home page selection: the 2nd and 3rd men's clothing items, then the
// first two of women's clothing and of jewelery.
func (c *Client) Featured(ctx context.Context) ([]domain.Product, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	byCategory := make(map[string][]domain.Product)
	for _, p := range all {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}
	out := make([]domain.Product, 0, 6)
	out = append(out, window(byCategory[CategoryMen], 1, 3)...)
	out = append(out, window(byCategory[CategoryWomen], 0, 2)...)
	out = append(out, window(byCategory[CategoryJewelery], 0, 2)...)
	return out, nil
}

// Invalidate drops the cached product list.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.products = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// ParseID converts a query value into a product id.
func ParseID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrNoSelection
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}

func (c *Client) cached() ([]domain.Product, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.products == nil || c.now().Sub(c.fetchedAt) >= c.cacheTTL {
		return nil, false
	}
	return cloneProducts(c.products), true
}

func (c *Client) store(products []domain.Product) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	c.products = cloneProducts(products)
	c.fetchedAt = c.now()
	c.mu.Unlock()
}

func (c *Client) getJSON(ctx context.Context, op string, out any, segments ...string) (err error) {
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", endpoint)))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger(ctx, op+".failed", map[string]any{"url": endpoint, "error": err.Error()})
		} else {
			c.logger(ctx, op, map[string]any{"url": endpoint, "latencyMs": time.Since(start).Milliseconds()})
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound && len(segments) > 1 {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		// the product endpoint answers 200 with an empty body for unknown ids
		body = []byte("null")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

func window(items []domain.Product, from, to int) []domain.Product {
	if from >= len(items) {
		return nil
	}
	if to > len(items) {
		to = len(items)
	}
	return items[from:to]
}

func cloneProducts(in []domain.Product) []domain.Product {
	out := make([]domain.Product, len(in))
	copy(out, in)
	return out
}
