package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/kv"
)

const (
	// DefaultProcessingDelay simulates payment processing.
	DefaultProcessingDelay = 1500 * time.Millisecond
	// ConfirmationPath is where the visitor lands after a successful order.
	ConfirmationPath  = "/order-confirmation"
	orderNumberPrefix = "ORD-"
	metricNamespace   = "github.com/hanko-field/storefront/internal/checkout"
)

var (
	// ErrEmptyCart is returned when placing an order without items.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInProgress is returned while another order for the same namespace is processing.
	ErrInProgress = errors.New("checkout: order already processing")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("checkout: unavailable")
)

// ServiceDeps wires the checkout service.
type ServiceDeps struct {
	Carts           *cart.Manager
	KV              kv.Store
	Shipping        []ShippingMethod
	// TaxRate defaults to DefaultTaxRate when nil. Zero is a valid rate.
	TaxRate         *float64
	ProcessingDelay time.Duration
	// Sleep waits out the processing delay. It deliberately ignores cancellation.
	Sleep       func(time.Duration)
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// Meter defaults to the global OpenTelemetry meter provider.
	Meter metric.Meter
}

// Quote is the checkout page model for the current selection.
type Quote struct {
	Items   []domain.LineItem
	Method  ShippingMethod
	Methods ShippingOptions
	Totals  Totals
}

// PlaceOrderCommand carries the submitted checkout form.
type PlaceOrderCommand struct {
	ShippingMethod string
	Payment        Payment
}

// Receipt is returned after an order is recorded.
type Receipt struct {
	Order        domain.OrderRecord
	RedirectPath string
}

// Service prices carts and records simulated orders.
type Service struct {
	carts    *cart.Manager
	kv       kv.Store
	shipping ShippingOptions
	taxRate  float64
	delay    time.Duration
	sleep    func(time.Duration)
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)

	ordersPlaced metric.Int64Counter
	orderTotal   metric.Float64Histogram

	inflight sync.Map
}

// NewService validates deps and constructs the Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart manager is required")
	}
	if deps.KV == nil {
		return nil, errors.New("checkout service: key/value store is required")
	}
	shipping := ShippingOptions(deps.Shipping)
	if len(shipping) == 0 {
		shipping = DefaultShippingMethods()
	}
	taxRate := DefaultTaxRate
	if deps.TaxRate != nil {
		taxRate = *deps.TaxRate
	}
	if taxRate < 0 || taxRate >= 1 {
		return nil, fmt.Errorf("checkout service: tax rate %v out of range", taxRate)
	}
	delay := deps.ProcessingDelay
	if delay <= 0 {
		delay = DefaultProcessingDelay
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	svc := &Service{
		carts:    deps.Carts,
		kv:       deps.KV,
		shipping: shipping,
		taxRate:  taxRate,
		delay:    delay,
		sleep:    sleep,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}
	svc.registerMetrics(deps.Meter)
	return svc, nil
}

func (s *Service) registerMetrics(meter metric.Meter) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	ctx := context.Background()
	var err error
	s.ordersPlaced, err = meter.Int64Counter(
		"checkout.orders.placed",
		metric.WithDescription("Count of simulated orders recorded"),
	)
	if err != nil {
		s.logger(ctx, "checkout.metric_register_failed", map[string]any{"metric": "checkout.orders.placed", "error": err.Error()})
	}
	s.orderTotal, err = meter.Float64Histogram(
		"checkout.order.total",
		metric.WithUnit("USD"),
		metric.WithDescription("Order totals including tax and shipping"),
	)
	if err != nil {
		s.logger(ctx, "checkout.metric_register_failed", map[string]any{"metric": "checkout.order.total", "error": err.Error()})
	}
}

func (s *Service) recordOrder(ctx context.Context, order domain.OrderRecord) {
	attrs := metric.WithAttributes(attribute.String("shipping", order.ShippingMethod))
	if s.ordersPlaced != nil {
		s.ordersPlaced.Add(ctx, 1, attrs)
	}
	if s.orderTotal != nil {
		s.orderTotal.Record(ctx, order.Total, attrs)
	}
}

// ShippingMethods returns the configured options in display order.
func (s *Service) ShippingMethods() ShippingOptions {
	out := make(ShippingOptions, len(s.shipping))
	copy(out, s.shipping)
	return out
}

// CartTotals prices items without shipping, as shown on the cart page.
func (s *Service) CartTotals(items []domain.LineItem) Totals {
	return computeTotals(items, 0, s.taxRate)
}

// Quote prices the namespace's cart with the selected shipping method.
func (s *Service) Quote(ctx context.Context, namespace, method string) (Quote, error) {
	selected, err := s.shipping.Resolve(method)
	if err != nil {
		return Quote{}, err
	}
	store, err := s.carts.Store(namespace)
	if err != nil {
		return Quote{}, err
	}
	current, err := store.Load(ctx)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Items:   current.Items,
		Method:  selected,
		Methods: s.ShippingMethods(),
		Totals:  computeTotals(current.Items, selected.Price, s.taxRate),
	}, nil
}

// PlaceOrder validates the form, waits out the processing delay, records the last order,
// clears the cart and announces the order. Once the delay has started the order completes
// even if ctx is cancelled.
func (s *Service) PlaceOrder(ctx context.Context, namespace string, cmd PlaceOrderCommand) (Receipt, error) {
	if err := Validate(cmd.Payment); err != nil {
		return Receipt{}, err
	}
	quote, err := s.Quote(ctx, namespace, cmd.ShippingMethod)
	if err != nil {
		return Receipt{}, err
	}
	if len(quote.Items) == 0 {
		return Receipt{}, ErrEmptyCart
	}

	if _, busy := s.inflight.LoadOrStore(namespace, struct{}{}); busy {
		return Receipt{}, ErrInProgress
	}
	defer s.inflight.Delete(namespace)

	s.sleep(s.delay)
	ctx = context.WithoutCancel(ctx)

	order := domain.OrderRecord{
		OrderNumber:    orderNumberPrefix + s.newID(),
		Items:          domain.CloneLineItems(quote.Items),
		Subtotal:       quote.Totals.Subtotal,
		Shipping:       quote.Totals.Shipping,
		Tax:            quote.Totals.Tax,
		Total:          quote.Totals.Total,
		ShippingMethod: quote.Method.Name,
		PlacedAt:       s.now(),
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return Receipt{}, fmt.Errorf("checkout: encode order: %w", err)
	}
	if err := s.kv.Set(ctx, namespace, kv.KeyLastOrder, payload); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	store, err := s.carts.Store(namespace)
	if err != nil {
		return Receipt{}, err
	}
	if _, err := store.Deduct(ctx, order.Items); err != nil {
		return Receipt{}, err
	}
	s.carts.Bus().Publish(ctx, events.Event{
		Namespace: namespace,
		Key:       kv.KeyLastOrder,
		Kind:      events.KindOrderPlaced,
	})
	s.recordOrder(ctx, order)
	s.logger(ctx, "checkout.order_placed", map[string]any{
		"orderNumber": order.OrderNumber,
		"items":       len(order.Items),
		"total":       order.Total,
		"shipping":    order.ShippingMethod,
	})
	return Receipt{Order: order, RedirectPath: ConfirmationPath}, nil
}

// LastOrder returns the most recent order for the namespace. Missing or malformed records
// report found=false.
func (s *Service) LastOrder(ctx context.Context, namespace string) (domain.OrderRecord, bool, error) {
	if strings.TrimSpace(namespace) == "" {
		return domain.OrderRecord{}, false, cart.ErrNamespaceRequired
	}
	raw, err := s.kv.Get(ctx, namespace, kv.KeyLastOrder)
	if kv.IsNotFound(err) {
		return domain.OrderRecord{}, false, nil
	}
	if err != nil {
		return domain.OrderRecord{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var order domain.OrderRecord
	if err := json.Unmarshal(raw, &order); err != nil || order.OrderNumber == "" {
		s.logger(ctx, "checkout.last_order_malformed", map[string]any{"bytes": len(raw)})
		return domain.OrderRecord{}, false, nil
	}
	if order.Items == nil {
		order.Items = []domain.LineItem{}
	}
	return order, true, nil
}
