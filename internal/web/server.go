// Package web serves the storefront: server-rendered pages enhanced with htmx, per-visitor
// carts scoped by the session cookie, and a server-sent event stream that keeps every open
// tab of a visitor in sync.
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/fragments"
	"github.com/hanko-field/storefront/internal/i18n"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/search"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

// Catalog is the product source used by the pages.
type Catalog interface {
	All(ctx context.Context) ([]domain.Product, error)
	Product(ctx context.Context, id int) (domain.Product, error)
	ByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
	Featured(ctx context.Context) ([]domain.Product, error)
}

// Deps wires the storefront server.
type Deps struct {
	Config    config.Config
	Catalog   Catalog
	Carts     *cart.Manager
	Checkout  *checkout.Service
	Searches  *search.Sessions
	Fragments *fragments.Loader
	Bundle    *i18n.Bundle
	Sessions  *mw.SessionManager
	Logger    *zap.Logger
	// TemplatesDir, when set in dev mode, reparses templates from disk on every render.
	TemplatesDir string
	// Ready reports backend health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
	// Heartbeat is the SSE keep-alive interval. Zero means 25s.
	Heartbeat time.Duration
}

// Server owns the router and its collaborators.
type Server struct {
	cfg       config.Config
	catalog   Catalog
	carts     *cart.Manager
	checkout  *checkout.Service
	searches  *search.Sessions
	fragments *fragments.Loader
	bundle    *i18n.Bundle
	sessions  *mw.SessionManager
	logger    *zap.Logger
	renderer  *renderer
	resolver  fragments.Resolver
	ready     func(context.Context) error
	heartbeat time.Duration

	handler http.Handler
}

// New validates deps and builds the router.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("web: catalog is required")
	case deps.Carts == nil:
		return nil, errors.New("web: cart manager is required")
	case deps.Checkout == nil:
		return nil, errors.New("web: checkout service is required")
	case deps.Searches == nil:
		return nil, errors.New("web: search sessions are required")
	case deps.Bundle == nil:
		return nil, errors.New("web: i18n bundle is required")
	case deps.Sessions == nil:
		return nil, errors.New("web: session manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := deps.Fragments
	if loader == nil {
		loader = fragments.NewLoader(nil, fragments.WithLogger(observability.EventLogger(logger)))
	}
	ready := deps.Ready
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	rend, err := newRenderer(deps.Bundle, deps.Config.DevMode, deps.TemplatesDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       deps.Config,
		catalog:   deps.Catalog,
		carts:     deps.Carts,
		checkout:  deps.Checkout,
		searches:  deps.Searches,
		fragments: loader,
		bundle:    deps.Bundle,
		sessions:  deps.Sessions,
		logger:    logger,
		renderer:  rend,
		resolver:  fragments.Resolver{Mount: deps.Config.Site.Mount},
		ready:     ready,
		heartbeat: heartbeat,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// HTTPServer wraps the handler with the configured timeouts. The SSE stream is exempt from
// the write timeout through http.ResponseController.
func (s *Server) HTTPServer() *http.Server {
	port := strings.TrimPrefix(s.cfg.Server.Port, ":")
	if port == "" {
		port = "8080"
	}
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.InjectLoggerMiddleware(s.logger))
	r.Use(observability.TraceMiddleware())
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(observability.RecoveryMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	if s.cfg.Site.Mount != "" {
		r.Get(s.cfg.Site.Mount, func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, s.cfg.Site.Mount+"/", http.StatusMovedPermanently)
		})
		r.Route(s.cfg.Site.Mount, s.mountRoutes)
	} else {
		s.mountRoutes(r)
	}
	return r
}

func (s *Server) mountRoutes(r chi.Router) {
	r.Handle("/assets/*", http.StripPrefix(s.cfg.Site.Mount+"/assets/", assetsHandler()))

	r.Group(func(r chi.Router) {
		r.Use(mw.HTMX())
		r.Use(mw.Session(s.sessions))
		r.Use(mw.Locale(s.bundle))
		r.Use(mw.CSRF(mw.CSRFConfig{
			CookiePath: firstNonEmpty(s.cfg.Site.Mount, "/"),
			Secure:     s.cfg.Session.CookieSecure,
		}))

		r.Get("/", s.handleHome)
		r.Get("/shop/{section}", s.handleShop)
		r.Get("/product", s.handleProduct)

		r.Post("/cart/toggle/{id}", s.handleCartToggle)
		r.Get("/cart", s.handleCartPage)
		r.Get("/cart/items", s.handleCartItems)
		r.Get("/cart/badge", s.handleCartBadge)
		r.Get("/cart/events", s.handleCartEvents)
		r.Post("/cart/items", s.handleCartAdd)
		r.Post("/cart/items/{id}/increment", s.handleCartStep(1))
		r.Post("/cart/items/{id}/decrement", s.handleCartStep(-1))
		r.Post("/cart/items/{id}/quantity", s.handleCartQuantity)
		r.Delete("/cart/items/{id}", s.handleCartRemove)

		r.Get("/search", s.handleSearchOpen)
		r.Get("/search/results", s.handleSearchResults)
		r.Post("/search/toggle/{id}", s.handleSearchToggle)
		r.Post("/search/close", s.handleSearchClose)

		r.Get("/checkout", s.handleCheckoutPage)
		r.Get("/checkout/totals", s.handleCheckoutTotals)
		r.Post("/checkout", s.handleCheckoutSubmit)
		r.Get(checkout.ConfirmationPath, s.handleConfirmation)

		r.Get("/fragments/{name}", s.handleFragment)

		r.NotFound(s.handleNotFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.ready(ctx); err != nil {
		observability.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
