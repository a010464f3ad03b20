package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/fragments"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	grid := gridView{viewContext: vc, ID: "featured-products"}
	products, err := s.catalog.Featured(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Warn("featured products unavailable", zap.Error(err))
		grid.ErrKey = "product.load_failed"
	} else {
		grid.Products = cards(vc, products, s.currentCart(r))
	}
	s.renderer.page(w, r, http.StatusOK, "home", s.newPage(r, vc, "section.featured", "home", grid))
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	section, ok := catalog.SectionBySlug(chi.URLParam(r, "section"))
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	vc := s.view(r)
	grid := gridView{viewContext: vc, ID: section.Slug + "-products"}
	products, err := s.catalog.ByCategory(r.Context(), section.Category, section.Limit)
	if err != nil {
		observability.FromContext(r.Context()).Warn("category products unavailable",
			zap.String("category", section.Category), zap.Error(err))
		grid.ErrKey = "product.load_failed"
	} else {
		grid.Products = cards(vc, products, s.currentCart(r))
	}
	s.renderer.page(w, r, http.StatusOK, "shop", s.newPage(r, vc, section.TitleKey, section.Slug, grid))
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	view := productView{viewContext: vc}
	status := http.StatusOK

	id, err := catalog.ParseID(r.URL.Query().Get("id"))
	if err == nil {
		var product domain.Product
		if product, err = s.catalog.Product(r.Context(), id); err == nil {
			view.Card = productCard{viewContext: vc, Product: product, InCart: s.currentCart(r).Contains(product.ID)}
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrNoSelection):
		view.ErrKey = "product.none_selected"
	case errors.Is(err, catalog.ErrInvalidID), errors.Is(err, catalog.ErrNotFound):
		view.ErrKey = "product.detail_failed"
		status = http.StatusNotFound
	default:
		observability.FromContext(r.Context()).Warn("product unavailable", zap.Error(err))
		view.ErrKey = "product.detail_failed"
		status = http.StatusBadGateway
	}

	page := s.newPage(r, vc, "product.back", "", view)
	if view.ErrKey == "" {
		page.Title = view.Card.Product.Title
	}
	s.renderer.page(w, r, status, "product", page)
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	out, err := s.fragments.Load(r.Context(), name, s.basePath(r))
	switch {
	case errors.Is(err, fragments.ErrUnknownFragment), errors.Is(err, fragments.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		observability.FromContext(r.Context()).Warn("fragment load failed", zap.String("fragment", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	s.renderer.page(w, r, http.StatusNotFound, "error", s.newPage(r, vc, "error.not_found", "", nil))
}

// cartStore returns the visitor's cart store.
func (s *Server) cartStore(r *http.Request) (*cart.Store, error) {
	return s.carts.Store(namespace(r))
}

// currentCart loads the visitor's cart, treating failures as an empty cart for rendering.
func (s *Server) currentCart(r *http.Request) cart.Cart {
	store, err := s.cartStore(r)
	if err != nil {
		return cart.Cart{}
	}
	c, err := store.Load(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Warn("cart unavailable", zap.Error(err))
		return cart.Cart{}
	}
	return c
}
