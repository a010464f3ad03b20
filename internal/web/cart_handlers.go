package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

const triggerCartUpdated = "cartUpdated"

func namespace(r *http.Request) string {
	return requestctx.Namespace(r.Context())
}

func (s *Server) handleCartPage(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	view := s.cartView(vc, s.currentCart(r))
	s.renderer.page(w, r, http.StatusOK, "cart", s.newPage(r, vc, "cart.title", "cart", view))
}

func (s *Server) handleCartItems(w http.ResponseWriter, r *http.Request) {
	store, err := s.cartStore(r)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	current, err := store.Load(r.Context())
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	s.renderer.partial(w, r, http.StatusOK, "cart_contents", s.cartView(s.view(r), current))
}

func (s *Server) handleCartBadge(w http.ResponseWriter, r *http.Request) {
	s.renderer.partial(w, r, http.StatusOK, "cart_badge", badgeView{
		viewContext: s.view(r),
		Count:       s.currentCart(r).Summary().UniqueItems,
	})
}

func (s *Server) handleCartToggle(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	store, err := s.cartStore(r)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	product, err := s.catalog.Product(r.Context(), id)
	if err != nil {
		// removal must still work when the catalog is down
		current, lerr := store.Load(r.Context())
		item, ok := current.Item(id)
		if lerr != nil || !ok {
			s.writeCartError(w, r, err)
			return
		}
		product = domain.Product{ID: item.ID, Title: item.Title, Price: item.Price, Image: item.Image}
	}

	inCart, _, err := store.Toggle(r.Context(), product)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	card := productCard{viewContext: s.view(r), Product: product, InCart: inCart}
	w.Header().Set("HX-Trigger", triggerCartUpdated)
	s.renderer.partial(w, r, http.StatusOK, "toggle_button", card)
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ParseID(r.PostFormValue("id"))
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	qty := 1
	if raw := strings.TrimSpace(r.PostFormValue("qty")); raw != "" {
		if qty, err = strconv.Atoi(raw); err != nil {
			s.writeCartError(w, r, cart.ErrInvalidQuantity)
			return
		}
	}
	product, err := s.catalog.Product(r.Context(), id)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	store, err := s.cartStore(r)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	updated, err := store.Add(r.Context(), product, qty)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	s.respondCart(w, r, updated)
}

func (s *Server) handleCartStep(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mutateItem(w, r, func(store *cart.Store, id int) (cart.Cart, error) {
			if delta > 0 {
				return store.Increment(r.Context(), id)
			}
			return store.Decrement(r.Context(), id)
		})
	}
}

func (s *Server) handleCartQuantity(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("qty")))
	if err != nil {
		s.writeCartError(w, r, cart.ErrInvalidQuantity)
		return
	}
	s.mutateItem(w, r, func(store *cart.Store, id int) (cart.Cart, error) {
		return store.SetQuantity(r.Context(), id, qty)
	})
}

func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	s.mutateItem(w, r, func(store *cart.Store, id int) (cart.Cart, error) {
		return store.Remove(r.Context(), id)
	})
}

func (s *Server) mutateItem(w http.ResponseWriter, r *http.Request, fn func(*cart.Store, int) (cart.Cart, error)) {
	id, err := catalog.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	store, err := s.cartStore(r)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	updated, err := fn(store, id)
	if err != nil {
		s.writeCartError(w, r, err)
		return
	}
	s.respondCart(w, r, updated)
}

// respondCart re-renders the cart contents for htmx and redirects plain form posts back to
// the cart page.
func (s *Server) respondCart(w http.ResponseWriter, r *http.Request, current cart.Cart) {
	if !mw.IsHTMX(r.Context()) {
		http.Redirect(w, r, s.cfg.Site.Mount+"/cart", http.StatusSeeOther)
		return
	}
	w.Header().Set("HX-Trigger", triggerCartUpdated)
	s.renderer.partial(w, r, http.StatusOK, "cart_contents", s.cartView(s.view(r), current))
}

func (s *Server) cartView(vc viewContext, current cart.Cart) cartView {
	return cartView{
		viewContext: vc,
		Items:       current.Items,
		Summary:     current.Summary(),
		Totals:      s.checkout.CartTotals(current.Items),
	}
}

func (s *Server) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, catalog.ErrInvalidID), errors.Is(err, catalog.ErrNoSelection),
		errors.Is(err, cart.ErrInvalidProduct), errors.Is(err, cart.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, catalog.ErrNotFound):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, catalog.ErrUnavailable):
		status, code = http.StatusBadGateway, "catalog_unavailable"
	case errors.Is(err, cart.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "cart_unavailable"
	}
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("cart request failed", zap.Error(err))
	}
	if mw.IsHTMX(r.Context()) || httpx.WantsJSON(r) {
		httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), status))
		return
	}
	http.Error(w, http.StatusText(status), status)
}
