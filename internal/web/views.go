package web

import (
	"net/http"
	"net/url"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/fragments"
	"github.com/hanko-field/storefront/internal/search"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

// viewContext is the per-request data every template needs.
type viewContext struct {
	Lang string
	Base string
	CSRF string
}

type pageData struct {
	viewContext
	Title     string
	SiteName  string
	Active    string
	CartCount int
	Fragments fragments.Set
	Body      any
}

type productCard struct {
	viewContext
	Product domain.Product
	InCart  bool
}

type gridView struct {
	viewContext
	ID       string
	Products []productCard
	ErrKey   string
}

type productView struct {
	viewContext
	Card   productCard
	ErrKey string
}

type cartView struct {
	viewContext
	Items   []domain.LineItem
	Summary cart.Summary
	Totals  checkout.Totals
}

type badgeView struct {
	viewContext
	Count int
}

type searchView struct {
	viewContext
	Query   string
	Results []productCard
	ErrKey  string
	Empty   bool
}

type checkoutView struct {
	viewContext
	Quote   checkout.Quote
	Alert   string
	Payment checkout.Payment
}

type confirmationView struct {
	viewContext
	Order domain.OrderRecord
	Found bool
}

func (s *Server) view(r *http.Request) viewContext {
	return viewContext{
		Lang: mw.Lang(r.Context()),
		Base: s.basePath(r),
		CSRF: mw.CSRFToken(r.Context()),
	}
}

// basePath resolves the link prefix for the page the visitor is looking at. For htmx
// requests that is the page in HX-Current-URL, not the fragment endpoint.
func (s *Server) basePath(r *http.Request) string {
	pagePath := r.URL.Path
	if current := mw.HTMXInfoFromContext(r.Context()).CurrentURL; current != "" {
		if u, err := url.Parse(current); err == nil && u.Path != "" {
			pagePath = u.Path
		}
	}
	return s.resolver.Base(pagePath)
}

func (s *Server) newPage(r *http.Request, vc viewContext, titleKey, active string, body any) pageData {
	count := 0
	if store, err := s.cartStore(r); err == nil {
		if summary, err := store.Summary(r.Context()); err == nil {
			count = summary.UniqueItems
		}
	}
	return pageData{
		viewContext: vc,
		Title:       s.bundle.T(vc.Lang, titleKey),
		SiteName:    s.cfg.Site.Name,
		Active:      active,
		CartCount:   count,
		Fragments:   s.fragments.Page(r.Context(), vc.Base),
		Body:        body,
	}
}

func cards(vc viewContext, products []domain.Product, current cart.Cart) []productCard {
	out := make([]productCard, len(products))
	for i, p := range products {
		out[i] = productCard{viewContext: vc, Product: p, InCart: current.Contains(p.ID)}
	}
	return out
}

func searchCards(vc viewContext, results []search.Result) []productCard {
	out := make([]productCard, len(results))
	for i, res := range results {
		out[i] = productCard{viewContext: vc, Product: res.Product, InCart: res.InCart}
	}
	return out
}
