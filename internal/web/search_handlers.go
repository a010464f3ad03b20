package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/search"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

func (s *Server) handleSearchOpen(w http.ResponseWriter, r *http.Request) {
	overlay, err := s.searches.Get(namespace(r))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	view, err := overlay.Open(r.Context())
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	s.renderSearch(w, r, view)
}

func (s *Server) handleSearchResults(w http.ResponseWriter, r *http.Request) {
	overlay, err := s.searches.Get(namespace(r))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	// A reload or a second tab may search without having opened the overlay here.
	if !overlay.IsOpen() {
		if _, err := overlay.Open(r.Context()); err != nil {
			s.writeSearchError(w, r, err)
			return
		}
	}
	view, err := overlay.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	s.renderSearch(w, r, view)
}

func (s *Server) handleSearchToggle(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	overlay, err := s.searches.Get(namespace(r))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	result, err := overlay.Toggle(r.Context(), id)
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	w.Header().Set("HX-Trigger", triggerCartUpdated)
	s.renderer.partial(w, r, http.StatusOK, "search_toggle", productCard{
		viewContext: s.view(r),
		Product:     result.Product,
		InCart:      result.InCart,
	})
}

func (s *Server) handleSearchClose(w http.ResponseWriter, r *http.Request) {
	overlay, err := s.searches.Get(namespace(r))
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	reason := search.CloseReason(r.PostFormValue("reason"))
	switch reason {
	case search.CloseControl, search.CloseEscape, search.CloseBackdrop:
	default:
		reason = search.CloseControl
	}
	overlay.Close(r.Context(), reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderSearch(w http.ResponseWriter, r *http.Request, view search.View) {
	vc := s.view(r)
	out := searchView{
		viewContext: vc,
		Query:       view.Query,
		Results:     searchCards(vc, view.Results),
		Empty:       view.Empty(),
	}
	if view.Err != nil {
		out.ErrKey = "search.failed"
	}
	s.renderer.partial(w, r, http.StatusOK, "search_results", out)
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, catalog.ErrInvalidID), errors.Is(err, catalog.ErrNoSelection):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, search.ErrUnknownProduct):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, search.ErrNotOpen):
		status, code = http.StatusConflict, "search_closed"
	}
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("search request failed", zap.Error(err))
	}
	if mw.IsHTMX(r.Context()) || httpx.WantsJSON(r) {
		httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), status))
		return
	}
	http.Error(w, http.StatusText(status), status)
}
