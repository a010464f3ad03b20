package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

const (
	formShipping = "shipping"
	alertEvent   = "checkout:alert"
)

func (s *Server) handleCheckoutPage(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	view := checkoutView{viewContext: vc}
	quote, err := s.checkout.Quote(r.Context(), namespace(r), r.URL.Query().Get(formShipping))
	if errors.Is(err, checkout.ErrUnknownShippingMethod) {
		quote, err = s.checkout.Quote(r.Context(), namespace(r), "")
	}
	if err != nil {
		observability.FromContext(r.Context()).Error("checkout quote failed", zap.Error(err))
		view.Alert = s.bundle.T(vc.Lang, "checkout.failed")
	}
	view.Quote = quote
	s.renderer.page(w, r, http.StatusOK, "checkout", s.newPage(r, vc, "checkout.title", "checkout", view))
}

func (s *Server) handleCheckoutTotals(w http.ResponseWriter, r *http.Request) {
	quote, err := s.checkout.Quote(r.Context(), namespace(r), r.URL.Query().Get(formShipping))
	if err != nil {
		s.writeCheckoutError(w, r, err, checkout.Payment{})
		return
	}
	s.renderer.partial(w, r, http.StatusOK, "checkout_totals", checkoutView{viewContext: s.view(r), Quote: quote})
}

func (s *Server) handleCheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	payment := checkout.Payment{
		CardNumber: strings.TrimSpace(r.PostFormValue(checkout.FieldCardNumber)),
		Expiry:     strings.TrimSpace(r.PostFormValue(checkout.FieldExpiry)),
		CVV:        strings.TrimSpace(r.PostFormValue(checkout.FieldCVV)),
	}
	receipt, err := s.checkout.PlaceOrder(r.Context(), namespace(r), checkout.PlaceOrderCommand{
		ShippingMethod: r.PostFormValue(formShipping),
		Payment:        payment,
	})
	if err != nil {
		s.writeCheckoutError(w, r, err, payment)
		return
	}

	target := s.cfg.Site.Mount + receipt.RedirectPath
	if mw.IsHTMX(r.Context()) {
		w.Header().Set("HX-Trigger", triggerCartUpdated)
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	vc := s.view(r)
	order, found, err := s.checkout.LastOrder(r.Context(), namespace(r))
	if err != nil {
		observability.FromContext(r.Context()).Warn("last order unavailable", zap.Error(err))
	}
	view := confirmationView{viewContext: vc, Order: order, Found: found}
	s.renderer.page(w, r, http.StatusOK, "confirmation", s.newPage(r, vc, "order.title", "", view))
}

// writeCheckoutError reports a rejected checkout as a blocking alert. htmx clients receive
// the message in an HX-Trigger event and nothing is swapped; plain form posts get the page
// back with the alert and the entered values.
func (s *Server) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error, payment checkout.Payment) {
	lang := mw.Lang(r.Context())
	status, key := http.StatusInternalServerError, "checkout.failed"

	var invalid *checkout.ValidationError
	switch {
	case errors.As(err, &invalid):
		status, key = http.StatusUnprocessableEntity, invalid.Code
	case errors.Is(err, checkout.ErrUnknownShippingMethod):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrEmptyCart):
		status, key = http.StatusUnprocessableEntity, "checkout.empty_cart"
	case errors.Is(err, checkout.ErrInProgress):
		status, key = http.StatusConflict, "checkout.in_progress"
	case errors.Is(err, checkout.ErrUnavailable), errors.Is(err, cart.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	message := s.bundle.T(lang, key)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("checkout failed", zap.Error(err))
	}

	if httpx.WantsJSON(r) && !mw.IsHTMX(r.Context()) {
		httpx.WriteError(r.Context(), w, httpx.NewError(strings.TrimPrefix(key, "checkout."), message, status))
		return
	}
	if mw.IsHTMX(r.Context()) {
		trigger, _ := json.Marshal(map[string]string{alertEvent: message})
		w.Header().Set("HX-Trigger", string(trigger))
		w.Header().Set("HX-Reswap", "none")
		w.WriteHeader(status)
		return
	}

	vc := s.view(r)
	quote, qerr := s.checkout.Quote(r.Context(), namespace(r), r.PostFormValue(formShipping))
	if qerr != nil {
		quote, _ = s.checkout.Quote(r.Context(), namespace(r), "")
	}
	payment = checkout.Payment{
		CardNumber: checkout.FormatCardNumber(payment.CardNumber),
		Expiry:     checkout.FormatExpiry(payment.Expiry),
	}
	view := checkoutView{viewContext: vc, Quote: quote, Alert: message, Payment: payment}
	s.renderer.page(w, r, status, "checkout", s.newPage(r, vc, "checkout.title", "checkout", view))
}
