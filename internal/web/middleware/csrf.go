package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// CSRFConfig controls the double-submit cookie and where the token is read from.
type CSRFConfig struct {
	CookieName string
	CookiePath string
	HeaderName string
	FormField  string
	MaxAge     time.Duration
	Secure     bool
}

// CSRF ties a token to the visitor session, mirrors it into a cookie, and requires unsafe
// requests to echo it back in the header or the form field. Requires Session upstream.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	cookieName := firstNonEmpty(cfg.CookieName, "storefront_csrf")
	cookiePath := firstNonEmpty(cfg.CookiePath, "/")
	headerName := firstNonEmpty(cfg.HeaderName, "X-CSRF-Token")
	formField := firstNonEmpty(cfg.FormField, "_csrf")
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "session required", http.StatusInternalServerError)
				return
			}
			token := sess.CSRFToken
			if token == "" {
				token = randomToken(16)
				sess.CSRFToken = token
				sess.MarkDirty()
			}

			cookie, cookieErr := r.Cookie(cookieName)
			if cookieErr != nil || cookie.Value != token {
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    token,
					Path:     cookiePath,
					HttpOnly: true,
					Secure:   cfg.Secure || r.TLS != nil,
					SameSite: http.SameSiteStrictMode,
					MaxAge:   int(maxAge.Seconds()),
				})
			}

			if isUnsafeMethod(r.Method) {
				submitted := r.Header.Get(headerName)
				if submitted == "" {
					submitted = r.PostFormValue(formField)
				}
				if !tokensEqual(submitted, token) || cookieErr != nil || !tokensEqual(cookie.Value, token) {
					writeForbidden(w, r)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyCSRF, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	if IsHTMX(r.Context()) || httpx.WantsJSON(r) {
		httpx.WriteError(r.Context(), w, httpx.NewError("csrf_token_invalid", "invalid CSRF token", http.StatusForbidden))
		return
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func tokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
