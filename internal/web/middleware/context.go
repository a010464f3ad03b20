// Package middleware holds the storefront's request-scoped HTTP middleware: the signed
// visitor session, CSRF protection, htmx detection and locale resolution.
package middleware

import "context"

type contextKey string

const (
	ctxKeySession contextKey = "storefront.session"
	ctxKeyCSRF    contextKey = "storefront.csrf"
	ctxKeyHTMX    contextKey = "storefront.htmx"
	ctxKeyLocale  contextKey = "storefront.locale"
)

// SessionFromContext returns the visitor session attached by Session.
func SessionFromContext(ctx context.Context) (*SessionData, bool) {
	s, ok := ctx.Value(ctxKeySession).(*SessionData)
	return s, ok && s != nil
}

// CSRFToken returns the token issued for the current request, for forms and meta tags.
func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCSRF).(string)
	return v
}

// HTMXInfoFromContext returns htmx request metadata; zero value when absent.
func HTMXInfoFromContext(ctx context.Context) HTMXInfo {
	v, _ := ctx.Value(ctxKeyHTMX).(HTMXInfo)
	return v
}

// IsHTMX reports whether htmx initiated the request.
func IsHTMX(ctx context.Context) bool {
	return HTMXInfoFromContext(ctx).IsHTMX
}

// Lang returns the resolved locale, or "en" when Locale did not run.
func Lang(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyLocale).(string); ok && v != "" {
		return v
	}
	return "en"
}

// WithLang overrides the resolved locale.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ctxKeyLocale, lang)
}
