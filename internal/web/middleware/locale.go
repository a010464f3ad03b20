package middleware

import (
	"context"
	"net/http"
	"strings"
)

const localeCookie = "hl"

// LocaleResolver is the subset of the i18n bundle the middleware needs.
type LocaleResolver interface {
	Resolve(acceptLanguage string) string
	IsSupported(lang string) bool
	Fallback() string
}

// Locale picks the visitor's language: an explicit ?hl= override first, then the session,
// then the hl cookie, then Accept-Language. The choice is remembered in the session.
func Locale(resolver LocaleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := ""
			if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("hl"))); q != "" && resolver.IsSupported(q) {
				lang = q
				http.SetCookie(w, &http.Cookie{Name: localeCookie, Value: q, Path: "/", SameSite: http.SameSiteLaxMode})
			}
			sess, hasSession := SessionFromContext(r.Context())
			if lang == "" && hasSession && resolver.IsSupported(sess.Locale) {
				lang = sess.Locale
			}
			if lang == "" {
				if c, err := r.Cookie(localeCookie); err == nil && resolver.IsSupported(strings.ToLower(c.Value)) {
					lang = strings.ToLower(c.Value)
				}
			}
			if lang == "" {
				lang = resolver.Resolve(r.Header.Get("Accept-Language"))
			}
			if lang == "" {
				lang = resolver.Fallback()
			}
			if hasSession {
				sess.SetLocale(lang)
			}

			w.Header().Add("Vary", "Accept-Language")
			w.Header().Set("Content-Language", lang)
			ctx := context.WithValue(r.Context(), ctxKeyLocale, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
