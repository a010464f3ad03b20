package middleware

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const (
	defaultSessionCookie = "STOREFRONT_SESSION"
	defaultSessionTTL    = 30 * 24 * time.Hour
)

// SessionData is the payload carried in the signed visitor cookie. ID doubles as the
// key/value namespace holding the visitor's cart and last order.
type SessionData struct {
	ID        string    `json:"id"`
	Locale    string    `json:"locale,omitempty"`
	CSRFToken string    `json:"csrf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	dirty bool
}

// MarkDirty flags the session for re-issuing the cookie.
func (s *SessionData) MarkDirty() { s.dirty = true }

// SetLocale stores the preferred language.
func (s *SessionData) SetLocale(lang string) {
	if s.Locale == lang {
		return
	}
	s.Locale = lang
	s.dirty = true
}

// SessionConfig configures the SessionManager.
type SessionConfig struct {
	Secret     []byte
	CookieName string
	Path       string
	Secure     bool
	TTL        time.Duration
	Now        func() time.Time
}

// SessionManager signs and verifies visitor cookies with HMAC-SHA256.
type SessionManager struct {
	key    []byte
	name   string
	path   string
	secure bool
	ttl    time.Duration
	now    func() time.Time
}

// ErrEphemeralKey is returned alongside a usable manager when no secret was configured and a
// process-local key was generated instead. Sessions will not survive a restart.
var ErrEphemeralKey = errors.New("session: using ephemeral signing key")

// NewSessionManager constructs a SessionManager. An empty secret yields a random key and
// ErrEphemeralKey so the caller can warn.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	m := &SessionManager{
		key:    cfg.Secret,
		name:   strings.TrimSpace(cfg.CookieName),
		path:   cfg.Path,
		secure: cfg.Secure,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
	if m.name == "" {
		m.name = defaultSessionCookie
	}
	if m.path == "" {
		m.path = "/"
	}
	if m.ttl <= 0 {
		m.ttl = defaultSessionTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if len(m.key) > 0 {
		return m, nil
	}
	m.key = make([]byte, 32)
	if _, err := rand.Read(m.key); err != nil {
		return nil, err
	}
	return m, ErrEphemeralKey
}

// CookieName returns the session cookie name.
func (m *SessionManager) CookieName() string { return m.name }

// Load returns the session carried by r. A missing, tampered or malformed cookie yields a
// fresh session; fromCookie reports which happened.
func (m *SessionManager) Load(r *http.Request) (sess *SessionData, fromCookie bool) {
	if c, err := r.Cookie(m.name); err == nil && c.Value != "" {
		if sd, ok := m.decode(c.Value); ok {
			return sd, true
		}
	}
	return m.New(), false
}

// New creates a session with fresh identifiers.
func (m *SessionManager) New() *SessionData {
	return &SessionData{
		ID:        randomToken(16),
		CSRFToken: randomToken(16),
		CreatedAt: m.now().UTC(),
		dirty:     true,
	}
}

// Encode returns the signed cookie value for sd.
func (m *SessionManager) Encode(sd *SessionData) (string, error) {
	payload, err := json.Marshal(sd)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (m *SessionManager) decode(value string) (*SessionData, bool) {
	payloadPart, sigPart, ok := strings.Cut(value, ".")
	if !ok {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, false
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, false
	}
	var sd SessionData
	if err := json.Unmarshal(payload, &sd); err != nil || sd.ID == "" {
		return nil, false
	}
	if !sd.CreatedAt.IsZero() && m.now().Sub(sd.CreatedAt) > m.ttl {
		return nil, false
	}
	return &sd, true
}

// Write sets the session cookie on w.
func (m *SessionManager) Write(w http.ResponseWriter, sd *SessionData) error {
	value, err := m.Encode(sd)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     m.path,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sd.CreatedAt.Add(m.ttl),
	})
	sd.dirty = false
	return nil
}

// Session attaches the visitor session to the request context, scopes storage to its
// namespace and re-issues the cookie before the first byte of the response when it changed.
func Session(manager *SessionManager) func(http.Handler) http.Handler {
	if manager == nil {
		panic("session manager is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := manager.Load(r)

			ctx := context.WithValue(r.Context(), ctxKeySession, sess)
			ctx = requestctx.WithNamespace(ctx, sess.ID)

			cw := &cookieWriter{ResponseWriter: w}
			cw.before = func() {
				if !sess.dirty {
					return
				}
				if err := manager.Write(w, sess); err != nil {
					requestctx.Logger(ctx).Sugar().Warnw("session cookie write failed", "error", err)
				}
			}
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.flushHeaders()
		})
	}
}

// cookieWriter runs before exactly once, just ahead of the response headers.
type cookieWriter struct {
	http.ResponseWriter
	before func()
	done   bool
}

func (w *cookieWriter) flushHeaders() {
	if w.done {
		return
	}
	w.done = true
	if w.before != nil {
		w.before()
	}
}

func (w *cookieWriter) WriteHeader(status int) {
	w.flushHeaders()
	w.ResponseWriter.WriteHeader(status)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.flushHeaders()
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Flush() {
	w.flushHeaders()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *cookieWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
