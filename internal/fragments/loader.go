// Package fragments loads the shared page fragments (loading overlay, footer, search overlay)
// and resolves the base path used to reach them.
package fragments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hanko-field/storefront/internal/platform/config"
)

// Fragment names.
const (
	NameLoader        = "loader"
	NameFooter        = "footer"
	NameSearchOverlay = "searchOverlay"
)

// basePlaceholder is replaced with the page's base path on every Load.
const basePlaceholder = "{{base}}"

// baseToken stands in for the placeholder in cached output. It survives markdown rendering
// and sanitising as a plain relative URL.
const baseToken = "fragment-base-path-token"

// ErrUnknownFragment is returned for names outside Names().
var ErrUnknownFragment = errors.New("fragments: unknown fragment")

// Names lists the fragments injected into every page.
func Names() []string {
	return []string{NameLoader, NameFooter, NameSearchOverlay}
}

func known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Set holds the rendered fragments for one page.
type Set struct {
	Loader        template.HTML
	Footer        template.HTML
	SearchOverlay template.HTML
}

// Loader renders fragments from a Source. Each fragment is looked up as "<name>.html" first
// (trusted markup) and then "<name>.md" (markdown rendered and sanitised).
type Loader struct {
	source Source
	cache  bool
	md     goldmark.Markdown
	policy *bluemonday.Policy
	logger func(context.Context, string, map[string]any)

	// entries is keyed by fragment name only, so it never holds more than len(Names()) items.
	mu      sync.RWMutex
	entries map[string]string
}

// Option customises the Loader.
type Option func(*Loader)

// WithCache toggles caching of rendered fragments. Caching is on by default.
func WithCache(enabled bool) Option {
	return func(l *Loader) {
		l.cache = enabled
	}
}

// WithLogger sets the event hook used for fetch failures.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader constructs a Loader. A nil source falls back to the embedded defaults.
func NewLoader(source Source, opts ...Option) *Loader {
	if source == nil {
		source = NewFSSource(Defaults())
	}
	l := &Loader{
		source:  source,
		cache:   true,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:  newFragmentPolicy(),
		logger:  func(context.Context, string, map[string]any) {},
		entries: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func newFragmentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span", "a", "div", "small")
	policy.RequireNoFollowOnLinks(false)
	return policy
}

// Load renders the named fragment with base substituted for the {{base}} placeholder.
func (l *Loader) Load(ctx context.Context, name, base string) (template.HTML, error) {
	if !known(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFragment, name)
	}
	out, err := l.rendered(ctx, name)
	if err != nil {
		return "", err
	}
	return template.HTML(strings.ReplaceAll(out, baseToken, template.HTMLEscapeString(base))), nil
}

func (l *Loader) rendered(ctx context.Context, name string) (string, error) {
	if l.cache {
		l.mu.RLock()
		out, ok := l.entries[name]
		l.mu.RUnlock()
		if ok {
			return out, nil
		}
	}

	out, err := l.render(ctx, name)
	if err != nil {
		return "", err
	}
	if l.cache {
		l.mu.Lock()
		l.entries[name] = out
		l.mu.Unlock()
	}
	return out, nil
}

// Render is Load for templates: failures are logged and the fragment renders empty.
func (l *Loader) Render(ctx context.Context, name, base string) template.HTML {
	out, err := l.Load(ctx, name, base)
	if err != nil {
		l.logger(ctx, "fragments.load_failed", map[string]any{
			"fragment": name,
			"error":    err.Error(),
		})
		return ""
	}
	return out
}

// Page renders every shared fragment for a page.
func (l *Loader) Page(ctx context.Context, base string) Set {
	return Set{
		Loader:        l.Render(ctx, NameLoader, base),
		Footer:        l.Render(ctx, NameFooter, base),
		SearchOverlay: l.Render(ctx, NameSearchOverlay, base),
	}
}

// Invalidate drops all cached fragments.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.entries = map[string]string{}
	l.mu.Unlock()
}

func (l *Loader) render(ctx context.Context, name string) (string, error) {
	raw, err := l.source.Read(ctx, name+".html")
	if err == nil {
		return string(tokenizeBase(raw)), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	raw, err = l.source.Read(ctx, name+".md")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := l.md.Convert(tokenizeBase(raw), &buf); err != nil {
		return "", fmt.Errorf("fragments: render %s.md: %w", name, err)
	}
	return string(l.policy.SanitizeBytes(buf.Bytes())), nil
}

func tokenizeBase(raw []byte) []byte {
	return bytes.ReplaceAll(raw, []byte(basePlaceholder), []byte(baseToken))
}

// Open builds a Loader for the configured source. The returned close func releases any
// client the source owns. Caching is disabled in dev mode so edits show up immediately.
func Open(ctx context.Context, cfg config.FragmentsConfig, devMode bool, opts ...Option) (*Loader, func() error, error) {
	noop := func() error { return nil }
	var source Source
	closeFn := noop
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", config.FragmentSourceEmbedded:
		source = NewFSSource(Defaults())
	case config.FragmentSourceDir:
		source = NewFSSource(os.DirFS(cfg.Dir))
	case config.FragmentSourceHTTP:
		src, err := NewHTTPSource(cfg.BaseURL, nil)
		if err != nil {
			return nil, nil, err
		}
		source = src
	case config.FragmentSourceGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fragments: storage client: %w", err)
		}
		src, err := NewGCSSource(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		source = src
		closeFn = client.Close
	default:
		return nil, nil, fmt.Errorf("fragments: unknown source %q", cfg.Source)
	}
	opts = append([]Option{WithCache(!devMode)}, opts...)
	return NewLoader(source, opts...), closeFn, nil
}
