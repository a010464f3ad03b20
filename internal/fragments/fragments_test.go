package fragments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	gcs "cloud.google.com/go/storage"

	"github.com/hanko-field/storefront/internal/platform/config"
)

func TestBasePath(t *testing.T) {
	cases := map[string]string{
		"":                    "./",
		"/":                   "./",
		"/cart":               "./",
		"/index.html":         "./",
		"/shop/men":           "../",
		"/pages/product.html": "../",
		"/shop/men/":          "../../",
		"/a/b/c/page":         "../../../",
		"//shop//men":         "../",
	}
	for in, want := range cases {
		if got := BasePath(in); got != want {
			t.Fatalf("BasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolverPrefersMount(t *testing.T) {
	if got := (Resolver{}).Base("/shop/men"); got != "../" {
		t.Fatalf("expected depth heuristic without mount, got %q", got)
	}
	if got := (Resolver{Mount: "/storefront/"}).Base("/shop/men"); got != "/storefront/" {
		t.Fatalf("expected mount prefix, got %q", got)
	}
}

type countingSource struct {
	Source
	reads atomic.Int32
}

func (c *countingSource) Read(ctx context.Context, file string) ([]byte, error) {
	c.reads.Add(1)
	return c.Source.Read(ctx, file)
}

func TestLoaderPrefersHTMLAndRendersMarkdown(t *testing.T) {
	fsys := fstest.MapFS{
		"loader.html":        {Data: []byte(`<div id="loadingOverlay"></div>`)},
		"loader.md":          {Data: []byte("ignored")},
		"footer.md":          {Data: []byte("[Cart]({{base}}cart)\n\n<script>alert(1)</script>")},
		"searchOverlay.html": {Data: []byte(`<input hx-get="{{base}}search/results">`)},
	}
	loader := NewLoader(NewFSSource(fsys))
	ctx := context.Background()

	got, err := loader.Load(ctx, NameLoader, "./")
	if err != nil || string(got) != `<div id="loadingOverlay"></div>` {
		t.Fatalf("unexpected loader fragment %q, %v", got, err)
	}

	footer, err := loader.Load(ctx, NameFooter, "../")
	if err != nil {
		t.Fatalf("footer: %v", err)
	}
	if !strings.Contains(string(footer), `href="../cart"`) {
		t.Fatalf("expected base substituted link, got %q", footer)
	}
	if strings.Contains(string(footer), "<script") {
		t.Fatalf("markdown fragments must be sanitised, got %q", footer)
	}

	overlay := loader.Page(ctx, "/storefront/").SearchOverlay
	if string(overlay) != `<input hx-get="/storefront/search/results">` {
		t.Fatalf("unexpected overlay %q", overlay)
	}
}

func TestLoaderCaching(t *testing.T) {
	src := &countingSource{Source: NewFSSource(fstest.MapFS{"loader.html": {Data: []byte("x")}})}
	ctx := context.Background()

	cached := NewLoader(src)
	for i := 0; i < 3; i++ {
		if _, err := cached.Load(ctx, NameLoader, "./"); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if n := src.reads.Load(); n != 1 {
		t.Fatalf("expected a single read with caching, got %d", n)
	}
	cached.Invalidate()
	_, _ = cached.Load(ctx, NameLoader, "./")
	if n := src.reads.Load(); n != 2 {
		t.Fatalf("expected a re-read after invalidate, got %d", n)
	}

	src.reads.Store(0)
	uncached := NewLoader(src, WithCache(false))
	for i := 0; i < 3; i++ {
		_, _ = uncached.Load(ctx, NameLoader, "./")
	}
	if n := src.reads.Load(); n != 3 {
		t.Fatalf("expected every load to read without caching, got %d", n)
	}
}

func TestLoaderCacheIsBoundedByFragmentNames(t *testing.T) {
	src := &countingSource{Source: NewFSSource(Defaults())}
	loader := NewLoader(src)
	ctx := context.Background()

	for depth := 1; depth <= 200; depth++ {
		base := strings.Repeat("../", depth)
		set := loader.Page(ctx, base)
		if !strings.Contains(string(set.Footer), `href="`+base+`cart"`) {
			t.Fatalf("depth %d: footer not resolved against %q: %q", depth, base, set.Footer)
		}
		if !strings.Contains(string(set.SearchOverlay), base+"search/results") {
			t.Fatalf("depth %d: search overlay not resolved", depth)
		}
	}

	loader.mu.RLock()
	entries := len(loader.entries)
	loader.mu.RUnlock()
	if entries != len(Names()) {
		t.Fatalf("expected one cache entry per fragment, got %d", entries)
	}
	// html first, then md for the footer
	if n := src.reads.Load(); n != int32(len(Names())+1) {
		t.Fatalf("expected sources to be read once, got %d reads", n)
	}
}

func TestLoaderFailures(t *testing.T) {
	var events []string
	loader := NewLoader(NewFSSource(fstest.MapFS{}), WithLogger(func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}))
	ctx := context.Background()

	if _, err := loader.Load(ctx, "header", "./"); !errors.Is(err, ErrUnknownFragment) {
		t.Fatalf("expected ErrUnknownFragment, got %v", err)
	}
	if _, err := loader.Load(ctx, NameFooter, "./"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if out := loader.Render(ctx, NameFooter, "./"); out != "" {
		t.Fatalf("failed fragments must render empty, got %q", out)
	}
	if len(events) != 1 || events[0] != "fragments.load_failed" {
		t.Fatalf("expected one failure log, got %v", events)
	}
}

func TestEmbeddedDefaults(t *testing.T) {
	loader := NewLoader(nil)
	set := loader.Page(context.Background(), "./")
	if !strings.Contains(string(set.Loader), `id="loadingOverlay"`) {
		t.Fatalf("loader fragment missing overlay: %q", set.Loader)
	}
	if !strings.Contains(string(set.SearchOverlay), `id="searchInput"`) {
		t.Fatalf("search fragment missing input: %q", set.SearchOverlay)
	}
	if !strings.Contains(string(set.Footer), `href="./cart"`) {
		t.Fatalf("footer fragment missing cart link: %q", set.Footer)
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/components/footer.md" {
			_, _ = w.Write([]byte("hello"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL+"/components", srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	data, err := src.Read(context.Background(), "footer.md")
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected read %q, %v", data, err)
	}
	if _, err := src.Read(context.Background(), "loader.html"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := NewHTTPSource("not a url", nil); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestGCSSource(t *testing.T) {
	var requested string
	src, err := newGCSSource("assets", "/fragments/", func(_ context.Context, bucket, object string) (io.ReadCloser, error) {
		requested = bucket + "/" + object
		if object == "fragments/footer.md" {
			return io.NopCloser(strings.NewReader("from gcs")), nil
		}
		return nil, gcs.ErrObjectNotExist
	})
	if err != nil {
		t.Fatalf("newGCSSource: %v", err)
	}
	data, err := src.Read(context.Background(), "footer.md")
	if err != nil || string(data) != "from gcs" {
		t.Fatalf("unexpected read %q, %v", data, err)
	}
	if requested != "assets/fragments/footer.md" {
		t.Fatalf("unexpected object path %q", requested)
	}
	if _, err := src.Read(context.Background(), "loader.html"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := newGCSSource(" ", "", nil); err == nil {
		t.Fatalf("expected bucket validation error")
	}
}

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "loader.html"), []byte("custom"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, closeFn, err := Open(context.Background(), config.FragmentsConfig{Source: config.FragmentSourceDir, Dir: dir}, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if got := loader.Render(context.Background(), NameLoader, "./"); got != "custom" {
		t.Fatalf("unexpected fragment %q", got)
	}

	if _, _, err := Open(context.Background(), config.FragmentsConfig{Source: "ftp"}, false); err == nil {
		t.Fatalf("expected unknown source error")
	}
}
