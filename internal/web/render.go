package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/format"
	"github.com/hanko-field/storefront/internal/i18n"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

// Shared templates parsed into every page set.
var sharedTemplates = []string{"layout.tmpl", "partials.tmpl"}

// renderer parses one template set per page: the shared layout and partials plus the page
// file, so every page can define its own "content" block.
type renderer struct {
	fsys   fs.FS
	funcs  template.FuncMap
	reload bool

	mu    sync.RWMutex
	pages map[string]*template.Template
}

func newRenderer(bundle *i18n.Bundle, devMode bool, dir string) (*renderer, error) {
	fsys, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		return nil, err
	}
	if devMode && dir != "" {
		fsys = os.DirFS(dir)
	}
	r := &renderer{
		fsys:   fsys,
		funcs:  templateFuncs(bundle),
		reload: devMode,
	}
	pages, err := r.parse()
	if err != nil {
		return nil, err
	}
	r.pages = pages
	return r, nil
}

func templateFuncs(bundle *i18n.Bundle) template.FuncMap {
	return template.FuncMap{
		"t": func(lang, key string, args ...any) string {
			return bundle.T(lang, key, args...)
		},
		"price": format.Price,
		"date":  format.Date,
		"mul": func(price float64, qty int) float64 {
			return price * float64(qty)
		},
		"badge": func(p pageData) badgeView {
			return badgeView{viewContext: p.viewContext, Count: p.CartCount}
		},
	}
}

func (r *renderer) parse() (map[string]*template.Template, error) {
	entries, err := fs.ReadDir(r.fsys, ".")
	if err != nil {
		return nil, err
	}
	base, err := template.New("_root").Funcs(r.funcs).ParseFS(r.fsys, sharedTemplates...)
	if err != nil {
		return nil, fmt.Errorf("web: parse shared templates: %w", err)
	}
	pages := map[string]*template.Template{"": base}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".tmpl" || isShared(name) {
			continue
		}
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.ParseFS(r.fsys, name); err != nil {
			return nil, fmt.Errorf("web: parse %s: %w", name, err)
		}
		pages[strings.TrimSuffix(name, ".tmpl")] = clone
	}
	return pages, nil
}

func isShared(name string) bool {
	for _, s := range sharedTemplates {
		if s == name {
			return true
		}
	}
	return false
}

func (r *renderer) set(page string) (*template.Template, error) {
	if r.reload {
		pages, err := r.parse()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.pages = pages
		r.mu.Unlock()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.pages[page]
	if !ok {
		return nil, fmt.Errorf("web: unknown page %q", page)
	}
	return t, nil
}

// page renders a full document through the "base" layout.
func (r *renderer) page(w http.ResponseWriter, req *http.Request, status int, page string, data any) {
	r.execute(w, req, status, page, "base", data)
}

// partial renders one named block from the shared partials.
func (r *renderer) partial(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	r.execute(w, req, status, "", name, data)
}

func (r *renderer) execute(w http.ResponseWriter, req *http.Request, status int, page, name string, data any) {
	t, err := r.set(page)
	if err != nil {
		observability.FromContext(req.Context()).Error("template parse failed", zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		observability.FromContext(req.Context()).Error("template exec failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
