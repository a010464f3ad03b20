package tui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/i18n"
	"github.com/hanko-field/storefront/internal/search"
)

type fakeOverlay struct {
	mu      sync.Mutex
	view    search.View
	openErr error
	inputs  []string
	closed  []search.CloseReason
	toggled []int
	flushed int
	inCart  map[int]bool
}

func (f *fakeOverlay) Flush() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return true
}

func (f *fakeOverlay) Open(context.Context) (search.View, error) {
	return f.view, f.openErr
}

func (f *fakeOverlay) Input(_ context.Context, query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, query)
}

func (f *fakeOverlay) Close(_ context.Context, reason search.CloseReason) search.View {
	f.closed = append(f.closed, reason)
	return search.View{}
}

func (f *fakeOverlay) Toggle(_ context.Context, id int) (search.Result, error) {
	if id == 99 {
		return search.Result{}, search.ErrUnknownProduct
	}
	f.toggled = append(f.toggled, id)
	if f.inCart == nil {
		f.inCart = map[int]bool{}
	}
	f.inCart[id] = !f.inCart[id]
	return search.Result{Product: domain.Product{ID: id}, InCart: f.inCart[id]}, nil
}

func testBundle(t *testing.T) *i18n.Bundle {
	t.Helper()
	b, err := i18n.Default("en", []string{"en"})
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	return b
}

func results(ids ...int) []search.Result {
	out := make([]search.Result, len(ids))
	for i, id := range ids {
		out[i] = search.Result{Product: domain.Product{ID: id, Title: "Item " + string(rune('A'+i)), Price: 10}}
	}
	return out
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func TestInitOpensOverlay(t *testing.T) {
	overlay := &fakeOverlay{view: search.View{Open: true, Results: results(1, 2)}}
	m := New(context.Background(), overlay, testBundle(t), "en")

	msg := m.open()()
	m, _ = update(t, m, msg)
	if got := len(m.Results()); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
	if !strings.Contains(m.View(), "Item A") {
		t.Fatalf("expected results in view, got %q", m.View())
	}
}

func TestTypingFeedsOverlayInput(t *testing.T) {
	overlay := &fakeOverlay{}
	m := New(context.Background(), overlay, testBundle(t), "en")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'i'}})
	if len(overlay.inputs) != 2 || overlay.inputs[1] != "ri" {
		t.Fatalf("expected debounced input calls, got %v", overlay.inputs)
	}

	// Snapshots for an older query are ignored.
	m, _ = update(t, m, ViewMsg{Open: true, Query: "r", Results: results(1, 2, 3)})
	if len(m.Results()) != 0 {
		t.Fatalf("stale view should be dropped")
	}
	m, _ = update(t, m, ViewMsg{Open: true, Query: "ri", Results: results(4)})
	if len(m.Results()) != 1 {
		t.Fatalf("expected current view to apply")
	}
}

func TestEnterWithPendingSearchFlushesInsteadOfToggling(t *testing.T) {
	overlay := &fakeOverlay{}
	m := New(context.Background(), overlay, testBundle(t), "en")
	m, _ = update(t, m, ViewMsg{Open: true, Results: results(1, 2)})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should settle the pending search")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("flush delivers results through the overlay, got %T", msg)
	}
	if overlay.flushed != 1 || len(overlay.toggled) != 0 {
		t.Fatalf("expected one flush and no toggle, got flushed=%d toggled=%v", overlay.flushed, overlay.toggled)
	}

	m, _ = update(t, m, ViewMsg{Open: true, Query: "x", Results: results(3)})
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	_ = cmd()
	if len(overlay.toggled) != 1 || overlay.toggled[0] != 3 {
		t.Fatalf("expected the settled result toggled, got %v", overlay.toggled)
	}
}

func TestCursorAndToggle(t *testing.T) {
	overlay := &fakeOverlay{}
	m := New(context.Background(), overlay, testBundle(t), "en")
	m, _ = update(t, m, ViewMsg{Open: true, Results: results(1, 2, 3)})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.Cursor() != 2 {
		t.Fatalf("cursor should stop at the last result, got %d", m.Cursor())
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should toggle the selected result")
	}
	m, _ = update(t, m, cmd())
	if len(overlay.toggled) != 1 || overlay.toggled[0] != 2 {
		t.Fatalf("expected product 2 toggled, got %v", overlay.toggled)
	}
	if !m.Results()[1].InCart || m.Results()[0].InCart {
		t.Fatalf("only the toggled result changes: %+v", m.Results())
	}
	if !strings.Contains(m.View(), "[Cart]") {
		t.Fatalf("in-cart marker missing: %q", m.View())
	}
}

func TestEscClosesOverlay(t *testing.T) {
	overlay := &fakeOverlay{}
	m := New(context.Background(), overlay, testBundle(t), "en")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if !m.Closed() {
		t.Fatal("expected model to be closed")
	}
	if len(overlay.closed) != 1 || overlay.closed[0] != search.CloseEscape {
		t.Fatalf("expected escape close, got %v", overlay.closed)
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit command")
	}
}

func TestViewMessages(t *testing.T) {
	m := New(context.Background(), &fakeOverlay{}, testBundle(t), "en")

	m, _ = update(t, m, ViewMsg{Open: true})
	if !strings.Contains(m.View(), "No products found.") {
		t.Fatalf("expected empty message, got %q", m.View())
	}
	m, _ = update(t, m, ViewMsg{Open: true, Err: search.ErrCatalogUnavailable})
	if !strings.Contains(m.View(), "Failed to load products.") {
		t.Fatalf("expected failure message, got %q", m.View())
	}
}

func TestToggleFailureShowsStatus(t *testing.T) {
	overlay := &fakeOverlay{}
	m := New(context.Background(), overlay, testBundle(t), "en")
	m, _ = update(t, m, ViewMsg{Open: true, Results: results(99)})

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "Something went wrong.") {
		t.Fatalf("expected status line, got %q", m.View())
	}
}
