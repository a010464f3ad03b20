// Package tui is a terminal rendition of the search overlay: type to filter the catalog,
// move with the arrow keys, press enter to add or remove the selected product, esc to leave.
// Enter while a search is still pending runs it immediately instead.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hanko-field/storefront/internal/format"
	"github.com/hanko-field/storefront/internal/i18n"
	"github.com/hanko-field/storefront/internal/search"
)

// Overlay is the part of search.Overlay the terminal UI drives.
type Overlay interface {
	Open(ctx context.Context) (search.View, error)
	Input(ctx context.Context, query string)
	Flush() bool
	Close(ctx context.Context, reason search.CloseReason) search.View
	Toggle(ctx context.Context, id int) (search.Result, error)
}

// ViewMsg carries a fresh overlay snapshot into the program.
type ViewMsg search.View

type toggledMsg struct {
	result search.Result
	err    error
}

type styles struct {
	title    lipgloss.Style
	selected lipgloss.Style
	normal   lipgloss.Style
	price    lipgloss.Style
	inCart   lipgloss.Style
	muted    lipgloss.Style
	err      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		normal:   lipgloss.NewStyle(),
		price:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		inCart:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Model is the bubbletea model of the search overlay.
type Model struct {
	ctx     context.Context
	overlay Overlay
	bundle  *i18n.Bundle
	lang    string

	input  textinput.Model
	view   search.View
	cursor int
	status string
	closed bool
	styles styles
}

// New builds a model around overlay. Strings are localised through bundle in lang.
func New(ctx context.Context, overlay Overlay, bundle *i18n.Bundle, lang string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 80
	ti.Placeholder = bundle.T(lang, "search.placeholder")
	ti.Focus()
	return Model{
		ctx:     ctx,
		overlay: overlay,
		bundle:  bundle,
		lang:    lang,
		input:   ti,
		styles:  defaultStyles(),
	}
}

// Closed reports whether the user dismissed the overlay.
func (m Model) Closed() bool { return m.closed }

// Cursor is the index of the selected result.
func (m Model) Cursor() int { return m.cursor }

// Results returns the listed results.
func (m Model) Results() []search.Result { return m.view.Results }

// Init opens the overlay.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.open())
}

func (m Model) open() tea.Cmd {
	return func() tea.Msg {
		view, err := m.overlay.Open(m.ctx)
		if err != nil {
			view.Err = err
		}
		return ViewMsg(view)
	}
}

func (m Model) flush() tea.Cmd {
	return func() tea.Msg {
		m.overlay.Flush()
		return nil
	}
}

func (m Model) toggle(id int) tea.Cmd {
	return func() tea.Msg {
		result, err := m.overlay.Toggle(m.ctx, id)
		return toggledMsg{result: result, err: err}
	}
}

// Update handles keys, overlay snapshots and toggle results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ViewMsg:
		// Stale snapshots for an older query are dropped.
		if msg.Query != m.input.Value() && msg.Err == nil {
			return m, nil
		}
		m.view = search.View(msg)
		if m.cursor >= len(m.view.Results) {
			m.cursor = max(len(m.view.Results)-1, 0)
		}
		return m, nil

	case toggledMsg:
		if msg.err != nil {
			m.status = m.bundle.T(m.lang, "error.internal")
			return m, nil
		}
		m.status = ""
		for i := range m.view.Results {
			if m.view.Results[i].Product.ID == msg.result.Product.ID {
				m.view.Results[i].InCart = msg.result.InCart
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc:
			return m.close(search.CloseEscape)
		case tea.KeyCtrlC:
			return m.close(search.CloseControl)
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case tea.KeyDown:
			if m.cursor < len(m.view.Results)-1 {
				m.cursor++
			}
			return m, nil
		case tea.KeyEnter:
			// the listed results belong to an older query; settle the search first
			if m.view.Query != m.input.Value() {
				return m, m.flush()
			}
			if m.cursor < len(m.view.Results) {
				return m, m.toggle(m.view.Results[m.cursor].Product.ID)
			}
			return m, nil
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.overlay.Input(m.ctx, after)
	}
	return m, cmd
}

func (m Model) close(reason search.CloseReason) (tea.Model, tea.Cmd) {
	m.overlay.Close(m.ctx, reason)
	m.closed = true
	return m, tea.Quit
}

// View renders the overlay.
func (m Model) View() string {
	if m.closed {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.title.Render(m.bundle.T(m.lang, "search.title")))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.view.Err != nil:
		b.WriteString(m.styles.err.Render(m.bundle.T(m.lang, "search.failed")))
		b.WriteString("\n")
	case m.view.Empty():
		b.WriteString(m.styles.muted.Render(m.bundle.T(m.lang, "search.empty")))
		b.WriteString("\n")
	default:
		for i, res := range m.view.Results {
			marker, style := "  ", m.styles.normal
			if i == m.cursor {
				marker, style = "› ", m.styles.selected
			}
			line := fmt.Sprintf("%s%s  %s", marker, style.Render(res.Product.Title),
				m.styles.price.Render(format.Price(res.Product.Price, m.lang)))
			if res.InCart {
				line += "  " + m.styles.inCart.Render("["+m.bundle.T(m.lang, "nav.cart")+"]")
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if m.status != "" {
		b.WriteString("\n" + m.styles.err.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.styles.muted.Render("↑/↓ select · enter add/remove · esc close"))
	return b.String()
}

// Run builds the overlay with a change hook bound to the running program and blocks until
// the user closes it.
func Run(ctx context.Context, build func(onChange func(search.View)) (Overlay, error), bundle *i18n.Bundle, lang string, opts ...tea.ProgramOption) error {
	var program atomic.Pointer[tea.Program]
	overlay, err := build(func(v search.View) {
		if p := program.Load(); p != nil {
			p.Send(ViewMsg(v))
		}
	})
	if err != nil {
		return err
	}
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(ctx, overlay, bundle, lang), opts...)
	program.Store(p)
	_, err = p.Run()
	return err
}
