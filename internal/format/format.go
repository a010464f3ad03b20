// Package format renders prices and dates for templates and the CLI.
package format

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Price renders a dollar amount with two decimals and locale digit grouping: "$1,234.50".
func Price(amount float64, lang string) string {
	p := message.NewPrinter(tag(lang))
	if amount < 0 {
		return p.Sprintf("-$%.2f", -amount)
	}
	return p.Sprintf("$%.2f", amount)
}

// Date formats t in a locale-friendly short form.
func Date(t time.Time, lang string) string {
	if t.IsZero() {
		return ""
	}
	switch strings.ToLower(lang) {
	case "ja":
		return t.Format("2006-01-02 15:04")
	default:
		return t.Format("Jan 2, 2006 15:04")
	}
}

func tag(lang string) language.Tag {
	t, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return language.English
	}
	return t
}
