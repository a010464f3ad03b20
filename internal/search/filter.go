// Package search implements the product search overlay.
package search

import (
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// DefaultLimit is how many results the overlay shows.
const DefaultLimit = 12

// Filter returns products whose title or category contains query, ignoring case and
// surrounding whitespace. An empty query yields the first limit products. Matches are not
// capped, only the empty-query listing is.
func Filter(products []domain.Product, query string, limit int) []domain.Product {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		if len(products) > limit {
			products = products[:limit]
		}
		out := make([]domain.Product, len(products))
		copy(out, products)
		return out
	}
	out := make([]domain.Product, 0)
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Category), q) {
			out = append(out, p)
		}
	}
	return out
}
