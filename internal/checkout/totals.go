// Package checkout prices the cart, validates the simulated payment form and records the
// last order.
package checkout

import "github.com/hanko-field/storefront/internal/domain"

// DefaultTaxRate is applied to the subtotal.
const DefaultTaxRate = 0.05

// Totals is the price breakdown shown on the checkout page.
type Totals struct {
	Subtotal float64
	Shipping float64
	Tax      float64
	Total    float64
}

// ComputeTotals prices items at the default tax rate.
func ComputeTotals(items []domain.LineItem, shipping float64) Totals {
	return computeTotals(items, shipping, DefaultTaxRate)
}

func computeTotals(items []domain.LineItem, shipping, taxRate float64) Totals {
	var subtotal float64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	tax := subtotal * taxRate
	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + tax + shipping,
	}
}
