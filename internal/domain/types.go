package domain

import "time"

// Product mirrors the read-only product record served by the external catalog API.
type Product struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
}

// LineItem is one product entry in a cart with its aggregated quantity.
type LineItem struct {
	ID    int     `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
	Qty   int     `json:"qty"`
}

// LineTotal returns price multiplied by quantity.
func (i LineItem) LineTotal() float64 {
	return i.Price * float64(i.Qty)
}

// LineItemFromProduct builds a cart entry from a catalog product.
func LineItemFromProduct(p Product, qty int) LineItem {
	return LineItem{
		ID:    p.ID,
		Title: p.Title,
		Price: p.Price,
		Image: p.Image,
		Qty:   qty,
	}
}

// OrderRecord is the one-shot snapshot written when a checkout completes.
type OrderRecord struct {
	OrderNumber    string     `json:"orderNumber"`
	Items          []LineItem `json:"items"`
	Subtotal       float64    `json:"subtotal"`
	Shipping       float64    `json:"shipping"`
	Tax            float64    `json:"tax"`
	Total          float64    `json:"total"`
	ShippingMethod string     `json:"shippingMethod,omitempty"`
	PlacedAt       time.Time  `json:"placedAt"`
}

// CloneLineItems returns a copy of the provided slice, never nil.
func CloneLineItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
