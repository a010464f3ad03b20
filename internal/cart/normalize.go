package cart

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// Decode parses a persisted cart leniently. Older or hand-edited payloads may carry "name"
// instead of "title", numeric strings, duplicate ids or missing quantities. The second
// return value is false when the payload is not a JSON array at all.
func Decode(raw []byte) ([]domain.LineItem, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []domain.LineItem{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var entries []map[string]any
	if err := dec.Decode(&entries); err != nil {
		return []domain.LineItem{}, false
	}

	items := make([]domain.LineItem, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		id, ok := intValue(entry["id"])
		if !ok {
			continue
		}
		title := stringValue(entry["title"])
		if _, present := entry["title"]; !present || entry["title"] == nil {
			title = stringValue(entry["name"])
		}
		price, _ := floatValue(entry["price"])
		qty, ok := intValue(entry["qty"])
		if !ok || qty < 1 {
			qty = 1
		}
		items = append(items, domain.LineItem{
			ID:    id,
			Title: title,
			Price: price,
			Image: stringValue(entry["image"]),
			Qty:   qty,
		})
	}
	return Normalize(items), true
}

// Normalize merges entries sharing an id (summing quantities, keeping the first entry's
// details and position), clamps quantities to at least 1 and negative prices to 0.
func Normalize(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	index := make(map[int]int, len(items))
	for _, item := range items {
		if item.Qty < 1 {
			item.Qty = 1
		}
		if item.Price < 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			item.Price = 0
		}
		if pos, seen := index[item.ID]; seen {
			out[pos].Qty += item.Qty
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

// Encode serialises the cart in the persisted shape.
func Encode(items []domain.LineItem) ([]byte, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	return json.Marshal(items)
}

func intValue(v any) (int, bool) {
	f, ok := floatValue(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func floatValue(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
