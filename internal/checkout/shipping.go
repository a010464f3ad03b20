package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/storefront/internal/platform/config"
)

// ErrUnknownShippingMethod is returned for a method name that is not configured.
var ErrUnknownShippingMethod = errors.New("checkout: unknown shipping method")

// ShippingMethod is a selectable option with a flat price.
type ShippingMethod = config.ShippingMethod

// DefaultShippingMethods mirrors the configuration default.
func DefaultShippingMethods() []ShippingMethod {
	return []ShippingMethod{
		{Name: "standard", Price: 0},
		{Name: "express", Price: 9.99},
		{Name: "overnight", Price: 19.99},
	}
}

// ShippingOptions is an ordered list of methods; the first is the default selection.
type ShippingOptions []ShippingMethod

// Default returns the first (cheapest) method.
func (o ShippingOptions) Default() ShippingMethod {
	if len(o) == 0 {
		return ShippingMethod{Name: "standard"}
	}
	return o[0]
}

// Resolve finds a method by name. An empty name selects the default.
func (o ShippingOptions) Resolve(name string) (ShippingMethod, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return o.Default(), nil
	}
	for _, m := range o {
		if m.Name == name {
			return m, nil
		}
	}
	return ShippingMethod{}, fmt.Errorf("%w: %q", ErrUnknownShippingMethod, name)
}
