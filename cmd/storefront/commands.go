package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/format"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/search"
	"github.com/hanko-field/storefront/internal/tui"
)

const sectionFeatured = "featured"

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, _ string) error {
				products, err := listSection(ctx, a, section)
				if err != nil {
					return err
				}
				return printProducts(cmd.OutOrStdout(), a.lang(), products)
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "featured, men, women or accessories (default: all products)")
	return cmd
}

func listSection(ctx context.Context, a *app, section string) ([]domain.Product, error) {
	switch section = strings.ToLower(strings.TrimSpace(section)); section {
	case "":
		return a.catalog.All(ctx)
	case sectionFeatured:
		return a.catalog.Featured(ctx)
	}
	s, ok := catalog.SectionBySlug(section)
	if !ok {
		return nil, fmt.Errorf("unknown section %q", section)
	}
	return a.catalog.ByCategory(ctx, s.Category, s.Limit)
}

func newProductCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, _ string) error {
				id, err := catalog.ParseID(args[0])
				if err != nil {
					return err
				}
				p, err := a.catalog.Product(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "#%d %s\n", p.ID, p.Title)
				fmt.Fprintf(out, "%s · %s\n", format.Price(p.Price, a.lang()), p.Category)
				if p.Description != "" {
					fmt.Fprintf(out, "\n%s\n", p.Description)
				}
				return nil
			})
		},
	}
}

func newCartCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the cart of --session",
	}

	cartRun := func(fn func(ctx context.Context, a *app, store *cart.Store, args []string) (cart.Cart, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, ns string) error {
				store, err := a.carts.Store(ns)
				if err != nil {
					return err
				}
				current, err := fn(ctx, a, store, args)
				if err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), a, current)
			})
		}
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: cartRun(func(ctx context.Context, _ *app, store *cart.Store, _ []string) (cart.Cart, error) {
			return store.Load(ctx)
		}),
	}
	add := &cobra.Command{
		Use:   "add <id> [qty]",
		Short: "Add a product",
		Args:  cobra.RangeArgs(1, 2),
		RunE: cartRun(func(ctx context.Context, a *app, store *cart.Store, args []string) (cart.Cart, error) {
			id, err := catalog.ParseID(args[0])
			if err != nil {
				return cart.Cart{}, err
			}
			qty := 1
			if len(args) == 2 {
				if qty, err = parseQty(args[1]); err != nil {
					return cart.Cart{}, err
				}
			}
			product, err := a.catalog.Product(ctx, id)
			if err != nil {
				return cart.Cart{}, err
			}
			return store.Add(ctx, product, qty)
		}),
	}
	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a product",
		Args:  cobra.ExactArgs(1),
		RunE: cartRun(func(ctx context.Context, _ *app, store *cart.Store, args []string) (cart.Cart, error) {
			id, err := catalog.ParseID(args[0])
			if err != nil {
				return cart.Cart{}, err
			}
			return store.Remove(ctx, id)
		}),
	}
	set := &cobra.Command{
		Use:   "set <id> <qty>",
		Short: "Set the quantity of a product; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: cartRun(func(ctx context.Context, _ *app, store *cart.Store, args []string) (cart.Cart, error) {
			id, err := catalog.ParseID(args[0])
			if err != nil {
				return cart.Cart{}, err
			}
			qty, err := parseQty(args[1])
			if err != nil {
				return cart.Cart{}, err
			}
			return store.SetQuantity(ctx, id, qty)
		}),
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: cartRun(func(ctx context.Context, _ *app, store *cart.Store, _ []string) (cart.Cart, error) {
			return cart.Cart{}, store.Clear(ctx)
		}),
	}

	cmd.AddCommand(show, add, remove, set, clearCmd)
	return cmd
}

func parseQty(raw string) (int, error) {
	qty, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", cart.ErrInvalidQuantity, raw)
	}
	return qty, nil
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search",
		Short: "Search the catalog interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, ns string) error {
				store, err := a.carts.Store(ns)
				if err != nil {
					return err
				}
				return tui.Run(ctx, func(onChange func(search.View)) (tui.Overlay, error) {
					overlay, err := search.NewOverlay(search.OverlayDeps{
						Catalog:  a.catalog,
						Cart:     store,
						Limit:    a.cfg.Search.Limit,
						Debounce: a.cfg.Search.Debounce,
						OnChange: onChange,
						Logger:   observability.EventLogger(a.logger.Named("search")),
					})
					if err != nil {
						return nil, err
					}
					a.onClose(func() error { overlay.Stop(); return nil })
					return overlay, nil
				}, a.bundle, a.lang())
			})
		},
	}
}

func newCheckoutCommand(opts *rootOptions) *cobra.Command {
	var (
		payment  checkout.Payment
		shipping string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place a simulated order for the cart of --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, ns string) error {
				receipt, err := a.checkout.PlaceOrder(ctx, ns, checkout.PlaceOrderCommand{
					ShippingMethod: shipping,
					Payment:        payment,
				})
				var invalid *checkout.ValidationError
				switch {
				case errors.As(err, &invalid):
					return errors.New(a.bundle.T(a.lang(), invalid.Code))
				case errors.Is(err, checkout.ErrEmptyCart):
					return errors.New(a.bundle.T(a.lang(), "checkout.empty_cart"))
				case err != nil:
					return err
				}
				return printOrder(cmd.OutOrStdout(), a, receipt.Order)
			})
		},
	}
	cmd.Flags().StringVar(&payment.CardNumber, "card", "", "16-digit card number")
	cmd.Flags().StringVar(&payment.Expiry, "expiry", "", "Expiry as MM/YY")
	cmd.Flags().StringVar(&payment.CVV, "cvv", "", "3 or 4 digit CVV")
	cmd.Flags().StringVar(&shipping, "shipping", "", "Shipping method (default: the first configured)")
	return cmd
}

func newOrderCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "last",
		Short: "Show the most recent order of --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, ns string) error {
				order, found, err := a.checkout.LastOrder(ctx, ns)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), a.bundle.T(a.lang(), "order.none"))
					return nil
				}
				return printOrder(cmd.OutOrStdout(), a, order)
			})
		},
	})
	return cmd
}

func printProducts(w io.Writer, lang string, products []domain.Product) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tCATEGORY")
	for _, p := range products {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Title, format.Price(p.Price, lang), p.Category)
	}
	return tw.Flush()
}

func printCart(w io.Writer, a *app, current cart.Cart) error {
	lang := a.lang()
	if current.Empty() {
		fmt.Fprintln(w, a.bundle.T(lang, "cart.empty"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tQTY\tPRICE\tLINE")
	for _, item := range current.Items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", item.ID, item.Title, item.Qty,
			format.Price(item.Price, lang), format.Price(item.LineTotal(), lang))
	}
	totals := a.checkout.CartTotals(current.Items)
	fmt.Fprintf(tw, "\t%s\t\t\t%s\n", a.bundle.T(lang, "cart.subtotal"), format.Price(totals.Subtotal, lang))
	fmt.Fprintf(tw, "\t%s\t\t\t%s\n", a.bundle.T(lang, "cart.tax"), format.Price(totals.Tax, lang))
	fmt.Fprintf(tw, "\t%s\t\t\t%s\n", a.bundle.T(lang, "cart.total"), format.Price(totals.Total, lang))
	return tw.Flush()
}

func printOrder(w io.Writer, a *app, order domain.OrderRecord) error {
	lang := a.lang()
	fmt.Fprintf(w, "%s: %s\n", a.bundle.T(lang, "order.number"), order.OrderNumber)
	fmt.Fprintf(w, "%s: %s\n", a.bundle.T(lang, "order.placed_at"), format.Date(order.PlacedAt, lang))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, item := range order.Items {
		fmt.Fprintf(tw, "  %s\tx%d\t%s\n", item.Title, item.Qty, format.Price(item.LineTotal(), lang))
	}
	fmt.Fprintf(tw, "  %s\t\t%s\n", a.bundle.T(lang, "cart.subtotal"), format.Price(order.Subtotal, lang))
	fmt.Fprintf(tw, "  %s (%s)\t\t%s\n", a.bundle.T(lang, "checkout.shipping"), order.ShippingMethod, format.Price(order.Shipping, lang))
	fmt.Fprintf(tw, "  %s\t\t%s\n", a.bundle.T(lang, "cart.tax"), format.Price(order.Tax, lang))
	fmt.Fprintf(tw, "  %s\t\t%s\n", a.bundle.T(lang, "cart.total"), format.Price(order.Total, lang))
	return tw.Flush()
}
