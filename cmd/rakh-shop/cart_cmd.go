package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/adeilh/rakh-shop/shop"
	"github.com/spf13/cobra"
)

func newCartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cart",
		Short:   "Show and change the cart",
		GroupID: GroupClient,
		Long: `Show and change the cart.

A cart line is a product in one size and color. The local cart is discarded
client.cart_ttl after its first line was added.`,
	}
	cmd.AddCommand(
		newCartListCmd(),
		newCartAddCmd(),
		newCartSetCmd(),
		newCartRemoveCmd(),
		newCartClearCmd(),
	)
	return cmd
}

// lineFlags binds the --size and --color flags that pick a cart line.
type lineFlags struct {
	size  string
	color string
}

func (f *lineFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.size, "size", "", "Product size")
	cmd.Flags().StringVar(&f.color, "color", "", "Product color")
}

func (f *lineFlags) key(productID string) shop.LineKey {
	return shop.LineKey{ProductID: productID, Size: f.size, Color: f.color}
}

func newCartListCmd() *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cart lines",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				if sync {
					if err := sf.sync(ctx, sf.cart.Sync); err != nil {
						return err
					}
				}
				lines := sf.cart.Lines()
				out := cmd.OutOrStdout()
				if len(lines) == 0 {
					fmt.Fprintln(out, "Cart is empty")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PRODUCT\tSIZE\tCOLOR\tQTY")
				for _, l := range lines {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", l.ProductID, l.Size, l.Color, l.Quantity)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%d items, cart expires %s\n", sf.cart.Count(), sf.cart.ExpiresAt().Local().Format(time.DateTime))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "Refresh from the API first")
	return cmd
}

func newCartAddCmd() *cobra.Command {
	var (
		line lineFlags
		qty  int
	)
	cmd := &cobra.Command{
		Use:     "add <product-id>",
		Short:   "Add a product to the cart",
		Args:    cobra.ExactArgs(1),
		Example: `  rakh-shop cart add p-100 --size M --color blue --qty 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				key := line.key(args[0])
				err := sf.cart.Add(ctx, shop.CartLine{
					ProductID: key.ProductID,
					Size:      key.Size,
					Color:     key.Color,
					Quantity:  qty,
				})
				if err != nil {
					return err
				}
				current, _ := sf.cart.Line(key)
				fmt.Fprintf(cmd.OutOrStdout(), "%s now x%d\n", key, current.Quantity)
				return nil
			})
		},
	}
	line.bind(cmd)
	cmd.Flags().IntVar(&qty, "qty", 1, "Quantity to add")
	return cmd
}

func newCartSetCmd() *cobra.Command {
	var line lineFlags
	cmd := &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Replace the quantity of a cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				key := line.key(args[0])
				if err := sf.cart.SetQuantity(ctx, key, qty); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now x%d\n", key, qty)
				return nil
			})
		},
	}
	line.bind(cmd)
	return cmd
}

func newCartRemoveCmd() *cobra.Command {
	var line lineFlags
	cmd := &cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a cart line",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				key := line.key(args[0])
				if err := sf.cart.Remove(ctx, key); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed", key)
				return nil
			})
		},
	}
	line.bind(cmd)
	return cmd
}

func newCartClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the local cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				if err := sf.cart.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
				return nil
			})
		},
	}
}
