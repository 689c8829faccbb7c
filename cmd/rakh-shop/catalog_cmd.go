package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/adeilh/rakh-shop/shop"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "catalog",
		Short:   "Browse categories and products",
		GroupID: GroupClient,
		Long: `Browse categories and products.

Responses are cached in the local data directory for client.catalog_ttl.
Use --refresh to drop the cache first.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if !refresh {
				return nil
			}
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				return sf.catalog.Invalidate(ctx)
			})
		},
	}
	cmd.PersistentFlags().BoolVar(&refresh, "refresh", false, "Drop cached catalog data before reading")
	cmd.AddCommand(newCategoriesCmd(), newProductsCmd(), newProductCmd())
	return cmd
}

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				categories, err := sf.catalog.Categories(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSLUG\tNAME")
				for _, c := range categories {
					fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Slug, c.Name)
				}
				return w.Flush()
			})
		},
	}
}

func newProductsCmd() *cobra.Command {
	var (
		category string
		page     int
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List one page of products",
		Args:  cobra.NoArgs,
		Example: `  rakh-shop catalog products
  rakh-shop catalog products --category shoes --page 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				result, err := sf.catalog.Products(ctx, category, page)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if err := printProducts(out, result.Items, sf); err != nil {
					return err
				}
				fmt.Fprintf(out, "\npage %d of %d, %d products\n", result.Page, max(result.TotalPages, 1), result.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category slug")
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	return cmd
}

func newProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				p, err := sf.catalog.Product(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s\n", p.ID, p.Name)
				fmt.Fprintf(out, "price:    %s\n", formatPrice(p.PriceCents, p.Currency))
				fmt.Fprintf(out, "category: %s\n", p.CategoryID)
				if len(p.Sizes) > 0 {
					fmt.Fprintf(out, "sizes:    %s\n", strings.Join(p.Sizes, ", "))
				}
				if len(p.Colors) > 0 {
					fmt.Fprintf(out, "colors:   %s\n", strings.Join(p.Colors, ", "))
				}
				if sf.likes.IsLiked(p.ID) {
					fmt.Fprintln(out, "liked")
				}
				return nil
			})
		},
	}
}

func printProducts(out io.Writer, products []shop.Product, sf *storefront) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE\tLIKED")
	for _, p := range products {
		liked := ""
		if sf.likes.IsLiked(p.ID) {
			liked = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, formatPrice(p.PriceCents, p.Currency), liked)
	}
	return w.Flush()
}

func formatPrice(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
