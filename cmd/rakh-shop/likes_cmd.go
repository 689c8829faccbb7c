package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLikesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "likes",
		Short:   "Show and change liked products",
		GroupID: GroupClient,
		Long: `Show and change liked products.

Changes apply locally at once. When signed in they are also sent to the API
and undone if the API rejects them.`,
	}
	cmd.AddCommand(newLikesListCmd(), newLikesToggleCmd())
	return cmd
}

func newLikesListCmd() *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List liked products",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				if sync {
					if err := sf.sync(ctx, sf.likes.Sync); err != nil {
						return err
					}
				}
				items := sf.likes.Items()
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No liked products")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PRODUCT\tLIKED AT\tSTATE")
				for _, it := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\n", it.ProductID, it.LikedAt.Local().Format(time.DateTime), sf.likes.State(it.ProductID))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "Refresh from the API first")
	return cmd
}

func newLikesToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <product-id>",
		Short: "Like a product, or unlike it if already liked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				liked, err := sf.likes.Toggle(ctx, args[0])
				if err != nil {
					return err
				}
				if liked {
					fmt.Fprintln(cmd.OutOrStdout(), "Liked", args[0])
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Unliked", args[0])
				}
				return nil
			})
		},
	}
}
