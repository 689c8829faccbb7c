package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/adeilh/rakh-shop/cache"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue, revoke or forget shopper tokens",
		GroupID: GroupServer,
	}
	cmd.AddCommand(newTokenIssueCmd(), newTokenRevokeCmd(), newTokenClearCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "issue <customer-id>",
		Short: "Mint a bearer token for a customer",
		Long: `Mint a bearer token for a customer using auth.secret.

When redis.addr is set the token is recorded there, so a server sharing the
same Redis accepts it and can later have it revoked. With --save the token is
stored in the local data directory and used by the client commands.`,
		Args: cobra.ExactArgs(1),
		Example: `  rakh-shop token issue cust-42
  rakh-shop token issue cust-42 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var store cache.Store
			if rs := openRedis(cfg); rs != nil {
				defer rs.Close()
				store = rs
			}
			tokens, err := newShopperTokens(cfg, store)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token.Raw())
			fmt.Fprintf(cmd.ErrOrStderr(), "id %s, expires %s\n", token.Claims().ID, token.ExpiresAt().Format(time.RFC3339))

			if !save {
				return nil
			}
			return withStorefront(ctx, func(sf *storefront) error {
				if err := sf.creds.Set(ctx, token.Raw()); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Signed in as", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Store the token for the client commands")
	return cmd
}

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id|token>",
		Short: "Revoke a token recorded in Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := openRedis(cfg)
			if store == nil {
				return errors.New("token revocation requires redis.addr")
			}
			defer store.Close()
			tokens, err := newShopperTokens(cfg, store)
			if err != nil {
				return err
			}

			id := args[0]
			if strings.Count(id, ".") == 2 {
				token, err := tokens.ParseToken(ctx, id)
				if err != nil {
					if errors.Is(err, auth.ErrJWTRevoked) {
						fmt.Fprintln(cmd.OutOrStdout(), "Token already revoked")
						return nil
					}
					return err
				}
				id = token.Claims().ID
			}
			if err := tokens.Revoke(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Revoked", id)
			return nil
		},
	}
}

func newTokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Aliases: []string{"sign-out"},
		Short:   "Forget the locally stored token",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorefront(ctx, func(sf *storefront) error {
				if err := sf.creds.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}
