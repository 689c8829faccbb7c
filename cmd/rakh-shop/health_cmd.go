package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adeilh/rakh-shop/httpx"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Short:   "Check that the storefront API is reachable",
		GroupID: GroupClient,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			client := httpx.NewClient(
				httpx.WithBaseURL(cfg.Client.BaseURL),
				httpx.WithClientTimeout(cfg.Client.Timeout),
				httpx.WithUserAgent("rakh-shop/"+version),
			)
			status, err := checkHealth(cmd.Context(), client)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", client.BaseURL(), status)
			return nil
		},
	}
}

// checkHealth calls GET /healthz and returns the reported status.
func checkHealth(ctx context.Context, client *httpx.Client) (string, error) {
	var body struct {
		Status string `json:"status"`
	}
	if _, err := client.Do(ctx, http.MethodGet, "/healthz", nil, &body); err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("storefront unhealthy: %w", err)
		}
		return "", fmt.Errorf("storefront unreachable: %w", err)
	}
	if body.Status == "" {
		return "", errors.New("storefront health response has no status")
	}
	return body.Status, nil
}
