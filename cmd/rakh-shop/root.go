package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adeilh/rakh-shop/config"
	"github.com/adeilh/rakh-shop/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Shared state loaded before every command
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

const (
	GroupServer = "server"
	GroupClient = "client"
)

var rootCmd = &cobra.Command{
	Use:   "rakh-shop",
	Short: "Storefront API server and resilient storefront client",
	Long: `rakh-shop runs the storefront API and a command line storefront client.

The client keeps liked items and the cart in a local bbolt database,
applies changes optimistically and reconciles them with the API when a
bearer token is stored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "DEBUG"
		}
		l, closer, err := logging.Setup(loaded.Logging.File, loaded.Logging.Level)
		if err != nil {
			return err
		}
		cfg, logger, logCloser = loaded, l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rakh-shop:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config.yaml in the user config dir or working dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServer, Title: "Server Commands:"},
		&cobra.Group{ID: GroupClient, Title: "Client Commands:"},
	)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newLikesCmd())
	rootCmd.AddCommand(newCartCmd())
	rootCmd.AddCommand(newHealthCmd())
}
