package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/adeilh/rakh-shop/cache"
	"github.com/adeilh/rakh-shop/cache/expiring"
	"github.com/adeilh/rakh-shop/cache/redis"
	"github.com/adeilh/rakh-shop/config"
	"github.com/adeilh/rakh-shop/db/sql/postgres"
	"github.com/adeilh/rakh-shop/httpx"
	"github.com/adeilh/rakh-shop/shop"
	"github.com/adeilh/rakh-shop/shop/api"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the storefront API",
		GroupID: GroupServer,
		Long: `Run the storefront API.

Data lives in PostgreSQL when database.dsn is set and in memory otherwise.
When redis.addr is set, catalog responses are cached in Redis and issued
tokens are tracked there so they can be revoked.`,
		Example: `  rakh-shop serve
  rakh-shop serve --seed catalog.json
  RAKH_DATABASE_DSN=postgres://... rakh-shop serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			if seedFile == "" {
				seedFile = cfg.Server.SeedFile
			}
			return runServer(cmd.Context(), cfg, seedFile)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "JSON file with categories and products to load at start")
	return cmd
}

type repositories struct {
	catalog api.CatalogRepository
	writer  api.CatalogWriter
	likes   api.LikeRepository
	carts   api.CartRepository
	close   func() error
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Database.DSN == "" {
		logger.Info("using in-memory repositories")
		mem := api.NewMemoryStore()
		return &repositories{catalog: mem, writer: mem, likes: mem, carts: mem, close: func() error { return nil }}, nil
	}

	db, err := postgres.Connect(ctx,
		postgres.WithDSN(cfg.Database.DSN),
		postgres.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		postgres.WithMaxIdleConns(cfg.Database.MaxIdleConns),
		postgres.WithConnMaxLifetime(cfg.Database.ConnMaxLifetime),
		postgres.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	catalog := postgres.NewCatalogRepository(db)
	return &repositories{
		catalog: catalog,
		writer:  catalog,
		likes:   postgres.NewLikeRepository(db),
		carts:   postgres.NewCartRepository(db),
		close:   db.Close,
	}, nil
}

// openRedis returns nil when Redis is not configured.
func openRedis(cfg *config.Config) *redis.Store {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewStore(cfg.Redis.Addr,
		redis.WithPassword(cfg.Redis.Password),
		redis.WithDB(cfg.Redis.DB),
		redis.WithPoolSize(cfg.Redis.PoolSize),
	)
}

// newShopperTokens builds the token service. Issued tokens are tracked in
// store when it is non-nil, which makes revocation visible to every server.
func newShopperTokens(cfg *config.Config, store cache.Store) (*auth.ShopperTokens, error) {
	opts := []auth.ProviderOption{
		auth.WithStrictSecret(),
		auth.WithRequiredIssuer(auth.ShopperIssuer),
		auth.WithRequiredAudience(auth.ShopperAudience),
	}
	if store != nil {
		opts = append(opts, auth.WithTokenStore(store, "rakh:jwt"))
	}
	provider, err := auth.NewHMACJWTProvider([]byte(cfg.Auth.Secret), opts...)
	if err != nil {
		return nil, err
	}
	return auth.NewShopperTokens(provider, cfg.Auth.TokenTTL)
}

type seedData struct {
	Categories []shop.Category `json:"categories"`
	Products   []shop.Product  `json:"products"`
}

func seedCatalog(ctx context.Context, w api.CatalogWriter, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var data seedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	if err := api.Seed(ctx, w, data.Categories, data.Products); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info("catalog seeded", "categories", len(data.Categories), "products", len(data.Products))
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, seedFile string) error {
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	if seedFile != "" {
		if err := seedCatalog(ctx, repos.writer, seedFile); err != nil {
			return err
		}
	}

	handlerOpts := []api.Option{
		api.WithLogger(logger),
		api.WithPageSize(cfg.Server.PageSize),
	}
	var tokenStore cache.Store
	if rs := openRedis(cfg); rs != nil {
		defer rs.Close()
		tokenStore = rs
		responses := expiring.New(rs, expiring.WithNamespace("rakh:api"), expiring.WithLogger(logger))
		handlerOpts = append(handlerOpts, api.WithResponseCache(responses, cfg.Server.CacheTTL))
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	tokens, err := newShopperTokens(cfg, tokenStore)
	if err != nil {
		return err
	}
	h, err := api.NewHandler(repos.catalog, repos.likes, repos.carts, handlerOpts...)
	if err != nil {
		return err
	}

	cors := httpx.DefaultCORSConfig
	serverOpts := []httpx.ServerOption{
		httpx.WithAddress(cfg.Server.Address),
		httpx.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		httpx.WithLogger(logger),
		httpx.WithCORS(&cors),
	}
	if cfg.Server.RateLimit > 0 {
		serverOpts = append(serverOpts, httpx.WithRateLimit(httpx.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit,
			Burst:             cfg.Server.RateBurst,
			RetryAfter:        cfg.Server.RetryAfter,
		}))
	}
	srv, err := api.NewServer(h, tokens, serverOpts...)
	if err != nil {
		return err
	}

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
