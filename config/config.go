// Package config loads rakh-shop settings from defaults, an optional YAML
// file and RAKH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RAKH_CLIENT_BASE_URL.
const EnvPrefix = "RAKH"

// Config holds all application configuration.
type Config struct {
	Client   ClientConfig   `mapstructure:"client"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ClientConfig configures the storefront client commands.
type ClientConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DataDir    string        `mapstructure:"data_dir"` // bbolt database directory
	CatalogTTL time.Duration `mapstructure:"catalog_ttl"`
	CartTTL    time.Duration `mapstructure:"cart_ttl"`
}

// ServerConfig configures the storefront API.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second per client IP
	RateBurst    int           `mapstructure:"rate_burst"`
	RetryAfter   time.Duration `mapstructure:"retry_after"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	PageSize     int           `mapstructure:"page_size"`
	SeedFile     string        `mapstructure:"seed_file"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// DatabaseConfig selects PostgreSQL. An empty DSN keeps data in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the response cache and token store. An empty Addr
// disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type LoggingConfig struct {
	File  string `mapstructure:"file"` // empty logs to stderr
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.base_url", "http://localhost:8080/api")
	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.data_dir", defaultDataDir())
	v.SetDefault("client.catalog_ttl", time.Hour)
	v.SetDefault("client.cart_ttl", time.Hour)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.retry_after", time.Duration(0))
	v.SetDefault("server.cache_ttl", 5*time.Minute)
	v.SetDefault("server.page_size", 20)
	v.SetDefault("server.seed_file", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 8)

	v.SetDefault("logging.file", "")
	v.SetDefault("logging.level", "INFO")
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml is looked up in the user config directory and the working
// directory, and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.Client.DataDir = expandHome(cfg.Client.DataDir)
	cfg.Logging.File = expandHome(cfg.Logging.File)
	return cfg, nil
}

// ValidateClient checks the settings the client commands need.
func (c *Config) ValidateClient() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: client.base_url %q is not an absolute URL", c.Client.BaseURL)
	}
	if c.Client.DataDir == "" {
		return errors.New("config: client.data_dir is required")
	}
	if c.Client.Timeout <= 0 {
		return errors.New("config: client.timeout must be positive")
	}
	return nil
}

// ValidateServer checks the settings the API server and token command need.
func (c *Config) ValidateServer() error {
	if len(c.Auth.Secret) < auth.MinSecretLength {
		return fmt.Errorf("config: auth.secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("config: server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		return errors.New("config: server.rate_burst must be positive when rate limiting")
	}
	return nil
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "rakh-shop")
	}
	return "."
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "rakh-shop")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "rakh-shop")
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
