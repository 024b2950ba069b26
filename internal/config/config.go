package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level numlease configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	Pricing   PricingConfig   `toml:"pricing"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Poller    PollerConfig    `toml:"poller"`
	Providers ProvidersConfig `toml:"providers"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ShutdownTimeout    int      `toml:"shutdown_timeout"` // seconds
}

// DatabaseConfig selects the order/ledger store backend. When URL is empty
// numlease runs on a local SQLite file instead of Postgres.
type DatabaseConfig struct {
	URL        string `toml:"url"`
	MaxConns   int    `toml:"max_conns"`
	MinConns   int    `toml:"min_conns"`
	SQLitePath string `toml:"sqlite_path"`
}

// AuthConfig verifies bearer tokens issued by the external auth service.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// PricingConfig carries the admin-owned pricing constants. They are read on
// every quote so an admin change takes effect without redeploying.
type PricingConfig struct {
	AddOnSurchargePercent int64 `toml:"addon_surcharge_percent"`
	NGNPerUSD             int64 `toml:"ngn_per_usd"`
}

// LifecycleConfig carries the order timing windows.
type LifecycleConfig struct {
	CancelHoldSecs int `toml:"cancel_hold_secs"`
	HardExpirySecs int `toml:"hard_expiry_secs"`
}

type PollerConfig struct {
	DeliveryIntervalSecs int `toml:"delivery_interval_secs"`
	ExpiryIntervalSecs   int `toml:"expiry_interval_secs"`
}

// ProviderConfig configures one upstream numbering provider.
type ProviderConfig struct {
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"` // empty = production API
	MarkupPercent int64  `toml:"markup_percent"`
}

type ProvidersConfig struct {
	DaisySMS ProviderConfig `toml:"daisysms"`
	SMSPool  ProviderConfig `toml:"smspool"`
	FiveSim  ProviderConfig `toml:"fivesim"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8070,
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    10,
		},
		Database: DatabaseConfig{
			MaxConns:   25,
			MinConns:   2,
			SQLitePath: "./numlease.db",
		},
		Pricing: PricingConfig{
			AddOnSurchargePercent: 35,
			NGNPerUSD:             1500,
		},
		Lifecycle: LifecycleConfig{
			CancelHoldSecs: 180,
			HardExpirySecs: 600,
		},
		Poller: PollerConfig{
			DeliveryIntervalSecs: 15,
			ExpiryIntervalSecs:   5,
		},
		Providers: ProvidersConfig{
			DaisySMS: ProviderConfig{MarkupPercent: 20},
			SMSPool:  ProviderConfig{MarkupPercent: 25},
			FiveSim:  ProviderConfig{MarkupPercent: 25},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with priority: defaults → numlease.toml → env vars
// → CLI flags. The flags parameter allows CLI flag overrides to be passed in.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = "numlease.toml"
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns < 0 {
		return fmt.Errorf("database.min_conns must be non-negative, got %d", c.Database.MinConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.URL == "" && c.Database.SQLitePath == "" {
		return fmt.Errorf("either database.url or database.sqlite_path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}
	if c.Pricing.AddOnSurchargePercent < 0 || c.Pricing.AddOnSurchargePercent > 100 {
		return fmt.Errorf("pricing.addon_surcharge_percent must be between 0 and 100, got %d", c.Pricing.AddOnSurchargePercent)
	}
	if c.Pricing.NGNPerUSD < 1 {
		return fmt.Errorf("pricing.ngn_per_usd must be positive, got %d", c.Pricing.NGNPerUSD)
	}
	if c.Lifecycle.CancelHoldSecs < 0 {
		return fmt.Errorf("lifecycle.cancel_hold_secs must be non-negative, got %d", c.Lifecycle.CancelHoldSecs)
	}
	if c.Lifecycle.HardExpirySecs <= c.Lifecycle.CancelHoldSecs {
		return fmt.Errorf("lifecycle.hard_expiry_secs (%d) must exceed lifecycle.cancel_hold_secs (%d)",
			c.Lifecycle.HardExpirySecs, c.Lifecycle.CancelHoldSecs)
	}
	if c.Poller.DeliveryIntervalSecs < 1 {
		return fmt.Errorf("poller.delivery_interval_secs must be at least 1, got %d", c.Poller.DeliveryIntervalSecs)
	}
	if c.Poller.ExpiryIntervalSecs < 1 {
		return fmt.Errorf("poller.expiry_interval_secs must be at least 1, got %d", c.Poller.ExpiryIntervalSecs)
	}
	for _, p := range []struct {
		name string
		cfg  ProviderConfig
	}{
		{"daisysms", c.Providers.DaisySMS},
		{"smspool", c.Providers.SMSPool},
		{"fivesim", c.Providers.FiveSim},
	} {
		if p.cfg.MarkupPercent < 0 {
			return fmt.Errorf("providers.%s.markup_percent must be non-negative, got %d", p.name, p.cfg.MarkupPercent)
		}
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return nil
}

// Address returns the host:port the HTTP server binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CancelHold returns the wait before a voluntary cancel is allowed.
func (c *Config) CancelHold() time.Duration {
	return time.Duration(c.Lifecycle.CancelHoldSecs) * time.Second
}

// HardExpiry returns the absolute order lifetime ceiling.
func (c *Config) HardExpiry() time.Duration {
	return time.Duration(c.Lifecycle.HardExpirySecs) * time.Second
}

// applyEnv overlays NUMLEASE_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	num64 := func(key string, dst *int64) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("NUMLEASE_SERVER_HOST", &cfg.Server.Host)
	if err := num("NUMLEASE_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("NUMLEASE_CORS_ALLOWED_ORIGINS"); ok {
		cfg.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}
	str("NUMLEASE_DATABASE_URL", &cfg.Database.URL)
	str("NUMLEASE_SQLITE_PATH", &cfg.Database.SQLitePath)
	str("NUMLEASE_JWT_SECRET", &cfg.Auth.JWTSecret)
	if err := num64("NUMLEASE_ADDON_SURCHARGE_PERCENT", &cfg.Pricing.AddOnSurchargePercent); err != nil {
		return err
	}
	if err := num64("NUMLEASE_NGN_PER_USD", &cfg.Pricing.NGNPerUSD); err != nil {
		return err
	}
	if err := num("NUMLEASE_CANCEL_HOLD_SECS", &cfg.Lifecycle.CancelHoldSecs); err != nil {
		return err
	}
	if err := num("NUMLEASE_HARD_EXPIRY_SECS", &cfg.Lifecycle.HardExpirySecs); err != nil {
		return err
	}
	str("NUMLEASE_DAISYSMS_API_KEY", &cfg.Providers.DaisySMS.APIKey)
	str("NUMLEASE_SMSPOOL_API_KEY", &cfg.Providers.SMSPool.APIKey)
	str("NUMLEASE_FIVESIM_API_KEY", &cfg.Providers.FiveSim.APIKey)
	str("NUMLEASE_LOG_LEVEL", &cfg.Logging.Level)
	str("NUMLEASE_LOG_FORMAT", &cfg.Logging.Format)
	return nil
}

// applyFlags overlays CLI flag overrides onto cfg. Only flags the start
// command actually exposes are recognized here.
func applyFlags(cfg *Config, flags map[string]string) {
	if flags == nil {
		return
	}
	if v, ok := flags["host"]; ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := flags["port"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v, ok := flags["database-url"]; ok && v != "" {
		cfg.Database.URL = v
	}
}
