package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numlease/numlease/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "0.0.0.0:8070", cfg.Address())
	assert.Equal(t, int64(35), cfg.Pricing.AddOnSurchargePercent)
	assert.Equal(t, int64(1500), cfg.Pricing.NGNPerUSD)
	assert.Equal(t, 180*time.Second, cfg.CancelHold())
	assert.Equal(t, 600*time.Second, cfg.HardExpiry())
	assert.Equal(t, "./numlease.db", cfg.Database.SQLitePath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "numlease.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
host = "127.0.0.1"
port = 9000

[pricing]
ngn_per_usd = 1600

[lifecycle]
cancel_hold_secs = 120
hard_expiry_secs = 900

[providers.daisysms]
api_key = "dk"
markup_percent = 30
`), 0o644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.Equal(t, int64(1600), cfg.Pricing.NGNPerUSD)
	assert.Equal(t, 120*time.Second, cfg.CancelHold())
	assert.Equal(t, 900*time.Second, cfg.HardExpiry())
	assert.Equal(t, "dk", cfg.Providers.DaisySMS.APIKey)
	assert.Equal(t, int64(30), cfg.Providers.DaisySMS.MarkupPercent)
	// Untouched sections keep their defaults.
	assert.Equal(t, int64(35), cfg.Pricing.AddOnSurchargePercent)
	assert.Equal(t, int64(25), cfg.Providers.SMSPool.MarkupPercent)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 8070, cfg.Server.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "numlease.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n"), 0o644))

	t.Setenv("NUMLEASE_SERVER_PORT", "9100")
	t.Setenv("NUMLEASE_NGN_PER_USD", "1700")
	t.Setenv("NUMLEASE_DAISYSMS_API_KEY", "from-env")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, int64(1700), cfg.Pricing.NGNPerUSD)
	assert.Equal(t, "from-env", cfg.Providers.DaisySMS.APIKey)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NUMLEASE_SERVER_PORT", "9100")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), map[string]string{
		"port": "9200",
		"host": "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:9200", cfg.Address())
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("NUMLEASE_SERVER_PORT", "not-a-number")
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NUMLEASE_SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"bad port", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"no store", func(c *config.Config) { c.Database.SQLitePath = "" }, "database.url or database.sqlite_path"},
		{"short secret", func(c *config.Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"surcharge range", func(c *config.Config) { c.Pricing.AddOnSurchargePercent = 120 }, "addon_surcharge_percent"},
		{"zero fx rate", func(c *config.Config) { c.Pricing.NGNPerUSD = 0 }, "ngn_per_usd"},
		{"expiry before hold", func(c *config.Config) { c.Lifecycle.HardExpirySecs = 100 }, "hard_expiry_secs"},
		{"negative markup", func(c *config.Config) { c.Providers.FiveSim.MarkupPercent = -1 }, "providers.fivesim"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
