package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.Server.OrderRateLimit)
	assert.Equal(t, 10, cfg.Server.OrderRateBurst)

	assert.Equal(t, "wss://ws.finnhub.io", cfg.Feed.URL)
	assert.Equal(t, "token", cfg.Feed.AuthType)
	assert.Equal(t, 2*time.Second, cfg.Feed.ReconnectBaseDelay())
	assert.Equal(t, 5, cfg.Feed.MaxReconnects)
	assert.Equal(t, 1500*time.Millisecond, cfg.Feed.SimInterval())

	assert.Equal(t, 100000.0, cfg.Portfolio.StartingCash)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.GCP.UseSecrets)
	assert.Equal(t, "fxdesk-feed-token", cfg.GCP.SecretNames.FeedToken)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
  order_rate_limit: 2.5
feed:
  url: wss://feed.example.test
  max_reconnects: 3
  reconnect_base_delay_ms: 500
portfolio:
  starting_cash: 250000
logging:
  level: debug
  format: text
instruments:
  - symbol: EURUSD
    feed_symbol: "OANDA:EUR_USD"
    seed_price: 1.1
    volatility: 0.0004
    precision: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Server.OrderRateLimit)
	assert.Equal(t, "wss://feed.example.test", cfg.Feed.URL)
	assert.Equal(t, 3, cfg.Feed.MaxReconnects)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.ReconnectBaseDelay())
	assert.Equal(t, 250000.0, cfg.Portfolio.StartingCash)
	assert.Equal(t, "debug", cfg.Logging.Level)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD"}, reg.Symbols())
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FXDESK_FEED_TOKEN", "env-token")
	t.Setenv("FXDESK_FEED_AUTH_TYPE", "jwt")
	t.Setenv("FXDESK_FEED_API_KEY_NAME", "env-key")
	t.Setenv("GCP_PROJECT_ID", "env-project")

	cfg, err := Load(writeConfigFile(t, "feed:\n  token: file-token\n"))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Feed.Token, "environment wins over the file")
	assert.Equal(t, "jwt", cfg.Feed.AuthType)
	assert.Equal(t, "env-key", cfg.Feed.APIKeyName)
	assert.Equal(t, "env-project", cfg.GCP.ProjectID)
}

func TestRegistryFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}\n"))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "GBPUSD", "USDJPY"}, reg.Symbols())
}

func TestRegistryRejectsBadInstrument(t *testing.T) {
	cfg := &Config{Instruments: []InstrumentConfig{{Symbol: "EURUSD"}}}
	_, err := cfg.Registry()
	assert.Error(t, err)
}
