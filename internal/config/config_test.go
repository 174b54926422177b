package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4000", cfg.ServerURL)
	assert.Equal(t, "ws://localhost:4000/ws", cfg.ChannelURL, "channel url derives from the server url")
	assert.Equal(t, 100, cfg.HistoryCap)
	assert.Equal(t, StrategyPushPrimary, cfg.Payment.Strategy)
	assert.Equal(t, 3*time.Second, cfg.Payment.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.KeepAliveInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TICTAC_SERVER_URL", "https://play.example")
	t.Setenv("TICTAC_HISTORY_CAP", "25")
	t.Setenv("TICTAC_PAYMENT_STRATEGY", StrategyPollingPrimary)
	t.Setenv("TICTAC_PAYMENT_POLL_INTERVAL", "1s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://play.example", cfg.ServerURL)
	assert.Equal(t, "wss://play.example/ws", cfg.ChannelURL)
	assert.Equal(t, 25, cfg.HistoryCap)
	assert.Equal(t, StrategyPollingPrimary, cfg.Payment.Strategy)
	assert.Equal(t, time.Second, cfg.Payment.PollInterval)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server_url: http://game.local:4000\nhistory_cap: 10\n"), 0o644))
	t.Setenv("TICTAC_HISTORY_CAP", "40")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://game.local:4000", cfg.ServerURL)
	assert.Equal(t, 40, cfg.HistoryCap, "env wins over the file")
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("TICTAC_PAYMENT_STRATEGY", "fastest")
	_, err := Load("")
	require.Error(t, err)
}
