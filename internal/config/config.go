package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Payment strategies. Both gate the session transition on the push event;
// polling-primary only polls more aggressively for faster perceived feedback.
const (
	StrategyPushPrimary    = "push-primary"
	StrategyPollingPrimary = "polling-primary"
)

// Config is the client configuration: a yaml file overridden by environment
// variables. A missing file is not an error; defaults plus env apply.
type Config struct {
	// ServerURL is the collaborator's HTTP base URL, e.g. http://localhost:4000.
	ServerURL string `yaml:"server_url"`
	// ChannelURL is the websocket endpoint. Empty derives ws(s)://<server>/ws.
	ChannelURL string `yaml:"channel_url"`

	AuthToken        string `yaml:"auth_token"`
	LightningAddress string `yaml:"lightning_address"`

	DBPath string `yaml:"db_path"`
	// HistoryCap bounds the local game ledger.
	HistoryCap int `yaml:"history_cap"`

	Payment PaymentConfig `yaml:"payment"`

	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

// PaymentConfig tunes the payment flow controller.
type PaymentConfig struct {
	Strategy     string        `yaml:"strategy"`
	Expiry       time.Duration `yaml:"expiry"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollCeiling  time.Duration `yaml:"poll_ceiling"`
}

func defaults() Config {
	return Config{
		ServerURL:  "http://localhost:4000",
		DBPath:     "tictac.db",
		HistoryCap: 100,
		Payment: PaymentConfig{
			Strategy:     StrategyPushPrimary,
			Expiry:       300 * time.Second,
			PollInterval: 3 * time.Second,
			PollCeiling:  10 * time.Minute,
		},
		KeepAliveInterval: 5 * time.Minute,
	}
}

// Load reads path (if it exists), then applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.ServerURL = getEnv("TICTAC_SERVER_URL", cfg.ServerURL)
	cfg.ChannelURL = getEnv("TICTAC_CHANNEL_URL", cfg.ChannelURL)
	cfg.AuthToken = getEnv("TICTAC_AUTH_TOKEN", cfg.AuthToken)
	cfg.LightningAddress = getEnv("TICTAC_LIGHTNING_ADDRESS", cfg.LightningAddress)
	cfg.DBPath = getEnv("TICTAC_DB_PATH", cfg.DBPath)
	cfg.HistoryCap = getEnvAsInt("TICTAC_HISTORY_CAP", cfg.HistoryCap)
	cfg.Payment.Strategy = getEnv("TICTAC_PAYMENT_STRATEGY", cfg.Payment.Strategy)
	cfg.Payment.PollInterval = getEnvAsDuration("TICTAC_PAYMENT_POLL_INTERVAL", cfg.Payment.PollInterval)
	cfg.Payment.Expiry = getEnvAsDuration("TICTAC_PAYMENT_EXPIRY", cfg.Payment.Expiry)

	if cfg.ChannelURL == "" {
		cfg.ChannelURL = deriveChannelURL(cfg.ServerURL)
	}

	if cfg.Payment.Strategy != StrategyPushPrimary && cfg.Payment.Strategy != StrategyPollingPrimary {
		return Config{}, fmt.Errorf("unknown payment strategy %q", cfg.Payment.Strategy)
	}
	return cfg, nil
}

func deriveChannelURL(serverURL string) string {
	switch {
	case len(serverURL) > 8 && serverURL[:8] == "https://":
		return "wss://" + serverURL[8:] + "/ws"
	case len(serverURL) > 7 && serverURL[:7] == "http://":
		return "ws://" + serverURL[7:] + "/ws"
	default:
		return serverURL + "/ws"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
