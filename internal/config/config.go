package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"BWC_DB_PATH" default:"./data/bitwallet.sqlite"`
	Port     int    `envconfig:"BWC_PORT" default:"3232"`
	BasePath string `envconfig:"BWC_BASE_PATH" default:"/bws/api"`
	LogLevel string `envconfig:"BWC_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"BWC_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"BWC_NETWORK" default:"testnet"`

	ExplorerLivenetURLs []string `envconfig:"BWC_EXPLORER_LIVENET_URLS"`
	ExplorerTestnetURLs []string `envconfig:"BWC_EXPLORER_TESTNET_URLS"`
	ExplorerSocketURL   string   `envconfig:"BWC_EXPLORER_SOCKET_URL"`

	PushServerURL string `envconfig:"BWC_PUSH_SERVER_URL"`
	TemplatesDir  string `envconfig:"BWC_TEMPLATES_DIR" default:"./templates"`

	LockTimeoutSeconds int `envconfig:"BWC_LOCK_TIMEOUT_SECONDS" default:"10"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// Load .env file if it exists. godotenv does NOT override already-set env vars,
	// so real environment variables take precedence over .env values.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" && c.Network != "livenet" {
		return fmt.Errorf("%w: network must be \"livenet\" (or \"mainnet\") or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// NetworkName normalizes the configured network to the livenet/testnet
// vocabulary used throughout the service ("mainnet" is accepted as a
// synonym for "livenet" since it is the more familiar operator-facing
// spelling).
func (c *Config) NetworkName() string {
	if c.Network == "mainnet" {
		return "livenet"
	}
	return c.Network
}
