// Package config loads runtime configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Port the local bridge listens on. The app shell connects here.
	Port string `env:"LADLE_PORT" envDefault:"8090"`
	// DBPath is the device sqlite database.
	DBPath string `env:"LADLE_DB_PATH"`
	// DocsURL is the hosted document service. Empty selects the in-memory
	// store (offline/dev mode; account data does not survive a restart).
	DocsURL string `env:"LADLE_DOCS_URL"`
	// SealPassphrase, when set, encrypts anonymous data at rest.
	SealPassphrase string `env:"LADLE_SEAL_PASSPHRASE"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LADLE_LOG_LEVEL" envDefault:"info"`
	// LogFormat is "text" or "json".
	LogFormat string `env:"LADLE_LOG_FORMAT" envDefault:"text"`
}

// Load reads the environment (and .env, if present) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg.DBPath = "ladle.db"
		} else {
			cfg.DBPath = filepath.Join(home, ".ladle", "ladle.db")
		}
	}
	return cfg, nil
}
