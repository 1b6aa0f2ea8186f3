package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/dgellow/docsite/internal/log"
	"github.com/joho/godotenv"
)

// Load parses the configuration and validates it
func Load(envFile string) (Config, error) {
	cfg, err := Parse(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Parse reads an optional dotenv file, then parses the environment into Config
// without validating it. Variables already present in the environment take
// precedence over the file.
func Parse(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
			}
			log.LogDebug("No env file at %s, using process environment only", envFile)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills values that depend on other settings
func applyDefaults(cfg *Config) {
	if cfg.Identity.RedirectURI == "" {
		cfg.Identity.RedirectURI = fmt.Sprintf("http://localhost:%d/auth/redirect", cfg.Port)
	}
}
