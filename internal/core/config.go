package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds environment-driven settings. Flags override these at the CLI
// layer; everything here has a usable default.
type Config struct {
	DBPath        string `env:"QUAKEWATCH_DB"`
	Timezone      string `env:"QUAKEWATCH_TZ"`
	USGSBaseURL   string `env:"QUAKEWATCH_USGS_URL"`
	TremorBaseURL string `env:"QUAKEWATCH_TREMOR_URL"`
	SeedChunkDays int    `env:"QUAKEWATCH_SEED_CHUNK_DAYS" envDefault:"30"`
	SeedDelayMs   int    `env:"QUAKEWATCH_SEED_DELAY_MS" envDefault:"2000"`
}

// LoadConfig parses the environment and fills in defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTZ
	}
	if cfg.USGSBaseURL == "" {
		cfg.USGSBaseURL = USGSBaseURL
	}
	if cfg.TremorBaseURL == "" {
		cfg.TremorBaseURL = TremorBaseURL
	}
	return cfg, nil
}

// DefaultDBPath returns the default cache database location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".quakewatch", "cache.db")
}
