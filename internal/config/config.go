// Package config resolves controller settings from the environment and maps
// the plant directory layout every command shares.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/fatb4f/neuroctrl/internal/ledger"
)

// Config holds the environment-tunable settings. Everything else the
// controller needs lives in the plant directory itself (catalog, schedule,
// registry, session records).
type Config struct {
	PlantDir       string        `env:"NEUROCTRL_PLANT_DIR"        envDefault:".neuroctrl"`
	LockTimeout    time.Duration `env:"NEUROCTRL_LOCK_TIMEOUT"     envDefault:"5s"`
	LockStaleAfter time.Duration `env:"NEUROCTRL_LOCK_STALE_AFTER" envDefault:"10m"`
}

// ConfigError is a fatal configuration problem. The process aborts rather
// than run under a policy it cannot trust.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, &ConfigError{Source: "environment", Err: err}
	}
	return c, nil
}

// #region layout

// CatalogPath is the policy catalog override; the built-in catalog applies
// when the file is absent.
func (c Config) CatalogPath() string { return filepath.Join(c.PlantDir, "catalog.yaml") }

// SchedulePath is the weekly window template; an absent file means no
// context windows.
func (c Config) SchedulePath() string { return filepath.Join(c.PlantDir, "schedule.yaml") }

// RegistryPath is the SQLite working registry.
func (c Config) RegistryPath() string { return filepath.Join(c.PlantDir, "registry.db") }

// SessionsDir holds one subdirectory per session.
func (c Config) SessionsDir() string { return filepath.Join(c.PlantDir, "sessions") }

// SessionDir is the record directory for one session: snapshot, ledger,
// block contracts, end pointers, probe records.
func (c Config) SessionDir(sessionID string) string {
	return filepath.Join(c.SessionsDir(), sessionID)
}

// OTestDir holds the per-batch probe records for one session.
func (c Config) OTestDir(sessionID string) string {
	return filepath.Join(c.SessionDir(sessionID), "otests")
}

// CheckpointDir receives the checkpoint bundle for one session.
func (c Config) CheckpointDir(sessionID string) string {
	return filepath.Join(c.SessionDir(sessionID), "out")
}

// LedgerConfig folds the tunable lock knobs into the journal defaults.
func (c Config) LedgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.LockTimeout = c.LockTimeout
	cfg.StaleAfter = c.LockStaleAfter
	return cfg
}

// #endregion layout
