// Package config loads the reference binary's configuration: a base
// YAML file overlaid with environment-variable overrides, in the
// deterministic layered style this repository uses for service config
// elsewhere (base file, then env vars win, merge order fixed).
//
// The transaction manager core itself recognizes exactly one option,
// ResendFetchSize — the paging batch size for bulk resend. Every other
// field here (store wiring, listen address, peer publish mode) belongs
// to the hosting binary and is passed through untouched by the core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreConfig wires internal/store to a concrete database/sql driver.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite3"
	DSN    string `yaml:"dsn"`
}

// PartyInfoConfig selects which concrete PartyInfo adapter the hosting
// binary constructs.
type PartyInfoConfig struct {
	Mode string            `yaml:"mode"` // "http" or "websocket"
	Addr map[string]string `yaml:"addresses"`
}

// Config is the full set of knobs the reference binary needs.
type Config struct {
	ResendFetchSize int    `yaml:"resendFetchSize"`
	ListenAddr      string `yaml:"listenAddr"`

	Store     StoreConfig     `yaml:"store"`
	PartyInfo PartyInfoConfig `yaml:"partyInfo"`
}

// DefaultConfig mirrors the defaults a fresh deployment should get if a
// field is omitted from the base file.
func DefaultConfig() Config {
	return Config{
		ResendFetchSize: 100,
		ListenAddr:      ":8080",
		Store:           StoreConfig{Driver: "sqlite3", DSN: "file::memory:?cache=shared"},
		PartyInfo:       PartyInfoConfig{Mode: "http"},
	}
}

// Load reads a base YAML file (if path is non-empty and exists) over
// DefaultConfig, then applies TXMANAGER_-prefixed environment variable
// overrides. EnvPrefix and the delimiter are fixed since this binary's
// configuration surface is small and does not need the full layered
// multi-tenant scheme.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

const envPrefix = "TXMANAGER_"

// applyEnvOverrides mutates cfg in place from TXMANAGER_-prefixed
// environment variables. Only the handful of fields operators actually
// need to override at deploy time are recognized; anything else in the
// YAML file must be edited directly.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("RESEND_FETCH_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ResendFetchSize = n
		}
	}
	if v, ok := lookupEnv("LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := lookupEnv("STORE_DRIVER"); ok && v != "" {
		cfg.Store.Driver = v
	}
	if v, ok := lookupEnv("STORE_DSN"); ok && v != "" {
		cfg.Store.DSN = v
	}
	if v, ok := lookupEnv("PARTYINFO_MODE"); ok && v != "" {
		cfg.PartyInfo.Mode = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	return strings.TrimSpace(v), ok
}

// Validate checks the fields the core and the hosting binary both
// depend on being sane before wiring starts.
func (c Config) Validate() error {
	if c.ResendFetchSize < 1 {
		return fmt.Errorf("config: resendFetchSize must be >= 1, got %d", c.ResendFetchSize)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	switch c.PartyInfo.Mode {
	case "http", "websocket":
	default:
		return fmt.Errorf("config: unsupported partyInfo mode %q", c.PartyInfo.Mode)
	}
	return nil
}
