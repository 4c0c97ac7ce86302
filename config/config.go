// Package config loads the host server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paymesh/pluginhost/pkg/tlsutil"
)

// LicenseConfig configures the license validator.
type LicenseConfig struct {
	// ServerURL is the license server base URL; empty disables online checks.
	ServerURL string `yaml:"serverUrl"`
	// PublicKeyPath is the PEM file holding the Ed25519 license public key.
	PublicKeyPath string `yaml:"publicKeyPath"`
	// Domain identifies this installation to the license server.
	Domain string `yaml:"domain"`
	// OnlineTimeout bounds the license server call.
	OnlineTimeout time.Duration `yaml:"onlineTimeout"`
	// DemoLimits overrides per-plugin demo usage ceilings.
	DemoLimits map[string]int64 `yaml:"demoLimits"`
	// DemoFeatures is the feature allow-list for keyless demo grants.
	DemoFeatures []string `yaml:"demoFeatures"`
}

// RedisConfig configures the shared usage counter backend. An empty Addr
// falls back to process-local counters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig is the top-level host configuration.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// DatabasePath is the SQLite file for instance records; empty uses an
	// in-memory store (state lost on restart).
	DatabasePath string `yaml:"databasePath"`
	// HookTimeout bounds each plugin lifecycle hook invocation.
	HookTimeout time.Duration  `yaml:"hookTimeout"`
	TLS         tlsutil.Config `yaml:"tls"`
	License     LicenseConfig  `yaml:"license"`
	Redis       RedisConfig    `yaml:"redis"`
}

// Default returns the configuration used when no file is supplied.
func Default() *ServerConfig {
	return &ServerConfig{
		Listen:       ":8080",
		DatabasePath: "data/plugins.db",
		HookTimeout:  30 * time.Second,
	}
}

// LoadFromFile reads and parses a YAML configuration file, applying defaults
// for unset fields.
func LoadFromFile(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = 30 * time.Second
	}
	return cfg, nil
}
