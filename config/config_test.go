package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Fatalf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.DatabasePath == "" {
		t.Fatal("DatabasePath empty by default")
	}
	if cfg.HookTimeout <= 0 {
		t.Fatalf("HookTimeout = %v, want positive", cfg.HookTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
listen: ":9090"
databasePath: /var/lib/pluginhost/plugins.db
hookTimeout: 10s
license:
  serverUrl: https://license.example.com
  domain: host.example.com
  onlineTimeout: 2s
  demoLimits:
    mockpay: 25
  demoFeatures:
    - payments
    - refunds
redis:
  addr: localhost:6379
  db: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.HookTimeout != 10*time.Second {
		t.Fatalf("HookTimeout = %v, want 10s", cfg.HookTimeout)
	}
	if cfg.License.ServerURL != "https://license.example.com" {
		t.Fatalf("License.ServerURL = %q", cfg.License.ServerURL)
	}
	if cfg.License.OnlineTimeout != 2*time.Second {
		t.Fatalf("License.OnlineTimeout = %v, want 2s", cfg.License.OnlineTimeout)
	}
	if cfg.License.DemoLimits["mockpay"] != 25 {
		t.Fatalf("DemoLimits = %v", cfg.License.DemoLimits)
	}
	if len(cfg.License.DemoFeatures) != 2 {
		t.Fatalf("DemoFeatures = %v", cfg.License.DemoFeatures)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 3 {
		t.Fatalf("Redis = %+v", cfg.Redis)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Parallel()
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [broken"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
