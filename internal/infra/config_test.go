package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"whale_go/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
scan:
  workers: 7
  large_order_multiplier: 4.0
  excluded_suffixes: [USDC]
lifecycle:
  hot_pool_lifetime: 90s
broadcast:
  public_delay: 3s
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Scan.Workers != 7 {
		t.Errorf("Expected 7 workers, got %d", cfg.Scan.Workers)
	}
	if cfg.Scan.LargeMultiplier != 4.0 {
		t.Errorf("Expected multiplier 4.0, got %v", cfg.Scan.LargeMultiplier)
	}
	if len(cfg.Scan.ExcludedSuffixes) != 1 || cfg.Scan.ExcludedSuffixes[0] != "USDC" {
		t.Errorf("Expected [USDC], got %v", cfg.Scan.ExcludedSuffixes)
	}
	if cfg.Lifecycle.HotPoolLifetime != 90*time.Second {
		t.Errorf("Expected 90s, got %s", cfg.Lifecycle.HotPoolLifetime)
	}
	if cfg.Broadcast.PublicDelay != 3*time.Second {
		t.Errorf("Expected 3s, got %s", cfg.Broadcast.PublicDelay)
	}
	// untouched keys keep defaults
	if cfg.Lifecycle.SurvivalThreshold != 0.7 {
		t.Errorf("Expected default survival threshold 0.7, got %v", cfg.Lifecycle.SurvivalThreshold)
	}
	if cfg.Weights.Recommended != "hybrid" {
		t.Errorf("Expected recommended hybrid, got %s", cfg.Weights.Recommended)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("WHALE_PRIVATE_TOKEN", "s3cret")
	t.Setenv("WHALE_VIP_KEYS", "alpha, beta,,gamma")

	cfg, err := LoadConfig(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Broadcast.PrivateToken != "s3cret" {
		t.Errorf("Expected token from env, got %q", cfg.Broadcast.PrivateToken)
	}
	if len(cfg.Broadcast.VIPKeys) != 3 || cfg.Broadcast.VIPKeys[2] != "gamma" {
		t.Errorf("Expected 3 VIP keys, got %v", cfg.Broadcast.VIPKeys)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Exchange.RestURL = "ftp://x" }, "exchange.rest_url"},
		{"url shorter than scheme", func(c *Config) { c.Exchange.RestURL = "http" }, "exchange.rest_url"},
		{"no scan workers", func(c *Config) { c.Scan.Workers = 0 }, "scan.workers"},
		{"depth below top levels", func(c *Config) { c.Scan.Depth = 5 }, "scan.depth"},
		{"survival above one", func(c *Config) { c.Lifecycle.SurvivalThreshold = 1.5 }, "lifecycle.survival_threshold"},
		{"observer bounds", func(c *Config) { c.Observer.MaxWorkers = 0 }, "observer.workers"},
		{"coefficients above one", func(c *Config) { c.Weights.Algorithms[0].Time = 0.9 }, "weights.algorithms"},
		{"duplicate algorithm", func(c *Config) { c.Weights.Algorithms[1].Name = c.Weights.Algorithms[0].Name }, "weights.algorithms"},
		{"unknown recommended", func(c *Config) { c.Weights.Recommended = "yolo" }, "weights.recommended"},
		{"public rate", func(c *Config) { c.Broadcast.PublicRate = 0 }, "broadcast.public_rate_limit"},
		{"export without brokers", func(c *Config) { c.Export.Enabled = true }, "export.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, ce.Field)
			}
		})
	}
}
