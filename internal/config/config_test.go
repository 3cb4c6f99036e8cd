package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PRICE_CACHE_TTL", "30s")
	t.Setenv("BSC_RPC_URLS", "https://a.example, https://b.example ,")
	t.Setenv("SCAN_NOISE_THRESHOLD_USD", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Pricing.TTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chains.RPCOverrides["bsc"])
	assert.NotContains(t, cfg.Chains.RPCOverrides, "ethereum")
	assert.InDelta(t, 2.5, cfg.Scan.NoiseThreshold, 1e-9)
	assert.Equal(t, MinProviderSpacing, cfg.Scan.ProviderSpacing)
	assert.InDelta(t, 10.0, cfg.Scan.MarketMoveThreshold, 1e-9)
}

func TestLoadConfigRejectsTightSpacing(t *testing.T) {
	t.Setenv("SCAN_PROVIDER_SPACING", "100ms")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_PROVIDER_SPACING")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Pricing:   PricingConfig{MaxAttempts: 3, RequestTimeout: time.Second},
			Scan:      ScanConfig{Interval: time.Minute, Concurrency: 1, ProviderSpacing: time.Second, CallTimeout: time.Second, ProbeTimeout: time.Second, MarketMoveThreshold: 10},
			Storage:   StorageConfig{Backend: "memory"},
			Knowledge: KnowledgeConfig{Backend: "fallback"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero interval", func(c *Config) { c.Scan.Interval = 0 }, "SCAN_INTERVAL"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }, "STORAGE_BACKEND"},
		{"unknown knowledge", func(c *Config) { c.Knowledge.Backend = "metta" }, "KNOWLEDGE_BACKEND"},
		{"no concurrency", func(c *Config) { c.Scan.Concurrency = 0 }, "SCAN_CONCURRENCY"},
		{"no market threshold", func(c *Config) { c.Scan.MarketMoveThreshold = 0 }, "MARKET_MOVE_THRESHOLD_PCT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "x")
	t.Setenv("TEST_DURATION", "3s")

	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("TEST_BAD_INT", 1))
	assert.Equal(t, 3*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))
	assert.InDelta(t, 0.5, getEnvAsFloat("TEST_UNSET_FLOAT", 0.5), 1e-12)
}
