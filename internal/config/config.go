// Package config provides configuration management for the risk monitor.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinProviderSpacing is the smallest allowed gap between two calls to the same external provider.
const MinProviderSpacing = 500 * time.Millisecond

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Pricing   PricingConfig
	Scan      ScanConfig
	Knowledge KnowledgeConfig
	Storage   StorageConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	EventsPerSecond float64
	EventBurst      int
	MessageHistory  int // outbound messages retained per recipient
}

// DatabaseConfig holds connection settings for every backing store
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables the snapshot archive.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds per-chain RPC overrides, keyed by registry key
type ChainsConfig struct {
	RPCOverrides map[string][]string
}

// PricingConfig holds price feed settings
type PricingConfig struct {
	BaseURL        string
	APIKey         string
	TTL            time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
}

// ScanConfig holds scheduler and scanner settings
type ScanConfig struct {
	Interval            time.Duration
	BatchSize           int // portfolios per cycle, 0 means all
	Concurrency         int
	ProviderSpacing     time.Duration
	CallTimeout         time.Duration
	ProbeTimeout        time.Duration
	Budget              time.Duration
	NoiseThreshold      float64
	DustThreshold       float64
	PortfolioSpacing    time.Duration
	MarketMoveThreshold float64 // percent change between scans that raises a market alert
}

// KnowledgeConfig selects the knowledge backend
type KnowledgeConfig struct {
	Backend  string // redis or fallback
	SeedFile string
}

// StorageConfig selects the durable key-value backend
type StorageConfig struct {
	Backend string // redis, postgres or memory
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			EventsPerSecond: getEnvAsFloat("API_EVENTS_PER_SECOND", 5),
			EventBurst:      getEnvAsInt("API_EVENT_BURST", 10),
			MessageHistory:  getEnvAsInt("API_MESSAGE_HISTORY", 50),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "defiguard"),
				User:           getEnv("POSTGRES_USER", "defiguard"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "defiguard"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Pricing: PricingConfig{
			BaseURL:        getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:         getEnv("COINGECKO_API_KEY", ""),
			TTL:            getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
			MaxAttempts:    getEnvAsInt("PRICE_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvAsDuration("PRICE_INITIAL_BACKOFF", time.Second),
			RequestTimeout: getEnvAsDuration("PRICE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Scan: ScanConfig{
			Interval:            getEnvAsDuration("SCAN_INTERVAL", 5*time.Minute),
			BatchSize:           getEnvAsInt("SCAN_BATCH_SIZE", 0),
			Concurrency:         getEnvAsInt("SCAN_CONCURRENCY", 4),
			ProviderSpacing:     getEnvAsDuration("SCAN_PROVIDER_SPACING", MinProviderSpacing),
			CallTimeout:         getEnvAsDuration("SCAN_CALL_TIMEOUT", 10*time.Second),
			ProbeTimeout:        getEnvAsDuration("SCAN_PROBE_TIMEOUT", 5*time.Second),
			Budget:              getEnvAsDuration("SCAN_BUDGET", 2*time.Minute),
			NoiseThreshold:      getEnvAsFloat("SCAN_NOISE_THRESHOLD_USD", 1.0),
			DustThreshold:       getEnvAsFloat("SCAN_DUST_THRESHOLD", 0.000001),
			PortfolioSpacing:    getEnvAsDuration("SCAN_PORTFOLIO_SPACING", 2*time.Second),
			MarketMoveThreshold: getEnvAsFloat("MARKET_MOVE_THRESHOLD_PCT", 10),
		},
		Knowledge: KnowledgeConfig{
			Backend:  getEnv("KNOWLEDGE_BACKEND", "redis"),
			SeedFile: getEnv("KNOWLEDGE_SEED_FILE", ""),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "redis"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the scanner cannot honour
func (c *Config) Validate() error {
	if c.Scan.ProviderSpacing < MinProviderSpacing {
		return fmt.Errorf("SCAN_PROVIDER_SPACING must be at least %s, got %s", MinProviderSpacing, c.Scan.ProviderSpacing)
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive")
	}
	if c.Scan.CallTimeout <= 0 || c.Scan.ProbeTimeout <= 0 || c.Pricing.RequestTimeout <= 0 {
		return fmt.Errorf("call, probe and price request timeouts must be positive")
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("SCAN_CONCURRENCY must be at least 1")
	}
	if c.Scan.MarketMoveThreshold <= 0 {
		return fmt.Errorf("MARKET_MOVE_THRESHOLD_PCT must be positive")
	}
	if c.Pricing.MaxAttempts < 1 {
		return fmt.Errorf("PRICE_MAX_ATTEMPTS must be at least 1")
	}
	switch c.Storage.Backend {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Knowledge.Backend {
	case "redis", "fallback":
	default:
		return fmt.Errorf("unknown KNOWLEDGE_BACKEND %q", c.Knowledge.Backend)
	}
	return nil
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return c.Database.Redis.Host + ":" + c.Database.Redis.Port
}

// knownChains lists the registry keys that accept <CHAIN>_RPC_URLS overrides
var knownChains = []string{"ethereum", "bsc", "polygon", "arbitrum", "optimism", "avalanche", "base"}

// loadChainConfigs reads comma-separated <CHAIN>_RPC_URLS overrides
func loadChainConfigs() ChainsConfig {
	overrides := make(map[string][]string)
	for _, chain := range knownChains {
		raw := getEnv(strings.ToUpper(chain)+"_RPC_URLS", "")
		if raw == "" {
			continue
		}
		var urls []string
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			overrides[chain] = urls
		}
	}
	return ChainsConfig{RPCOverrides: overrides}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
