package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a kernel node: the ABCI server,
// the authenticated store, the component host's resource bounds, and
// the optional secondary index and metrics exporter.
type Config struct {
	// Node identity and ABCI wiring
	ChainID        string
	Home           string
	ABCIListenAddr string
	GenesisPath    string
	LogLevel       string
	LogJSON        bool

	// Authenticated store
	StoreDataDir string

	// Component host resource bounds
	HostMaxMemoryPages  uint32
	HostCacheMaxEntries int64
	HostWallDeadline    time.Duration
	HostSystemGasBudget uint64

	// Secondary index (Postgres), optional
	DatabaseURL             string
	DatabaseMaxOpenConns    int
	DatabaseMaxIdleConns    int
	DatabaseConnMaxLifetime time.Duration
	DatabaseRequired        bool // if true, startup fails when the index is unreachable

	// Metrics exporter, optional
	MetricsEnabled bool
	MetricsAddr    string
}

// Load reads configuration from environment variables, applying the
// same defaults a local devnet node would want.
func Load() (*Config, error) {
	cfg := &Config{
		ChainID:        getEnv("KERNEL_CHAIN_ID", "certen-devnet-1"),
		Home:           getEnv("KERNEL_HOME", "./data"),
		ABCIListenAddr: getEnv("KERNEL_ABCI_LISTEN_ADDR", "tcp://127.0.0.1:26658"),
		GenesisPath:    getEnv("KERNEL_GENESIS_PATH", "./genesis.json"),
		LogLevel:       getEnv("KERNEL_LOG_LEVEL", "info"),
		LogJSON:        getEnvBool("KERNEL_LOG_JSON", false),

		StoreDataDir: getEnv("KERNEL_STORE_DATA_DIR", "./data/store"),

		HostMaxMemoryPages:  uint32(getEnvInt("KERNEL_HOST_MAX_MEMORY_PAGES", 256)),
		HostCacheMaxEntries: getEnvInt64("KERNEL_HOST_CACHE_MAX_ENTRIES", 256),
		HostWallDeadline:    getEnvDuration("KERNEL_HOST_WALL_DEADLINE", 2*time.Second),
		HostSystemGasBudget: uint64(getEnvInt64("KERNEL_HOST_SYSTEM_GAS_BUDGET", 1_000_000)),

		DatabaseURL:             getEnv("KERNEL_DATABASE_URL", ""),
		DatabaseMaxOpenConns:    getEnvInt("KERNEL_DATABASE_MAX_OPEN_CONNS", 25),
		DatabaseMaxIdleConns:    getEnvInt("KERNEL_DATABASE_MAX_IDLE_CONNS", 5),
		DatabaseConnMaxLifetime: getEnvDuration("KERNEL_DATABASE_CONN_MAX_LIFETIME", time.Hour),
		DatabaseRequired:        getEnvBool("KERNEL_DATABASE_REQUIRED", false),

		MetricsEnabled: getEnvBool("KERNEL_METRICS_ENABLED", false),
		MetricsAddr:    getEnv("KERNEL_METRICS_ADDR", "127.0.0.1:9090"),
	}

	return cfg, nil
}

// Validate checks that the configuration is sufficient to start a node.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID == "" {
		errs = append(errs, "KERNEL_CHAIN_ID is required")
	}
	if c.GenesisPath == "" {
		errs = append(errs, "KERNEL_GENESIS_PATH is required")
	}
	if c.StoreDataDir == "" {
		errs = append(errs, "KERNEL_STORE_DATA_DIR is required")
	}
	if c.DatabaseRequired && c.DatabaseURL == "" {
		errs = append(errs, "KERNEL_DATABASE_URL is required when KERNEL_DATABASE_REQUIRED is true")
	}
	if c.HostMaxMemoryPages == 0 {
		errs = append(errs, "KERNEL_HOST_MAX_MEMORY_PAGES must be greater than zero")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
