package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	Build     BuildConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds; caps a single verification run end to end
}

// StorageConfig holds verification record storage configuration
type StorageConfig struct {
	Type     string // "sqlite", "postgres", or "file"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	File     FileStoreConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// FileStoreConfig holds the record-file store settings
type FileStoreConfig struct {
	Dir string // one write-once JSON file per wasm hash
}

// LedgerConfig holds the ledger snapshot settings
type LedgerConfig struct {
	Source         string // "file" or "http"
	Path           string // for file source
	URL            string // for http source
	RefreshMinutes int    // 0 disables background refresh
}

// BuildConfig holds build sandbox settings
type BuildConfig struct {
	TimeoutSeconds    int
	VerifyDeterminism bool     // build twice and compare artifact bytes
	EnvAllowlist      []string // env vars passed through to the build
	WorkDir           string   // base dir for per-request sandboxes
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool
	Port    int // separate listener, not exposed on the API port
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 600),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 600),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/wasmproof.db"),
			},
			File: FileStoreConfig{
				Dir: getEnv("RECORDS_DIR", "./data/records"),
			},
		},
		Ledger: LedgerConfig{
			Source:         getEnv("LEDGER_SOURCE", "file"),
			Path:           getEnv("LEDGER_PATH", "./data/ledger.json"),
			URL:            getEnv("LEDGER_URL", ""),
			RefreshMinutes: getEnvInt("LEDGER_REFRESH_MINUTES", 15),
		},
		Build: BuildConfig{
			TimeoutSeconds:    getEnvInt("BUILD_TIMEOUT", 900),
			VerifyDeterminism: getEnvBool("BUILD_VERIFY_DETERMINISM", true),
			EnvAllowlist:      getEnvStringSlice("BUILD_ENV_ALLOWLIST", []string{"PATH", "HOME", "CARGO_HOME", "RUSTUP_HOME"}),
			WorkDir:           getEnv("BUILD_WORK_DIR", ""),
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 60),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 10),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 1),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	// LEDGER_URL implies the http source
	if cfg.Ledger.URL != "" && cfg.Ledger.Source == "file" {
		cfg.Ledger.Source = "http"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgres", "file":
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	// The record-file store has no API key table
	if c.Auth.Type == "api-key" && c.Storage.Type == "file" {
		return fmt.Errorf("auth type %q requires sqlite or postgres storage", c.Auth.Type)
	}

	switch c.Ledger.Source {
	case "file", "http":
	default:
		return fmt.Errorf("unknown ledger source: %s", c.Ledger.Source)
	}
	if c.Ledger.Source == "http" && c.Ledger.URL == "" {
		return fmt.Errorf("ledger source %q requires LEDGER_URL", c.Ledger.Source)
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
