// Package config loads the feed service's configuration from environment
// variables, with an optional YAML file supplementing (not overriding)
// the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the feed service.
type Config struct {
	// Env is the deployment environment ("development", "production",
	// "test"). "test" switches every store to in-memory, ignoring the
	// configured snapshot paths.
	Env           string
	Server        ServerConfig
	Repository    RepositoryConfig
	Sequence      SequenceConfig
	StreamBus     StreamBusConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RepositoryConfig selects and tunes the order/error storage backend.
type RepositoryConfig struct {
	Backend                   string // "embedded" or "postgres"
	DatabaseURL               string
	MaxOpenConns              int
	MaxIdleConns              int
	ConnMaxLifetime           time.Duration
	OrdersSnapshotPath        string
	ErrorsSnapshotPath        string
	SnapshotDebounce          time.Duration
	ErrorRetentionTTL         time.Duration
	RejectDuplicateExternalID bool
}

// SequenceConfig tunes the sequence generator's persistence.
type SequenceConfig struct {
	SnapshotPath string
	Debounce     time.Duration
}

// StreamBusConfig selects the stream bus backend.
type StreamBusConfig struct {
	Backend  string // "local" or "redis"
	RedisURL string
}

// AuthConfig configures the ambient per-partner API-key gate.
type AuthConfig struct {
	Enabled    bool
	BCryptCost int
	// MasterAPIKeyHash, if set, bypasses the per-partner check entirely.
	MasterAPIKeyHash string
	// APIKeyHashes maps a partner id (e.g. "PARTNER_A") to its bcrypt-hashed API key.
	APIKeyHashes map[string]string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	ServiceVersion string
	LogLevel       string
	LogFormat      string
	// LogSink is "stdout" or "stderr"; structured log lines are written
	// there, independent of any "go build" default.
	LogSink        string
	MetricsEnabled bool
}

// fileOverlay is the shape of the optional YAML supplement. Any field left
// zero-valued in the file does not override the corresponding environment
// default; the file only fills gaps, it never takes precedence over an
// explicitly-set environment variable.
type fileOverlay struct {
	Server struct {
		Port string `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`
	Security struct {
		CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	} `yaml:"security"`
}

// Load builds a Config from environment variables, optionally
// supplemented by a YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		},
		Repository: RepositoryConfig{
			Backend:                   getEnv("REPOSITORY_BACKEND", "embedded"),
			DatabaseURL:               getEnv("DATABASE_URL", ""),
			MaxOpenConns:              getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:              getIntEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:           getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			OrdersSnapshotPath:        getEnv("ORDERS_SNAPSHOT_PATH", "./data/orders.json"),
			ErrorsSnapshotPath:        getEnv("ERRORS_SNAPSHOT_PATH", "./data/errors.json"),
			SnapshotDebounce:          getDurationEnv("SNAPSHOT_DEBOUNCE", 500*time.Millisecond),
			ErrorRetentionTTL:         getDurationEnv("ERROR_RETENTION_TTL", 0),
			RejectDuplicateExternalID: getBoolEnv("REJECT_DUPLICATE_EXTERNAL_ID", false),
		},
		Sequence: SequenceConfig{
			SnapshotPath: getEnv("SEQUENCE_SNAPSHOT_PATH", "./data/sequences.json"),
			Debounce:     getDurationEnv("SEQUENCE_DEBOUNCE", 100*time.Millisecond),
		},
		StreamBus: StreamBusConfig{
			Backend:  getEnv("STREAM_BUS_BACKEND", "local"),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Auth: AuthConfig{
			Enabled:          getBoolEnv("ENABLE_API_AUTH", false),
			BCryptCost:       getIntEnv("BCRYPT_COST", 12),
			MasterAPIKeyHash: getEnv("MASTER_API_KEY_HASH", ""),
			APIKeyHashes:     getMapEnv("PARTNER_API_KEY_HASHES"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloatEnv("RATE_LIMIT_RPS", 50),
			Burst:             getIntEnv("RATE_LIMIT_BURST", 100),
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: getSliceEnv("CORS_ORIGIN", []string{"http://localhost:3000"}),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "feed-service"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			LogSink:        getEnv("LOG_SINK", "stdout"),
			MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFileOverlay(path); err != nil {
			return nil, fmt.Errorf("config: apply file overlay: %w", err)
		}
	}

	if cfg.Env == "test" {
		cfg.Repository.OrdersSnapshotPath = ""
		cfg.Repository.ErrorsSnapshotPath = ""
		cfg.Sequence.SnapshotPath = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFileOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if os.Getenv("PORT") == "" && overlay.Server.Port != "" {
		c.Server.Port = overlay.Server.Port
	}
	if os.Getenv("HOST") == "" && overlay.Server.Host != "" {
		c.Server.Host = overlay.Server.Host
	}
	if os.Getenv("CORS_ORIGIN") == "" && len(overlay.Security.CORSAllowedOrigins) > 0 {
		c.Security.CORSAllowedOrigins = overlay.Security.CORSAllowedOrigins
	}
	return nil
}

func (c *Config) validate() error {
	if c.Repository.Backend == "postgres" && c.Repository.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when REPOSITORY_BACKEND=postgres")
	}
	if c.StreamBus.Backend != "local" && c.StreamBus.Backend != "redis" {
		return fmt.Errorf("STREAM_BUS_BACKEND must be 'local' or 'redis', got %q", c.StreamBus.Backend)
	}
	if c.Observability.LogSink != "stdout" && c.Observability.LogSink != "stderr" {
		return fmt.Errorf("LOG_SINK must be 'stdout' or 'stderr', got %q", c.Observability.LogSink)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getMapEnv parses a "PARTNER_A=hash1,PARTNER_B=hash2" style variable into
// a map. Malformed entries (missing "=") are skipped.
func getMapEnv(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
