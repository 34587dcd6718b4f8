// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

// EnvPrefix namespaces environment overrides, e.g. PROXYFETCH_SERVER_PORT.
const EnvPrefix = "PROXYFETCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Auth      AuthConfig          `mapstructure:"auth"`
	Proxy     ProxyConfig         `mapstructure:"proxy"`
	Regions   map[string][]string `mapstructure:"regions"`
	DB        DBConfig            `mapstructure:"db"`
	Redis     RedisConfig         `mapstructure:"redis"`
	RateLimit RateLimitConfig     `mapstructure:"rate_limit"`
	PubSub    PubSubConfig        `mapstructure:"pubsub"`
	Archive   ArchiveConfig       `mapstructure:"archive"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Telemetry TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig controls credential signing and the entitlement policy.
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours"`
	APIKeyTTLDays   int    `mapstructure:"api_key_ttl_days"`
	TrialDays       int    `mapstructure:"trial_days"`
	AllowTrial      bool   `mapstructure:"allow_trial"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// ProxyConfig tunes probing, fetching and failover.
type ProxyConfig struct {
	MaxRetries          int    `mapstructure:"max_retries"`
	ProbeTimeoutMs      int    `mapstructure:"probe_timeout_ms"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	BackoffBaseMs       int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	BackoffJitterMs     int    `mapstructure:"backoff_jitter_ms"`
	UserAgent           string `mapstructure:"user_agent"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	MigrateOnStart         bool   `mapstructure:"migrate_on_start"`
}

// RedisConfig locates the Redis server used for shared rate limiting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig controls per-token throttling of the proxy surface.
type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Backend           string `mapstructure:"backend"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// PubSubConfig holds the usage event destination. An empty project disables publishing.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	UsageTopic   string `mapstructure:"usage_topic"`
	BufferSize   int    `mapstructure:"buffer_size"`
	BatchWaitMs  int    `mapstructure:"batch_wait_ms"`
	MaxBatchSize int    `mapstructure:"max_batch_size"`
}

// ArchiveConfig selects where raw SERP pages are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls OpenTelemetry setup.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// ProjectID enables export to Google Cloud Trace.
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Regions are not a viper default: nested defaults would merge with the
	// file's table instead of being replaced by it.
	if len(cfg.Regions) == 0 {
		cfg.Regions = proxy.DefaultRegions()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl_hours", 24*8)
	v.SetDefault("auth.api_key_ttl_days", 365)
	v.SetDefault("auth.trial_days", 7)
	v.SetDefault("auth.allow_trial", true)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("proxy.max_retries", 3)
	v.SetDefault("proxy.probe_timeout_ms", 5000)
	v.SetDefault("proxy.fetch_timeout_seconds", 15)
	v.SetDefault("proxy.backoff_base_ms", 500)
	v.SetDefault("proxy.backoff_max_ms", 5000)
	v.SetDefault("proxy.backoff_jitter_ms", 100)
	v.SetDefault("proxy.user_agent", "proxyfetch-internal-fetcher/1.0")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.usage_topic", "proxy-usage")
	v.SetDefault("pubsub.buffer_size", 1024)
	v.SetDefault("pubsub.batch_wait_ms", 250)
	v.SetDefault("pubsub.max_batch_size", 100)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "proxyfetch")
	v.SetDefault("telemetry.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set")
	}
	if c.Proxy.MaxRetries < 1 {
		return fmt.Errorf("proxy.max_retries must be >= 1")
	}
	if c.Proxy.ProbeTimeoutMs <= 0 || c.Proxy.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("proxy timeouts must be > 0")
	}
	if c.Proxy.BackoffBaseMs <= 0 || c.Proxy.BackoffMaxMs < c.Proxy.BackoffBaseMs {
		return fmt.Errorf("proxy.backoff_max_ms must be >= proxy.backoff_base_ms > 0")
	}
	if _, err := proxy.NewRegistry(c.Regions); err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis.addr must be set when rate_limit.backend is redis")
			}
		default:
			return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
		}
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
		}
	}
	switch c.Archive.Backend {
	case "", "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local or gcs, got %q", c.Archive.Backend)
	}
	return nil
}

// ProbeTimeout returns the health probe timeout.
func (c ProxyConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// FetchTimeout returns the per-attempt fetch timeout.
func (c ProxyConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Backoff returns base, max and jitter for the retry policy.
func (c ProxyConfig) Backoff() (base, maxDelay, jitter time.Duration) {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond,
		time.Duration(c.BackoffMaxMs) * time.Millisecond,
		time.Duration(c.BackoffJitterMs) * time.Millisecond
}
