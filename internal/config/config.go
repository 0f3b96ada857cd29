// Package config holds taskd settings. Defaults come from Default; Load
// overlays an optional YAML file and HUMANTASK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	GRPC      GRPCConfig      `yaml:"grpc" mapstructure:"grpc"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Identity  IdentityConfig  `yaml:"identity" mapstructure:"identity"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type HTTPConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

type GRPCConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

type MetricsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// EngineConfig selects the process-engine adapter.
type EngineConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Memory      MemoryConfig  `yaml:"memory" mapstructure:"memory"`
}

// MemoryConfig configures the in-memory driver. SeedFile, when set, names a
// YAML fixture of instances and tasks loaded at startup.
type MemoryConfig struct {
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// BreakerConfig configures the circuit breaker in front of the engine.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

// IdentityConfig selects the identity parsing mode. LegacySingleChar keeps
// single-character identifiers only when they sit inside a delimited list.
type IdentityConfig struct {
	LegacySingleChar bool `yaml:"legacy_single_char" mapstructure:"legacy_single_char"`
}

// CacheConfig configures the optional identity-link cache. An empty
// RedisURL keeps the cache in process.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	L1Size   int           `yaml:"l1_size" mapstructure:"l1_size"`
	L1TTL    time.Duration `yaml:"l1_ttl" mapstructure:"l1_ttl"`
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
	L2TTL    time.Duration `yaml:"l2_ttl" mapstructure:"l2_ttl"`
}

// AuthConfig configures actor tokens. An empty Secret disables token
// verification and trusts the X-Actor-ID header instead.
type AuthConfig struct {
	Secret   string        `yaml:"secret" mapstructure:"secret"`
	Salt     string        `yaml:"salt" mapstructure:"salt"`
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	ActorRPS    float64 `yaml:"actor_rps" mapstructure:"actor_rps"`
	ActorBurst  int     `yaml:"actor_burst" mapstructure:"actor_burst"`
	GlobalRPS   float64 `yaml:"global_rps" mapstructure:"global_rps"`
	GlobalBurst int     `yaml:"global_burst" mapstructure:"global_burst"`
}

// AuditConfig controls the mutation audit trail, written to the log.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	BufferSize int  `yaml:"buffer_size" mapstructure:"buffer_size"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP:    HTTPConfig{Port: 8080},
		GRPC:    GRPCConfig{Port: 7240},
		Metrics: MetricsConfig{Path: "/metrics"},
		Engine: EngineConfig{
			Driver: DriverMemory,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Cache: CacheConfig{
			L1Size: 10000,
			L1TTL:  30 * time.Second,
			L2TTL:  2 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			ActorRPS:    5,
			ActorBurst:  10,
			GlobalRPS:   200,
			GlobalBurst: 400,
		},
		Audit: AuditConfig{Enabled: true, BufferSize: 1000},
		Log:   LogConfig{Level: "info"},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.HTTP.Port == c.GRPC.Port {
		errs = append(errs, errors.New("http.port and grpc.port must differ"))
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}

	switch c.Engine.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Engine.DatabaseURL == "" {
			errs = append(errs, errors.New("engine.database_url is required for the postgres driver"))
		}
		if c.Engine.Memory.SeedFile != "" {
			errs = append(errs, errors.New("engine.memory.seed_file only applies to the memory driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine.driver %q", c.Engine.Driver))
	}

	if c.Engine.Breaker.Enabled && (c.Engine.Breaker.FailureThreshold <= 0 || c.Engine.Breaker.OpenTimeout <= 0) {
		errs = append(errs, errors.New("engine.breaker needs a positive failure_threshold and open_timeout"))
	}
	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		errs = append(errs, errors.New("cache.l1_size must be positive"))
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be at least 32 characters"))
	}
	if c.RateLimit.ActorRPS <= 0 || c.RateLimit.GlobalRPS <= 0 {
		errs = append(errs, errors.New("ratelimit rates must be positive"))
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("audit.buffer_size must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether bearer tokens are required.
func (c *Config) AuthEnabled() bool {
	return c.Auth.Secret != ""
}

// SlogLevel parses Level as a slog level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
