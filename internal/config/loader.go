package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "HUMANTASK"

// Load returns Default overlaid with the YAML file at path, if non-empty,
// and then with HUMANTASK_* environment variables (dots become
// underscores, so cache.redis_url is HUMANTASK_CACHE_REDIS_URL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("grpc.port", d.GRPC.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("engine.driver", d.Engine.Driver)
	v.SetDefault("engine.database_url", d.Engine.DatabaseURL)
	v.SetDefault("engine.breaker.enabled", d.Engine.Breaker.Enabled)
	v.SetDefault("engine.breaker.failure_threshold", d.Engine.Breaker.FailureThreshold)
	v.SetDefault("engine.breaker.open_timeout", d.Engine.Breaker.OpenTimeout)
	v.SetDefault("engine.memory.seed_file", d.Engine.Memory.SeedFile)

	v.SetDefault("identity.legacy_single_char", d.Identity.LegacySingleChar)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.l1_size", d.Cache.L1Size)
	v.SetDefault("cache.l1_ttl", d.Cache.L1TTL)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.l2_ttl", d.Cache.L2TTL)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.salt", d.Auth.Salt)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("ratelimit.actor_rps", d.RateLimit.ActorRPS)
	v.SetDefault("ratelimit.actor_burst", d.RateLimit.ActorBurst)
	v.SetDefault("ratelimit.global_rps", d.RateLimit.GlobalRPS)
	v.SetDefault("ratelimit.global_burst", d.RateLimit.GlobalBurst)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)

	v.SetDefault("log.level", d.Log.Level)
}
