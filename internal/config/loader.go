package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/logger"
)

// Loader reads configuration and tracks hot-reloadable sections.
type Loader struct {
	v   *viper.Viper
	log logger.Logger

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(RateLimitConfig)
}

// NewLoader creates a loader. configFile may be empty to use the default search paths.
func NewLoader(configFile string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/qrgate/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QRGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log.WithComponent("config")}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}

// Load reads the file (if present), unmarshals and validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

// OnRateLimitChange registers a callback fired after a successful reload.
func (l *Loader) OnRateLimitChange(fn func(RateLimitConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Watch enables hot reload. Only rate-limit thresholds are applied live; other
// sections require a restart.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		ctx := context.Background()
		cfg, err := l.decode()
		if err != nil {
			l.log.Error(ctx, "Rejected config reload", err, logger.String("file", e.Name))
			return
		}

		l.mu.Lock()
		l.cfg.RateLimit = cfg.RateLimit
		listeners := append([]func(RateLimitConfig){}, l.listeners...)
		l.mu.Unlock()

		for _, fn := range listeners {
			fn(cfg.RateLimit)
		}
		l.log.Info(ctx, "Rate limit configuration reloaded",
			logger.String("file", e.Name),
			logger.Int("ip_limit", cfg.RateLimit.IP.Limit),
			logger.Int("gym_purpose_ip_limit", cfg.RateLimit.GymPurposeIP.Limit),
		)
	})
	l.v.WatchConfig()
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "qrgate")
	v.SetDefault("database.database", "qrgate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "qrgate.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")

	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "qrgate/master-key")

	v.SetDefault("auth.jwt_issuer", "qrgate")

	v.SetDefault("qr.base_url", "http://localhost:8080")
	v.SetDefault("qr.deep_link_scheme", "gymapp")
	v.SetDefault("qr.token_ttl", constants.DefaultTokenTTL.String())
	v.SetDefault("qr.key_max_age", constants.DefaultKeyMaxAge.String())
	v.SetDefault("qr.rotation_interval", constants.DefaultRotationInterval.String())
	v.SetDefault("qr.scheduler_enabled", true)
	v.SetDefault("qr.gym_cache_ttl", constants.DefaultGymCacheTTL.String())
	v.SetDefault("qr.device_binding", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.ip.limit", 60)
	v.SetDefault("rate_limit.ip.window", "1m")
	v.SetDefault("rate_limit.gym_purpose_ip.limit", 10)
	v.SetDefault("rate_limit.gym_purpose_ip.window", "1m")
	v.SetDefault("rate_limit.key_prefix", "qrgate:ratelimit")
	v.SetDefault("rate_limit.fallback_to_local", true)
	v.SetDefault("rate_limit.local_burst_factor", 1)

	v.SetDefault("assets.backend", "fs")
	v.SetDefault("assets.dir", "./data/assets")
	v.SetDefault("assets.prefix", "qr-batches")
	v.SetDefault("assets.png_size", 512)

	v.SetDefault("kafka.audit_topic", "qrgate.audit")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_timeout", "50ms")
	v.SetDefault("kafka.gym_events_group_id", "qrgate-gym-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", "qrgate")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 0.1)

	// Keys without a meaningful default are still registered so AutomaticEnv
	// can bind them during Unmarshal.
	for key, zero := range map[string]interface{}{
		"database.password":       "",
		"redis.password":          "",
		"vault.enabled":           false,
		"vault.address":           "",
		"vault.token":             "",
		"vault.master_key":        "",
		"auth.jwt_secret":         "",
		"auth.system_secret":      "",
		"assets.bucket":           "",
		"assets.region":           "",
		"assets.endpoint":         "",
		"kafka.enabled":           false,
		"kafka.brokers":           []string{},
		"kafka.signing_secret":    "",
		"kafka.gym_events_topic":  "",
		"tracing.enabled":         false,
		"tracing.jaeger_endpoint": "",
		"monitoring.enable_pprof": false,
	} {
		v.SetDefault(key, zero)
	}
}
