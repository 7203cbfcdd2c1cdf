package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Auth       AuthConfig       `mapstructure:"auth"`
	QR         QRConfig         `mapstructure:"qr"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Assets     AssetsConfig     `mapstructure:"assets"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is believed.
	// Empty means the socket peer is always the client.
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// TrustedProxyNets parses TrustedProxies. A bare IP becomes a single-host net.
func (c *ServerConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		entry := strings.TrimSpace(raw)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("server.trusted_proxies: invalid address %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// HTTPAddr returns the listen address of the HTTP server.
func (c *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns the listen address of the gRPC server.
func (c *ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// GetDSN returns the driver specific connection string.
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	// SecretPath is the KV v2 path holding the master sealing key under field "master_key".
	SecretPath string `mapstructure:"secret_path"`
	// MasterKey is a base64 AES-256 key used when Vault is disabled.
	MasterKey string `mapstructure:"master_key"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTIssuer    string `mapstructure:"jwt_issuer"`
	SystemSecret string `mapstructure:"system_secret"`
}

type QRConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	DeepLinkScheme   string        `mapstructure:"deep_link_scheme"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	KeyMaxAge        time.Duration `mapstructure:"key_max_age"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	GymCacheTTL      time.Duration `mapstructure:"gym_cache_ttl"`
	DeviceBinding    bool          `mapstructure:"device_binding"`
}

// RateLimitPolicy is one sliding-window tier.
type RateLimitPolicy struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	IP               RateLimitPolicy `mapstructure:"ip"`
	GymPurposeIP     RateLimitPolicy `mapstructure:"gym_purpose_ip"`
	KeyPrefix        string          `mapstructure:"key_prefix"`
	FallbackToLocal  bool            `mapstructure:"fallback_to_local"`
	LocalBurstFactor int             `mapstructure:"local_burst_factor"`
}

type AssetsConfig struct {
	Backend  string `mapstructure:"backend"` // fs | s3
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
	PNGSize  int    `mapstructure:"png_size"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// SigningSecret, when set, adds an HMAC-SHA256 header to every audit message.
	SigningSecret string `mapstructure:"signing_secret"`
	// GymEventsTopic carries gym changes published by the membership service.
	// The consumer is disabled when empty.
	GymEventsTopic   string `mapstructure:"gym_events_topic"`
	GymEventsGroupID string `mapstructure:"gym_events_group_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

type MonitoringConfig struct {
	EnablePprof bool `mapstructure:"enable_pprof"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if _, err := c.Server.TrustedProxyNets(); err != nil {
		return err
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.QR.BaseURL == "" {
		return fmt.Errorf("qr.base_url is required")
	}
	if c.QR.TokenTTL <= 0 {
		return fmt.Errorf("qr.token_ttl must be positive")
	}
	if c.QR.KeyMaxAge <= 0 {
		return fmt.Errorf("qr.key_max_age must be positive")
	}
	if c.QR.RotationInterval <= 0 {
		return fmt.Errorf("qr.rotation_interval must be positive")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	switch c.Assets.Backend {
	case "fs":
		if c.Assets.Dir == "" {
			return fmt.Errorf("assets.dir is required for the fs backend")
		}
	case "s3":
		if c.Assets.Bucket == "" {
			return fmt.Errorf("assets.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("assets.backend must be fs or s3, got %q", c.Assets.Backend)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.AuditTopic == "") {
		return fmt.Errorf("kafka.brokers and kafka.audit_topic are required when kafka is enabled")
	}
	if !c.Vault.Enabled && c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required when vault is disabled")
	}
	return nil
}

// Validate checks both tiers.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	for name, p := range map[string]RateLimitPolicy{"ip": c.IP, "gym_purpose_ip": c.GymPurposeIP} {
		if p.Limit <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate_limit.%s requires a positive limit and window", name)
		}
	}
	return nil
}
