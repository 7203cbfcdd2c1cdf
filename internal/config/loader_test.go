package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/pkg/logger"
)

const testYAML = `
database:
  driver: sqlite
  path: ":memory:"
vault:
  master_key: "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
qr:
  base_url: "https://gyms.example.com"
  token_ttl: 45s
rate_limit:
  ip:
    limit: 100
    window: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testYAML), logger.NewNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "https://gyms.example.com", cfg.QR.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.QR.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.QR.KeyMaxAge)
	assert.Equal(t, 100, cfg.RateLimit.IP.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.IP.Window)
	assert.Equal(t, 10, cfg.RateLimit.GymPurposeIP.Limit)
	assert.Equal(t, "fs", cfg.Assets.Backend)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("QRGATE_AUTH_SYSTEM_SECRET", "cron-shared-secret")
	t.Setenv("QRGATE_QR_KEY_MAX_AGE", "2h")

	cfg, err := LoadConfig(writeConfig(t, testYAML), logger.NewNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, "cron-shared-secret", cfg.Auth.SystemSecret)
	assert.Equal(t, 2*time.Hour, cfg.QR.KeyMaxAge)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, testYAML+"\nassets:\n  backend: ftp\n"), logger.NewNoopLogger())
	assert.ErrorContains(t, err, "assets.backend")

	_, err = LoadConfig(writeConfig(t, `
database:
  driver: mysql
`), logger.NewNoopLogger())
	assert.ErrorContains(t, err, "database.driver")

	_, err = LoadConfig(writeConfig(t, testYAML+"\nserver:\n  trusted_proxies: [\"10.0.0.0/33\"]\n"), logger.NewNoopLogger())
	assert.ErrorContains(t, err, "server.trusted_proxies")

	t.Setenv("QRGATE_AUTH_JWT_SECRET", "short")
	_, err = LoadConfig(writeConfig(t, testYAML), logger.NewNoopLogger())
	assert.ErrorContains(t, err, "auth.jwt_secret")
}

func TestRateLimitConfig_Validate(t *testing.T) {
	rl := RateLimitConfig{Enabled: true, IP: RateLimitPolicy{Limit: 1, Window: time.Second}}
	assert.Error(t, rl.Validate())

	rl.GymPurposeIP = RateLimitPolicy{Limit: 1, Window: time.Second}
	assert.NoError(t, rl.Validate())

	assert.NoError(t, (&RateLimitConfig{}).Validate())
}

func TestServerConfig_TrustedProxyNets(t *testing.T) {
	c := ServerConfig{TrustedProxies: []string{"10.0.0.0/8", "192.0.2.10", "2001:db8::1"}}
	nets, err := c.TrustedProxyNets()
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "10.0.0.0/8", nets[0].String())
	assert.Equal(t, "192.0.2.10/32", nets[1].String())
	assert.Equal(t, "2001:db8::1/128", nets[2].String())

	c.TrustedProxies = []string{"proxy.internal"}
	_, err = c.TrustedProxyNets()
	assert.ErrorContains(t, err, "invalid address")
}
