package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", c.Listen)
	assert.Equal(t, "bifrost", c.Name)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 60, c.RateLimitPerMinute)
	assert.Equal(t, "admin", c.AdminRole)
	assert.Equal(t, 30*time.Second, c.HealthInterval)
	assert.Equal(t, 5*time.Second, c.HealthProbeTimeout)
	assert.Equal(t, 8, c.HealthConcurrency)
	assert.Equal(t, 30*time.Second, c.ReadTimeout)
	assert.Equal(t, 60*time.Second, c.WriteTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
name: edge
log_level: debug
rate_limit:
  per_minute: 120
  key_header: X-API-Key
  trust_forwarded_for: true
auth:
  server_url: http://auth:8100
  admin_role: super_admin
database_url: postgres://gw:gw@db/gw?sslmode=disable
services_file: ./services.yaml
health:
  interval: 10s
  probe_timeout: 2s
  concurrency: 4
timeouts:
  read: 15s
  write: 45s
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Listen)
	assert.Equal(t, "edge", c.Name)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 120, c.RateLimitPerMinute)
	assert.Equal(t, "X-API-Key", c.RateLimitKeyHeader)
	assert.True(t, c.TrustForwardedFor)
	assert.Equal(t, "http://auth:8100", c.AuthServerURL)
	assert.Equal(t, "super_admin", c.AdminRole)
	assert.Equal(t, "postgres://gw:gw@db/gw?sslmode=disable", c.DatabaseURL)
	assert.Equal(t, "./services.yaml", c.ServicesFile)
	assert.Equal(t, 10*time.Second, c.HealthInterval)
	assert.Equal(t, 2*time.Second, c.HealthProbeTimeout)
	assert.Equal(t, 4, c.HealthConcurrency)
	assert.Equal(t, 15*time.Second, c.ReadTimeout)
	assert.Equal(t, 45*time.Second, c.WriteTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
rate_limit:
  per_minute: 120
`)
	t.Setenv("BIFROST_LISTEN", ":7000")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "15")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("LOG_LEVEL", "WARN")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.Listen)
	assert.Equal(t, 15, c.RateLimitPerMinute)
	assert.Equal(t, "postgres://env", c.DatabaseURL)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
health:
  interval: soon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveRateLimit(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  per_minute: 10\n")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "-5")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [}")
	_, err := Load(path)
	assert.Error(t, err)
}
