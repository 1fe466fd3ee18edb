package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-gw/bifrost/internal/service"
)

func writeServices(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestFileInit(t *testing.T) {
	path := writeServices(t, `
services:
  - name: users
    base_url: http://users:9000
    is_active: true
    rate_limit_per_minute: 30
  - name: orders
    base_url: http://orders:9000/
    is_active: true
    health_check_path: healthz
`)
	f := NewFile(path)
	require.NoError(t, f.Init(context.Background()))

	users, err := f.GetByName(context.Background(), "users")
	require.NoError(t, err)
	assert.NotEmpty(t, users.ID)
	assert.Equal(t, 30, users.RateLimitPerMinute)
	assert.Equal(t, service.DefaultHealthCheckPath, users.HealthCheckPath)

	orders, err := f.GetByName(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "http://orders:9000", orders.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "/healthz", orders.HealthCheckPath, "leading slash added")
}

func TestFileInitMissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, f.Init(context.Background()))
}

func TestFileInitInvalidEntryFailsWholeLoad(t *testing.T) {
	path := writeServices(t, `
services:
  - name: users
    base_url: http://users:9000
    is_active: true
  - name: broken
    base_url: ""
`)
	f := NewFile(path)
	err := f.Init(context.Background())
	require.ErrorIs(t, err, service.ErrValidation)

	// nothing from a failed bootstrap is queryable
	_, err = f.GetByName(context.Background(), "users")
	assert.Error(t, err)
}

func TestFileInitBadYAML(t *testing.T) {
	path := writeServices(t, "services: [not: {valid")
	assert.Error(t, NewFile(path).Init(context.Background()))
}
