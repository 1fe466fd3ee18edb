package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-gw/bifrost/internal/service"
)

func newDef(name string) *service.Definition {
	return &service.Definition{
		Name:     name,
		BaseURL:  "http://" + name + ":9000",
		IsActive: true,
	}
}

func TestMemoryCreateAssignsID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	d := newDef("users")
	require.NoError(t, m.Create(ctx, d))
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	got, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "users", got.Name)
}

func TestMemoryCreateDuplicateName(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newDef("users")))
	assert.Error(t, m.Create(ctx, newDef("users")))
}

func TestMemoryGetByName(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newDef("users")))

	got, err := m.GetByName(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", got.Name)

	_, err = m.GetByName(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLoadActiveFiltersInactive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, newDef("live")))
	parked := newDef("parked")
	parked.IsActive = false
	require.NoError(t, m.Create(ctx, parked))

	active, err := m.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].Name)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDef("users")
	require.NoError(t, m.Create(ctx, d))

	d.BaseURL = "http://users-v2:9000"
	require.NoError(t, m.Update(ctx, d))

	got, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://users-v2:9000", got.BaseURL)

	missing := newDef("ghost")
	missing.ID = "no-such-id"
	assert.ErrorIs(t, m.Update(ctx, missing), ErrNotFound)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDef("users")
	require.NoError(t, m.Create(ctx, d))

	require.NoError(t, m.Delete(ctx, d.ID))
	_, err := m.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, d.ID), ErrNotFound)
}

func TestMemoryUpdateHealth(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDef("users")
	require.NoError(t, m.Create(ctx, d))

	at := time.Now()
	require.NoError(t, m.UpdateHealth(ctx, d.ID, service.StatusUnhealthy, at))

	got, err := m.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusUnhealthy, got.HealthStatus)
	require.NotNil(t, got.LastHealthCheck)

	assert.ErrorIs(t, m.UpdateHealth(ctx, "no-such-id", service.StatusHealthy, at), ErrNotFound)
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	healthy := newDef("a")
	healthy.HealthStatus = service.StatusHealthy
	require.NoError(t, m.Create(ctx, healthy))

	sick := newDef("b")
	sick.HealthStatus = service.StatusUnhealthy
	sick.IsActive = false
	require.NoError(t, m.Create(ctx, sick))

	require.NoError(t, m.Create(ctx, newDef("c")))

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.Stats{Total: 3, Active: 2, Healthy: 1, Unhealthy: 1, Unknown: 1}, st)
}

func TestMemoryReadsReturnCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDef("users")
	require.NoError(t, m.Create(ctx, d))

	got, err := m.GetByName(ctx, "users")
	require.NoError(t, err)
	got.BaseURL = "http://mutated"

	again, err := m.GetByName(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "http://users:9000", again.BaseURL)
}
