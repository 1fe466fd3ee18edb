package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-gw/bifrost/internal/registry"
	"github.com/bifrost-gw/bifrost/internal/service"
	"github.com/bifrost-gw/bifrost/internal/store"
)

func newChecker(t *testing.T, st store.Store, opts Options) (*registry.Registry, *Checker) {
	t.Helper()
	reg := registry.New(2*time.Second, nil)
	if st == nil {
		st = store.NewMemory()
	}
	return reg, New(reg, st, opts, nil)
}

func register(t *testing.T, reg *registry.Registry, name, baseURL string) {
	t.Helper()
	require.NoError(t, reg.Add(&service.Definition{
		Name:     name,
		BaseURL:  baseURL,
		IsActive: true,
	}))
}

func TestProbe2xxIsHealthy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()

	reg, c := newChecker(t, nil, Options{})
	register(t, reg, "users", backend.URL)

	status, ok := c.CheckOne(context.Background(), "users")
	require.True(t, ok)
	assert.Equal(t, service.StatusHealthy, status)

	d := reg.Get("users")
	assert.Equal(t, service.StatusHealthy, d.HealthStatus)
	require.NotNil(t, d.LastHealthCheck)
}

func TestProbeNon2xxIsUnhealthy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer backend.Close()

	reg, c := newChecker(t, nil, Options{})
	register(t, reg, "users", backend.URL)

	status, ok := c.CheckOne(context.Background(), "users")
	require.True(t, ok)
	assert.Equal(t, service.StatusUnhealthy, status)
}

func TestProbeConnectionRefusedIsUnhealthy(t *testing.T) {
	reg, c := newChecker(t, nil, Options{})
	// nothing listens here
	register(t, reg, "users", "http://127.0.0.1:1")

	status, ok := c.CheckOne(context.Background(), "users")
	require.True(t, ok)
	assert.Equal(t, service.StatusUnhealthy, status)

	d := reg.Get("users")
	require.NotNil(t, d.LastHealthCheck, "failed probes still advance the check timestamp")
}

func TestProbeTimeoutIsUnhealthy(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer backend.Close()
	defer close(release)

	reg, c := newChecker(t, nil, Options{ProbeTimeout: 50 * time.Millisecond})
	register(t, reg, "slow", backend.URL)

	status, ok := c.CheckOne(context.Background(), "slow")
	require.True(t, ok)
	assert.Equal(t, service.StatusUnhealthy, status)
}

func TestCheckOneUnknownService(t *testing.T) {
	_, c := newChecker(t, nil, Options{})
	status, ok := c.CheckOne(context.Background(), "ghost")
	assert.False(t, ok)
	assert.Equal(t, service.StatusUnknown, status)
}

func TestSweepSkipsInactive(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	reg, c := newChecker(t, nil, Options{})
	register(t, reg, "active", backend.URL)
	inactive := &service.Definition{Name: "parked", BaseURL: backend.URL, IsActive: false}
	require.NoError(t, reg.Add(inactive))

	c.Sweep(context.Background())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, service.StatusUnknown, reg.Get("parked").HealthStatus)
}

func TestSweepBoundsConcurrentProbes(t *testing.T) {
	const bound = 3
	var inFlight, highWater atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := highWater.Load()
			if cur <= prev || highWater.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}))
	defer backend.Close()

	reg, c := newChecker(t, nil, Options{MaxConcurrency: bound})
	for i := 0; i < 12; i++ {
		register(t, reg, fmt.Sprintf("svc-%d", i), backend.URL)
	}

	c.Sweep(context.Background())

	assert.LessOrEqual(t, highWater.Load(), int32(bound))
	assert.Greater(t, highWater.Load(), int32(1), "probes did overlap")
}

func TestSweepPersistsViaStore(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	st := store.NewMemory()
	d := &service.Definition{Name: "users", BaseURL: backend.URL, IsActive: true}
	require.NoError(t, st.Create(context.Background(), d))

	reg := registry.New(2*time.Second, nil)
	require.NoError(t, reg.Reload(context.Background(), st))
	c := New(reg, st, Options{}, nil)

	c.Sweep(context.Background())

	persisted, err := st.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusHealthy, persisted.HealthStatus)
	require.NotNil(t, persisted.LastHealthCheck)
}

type brokenHealthStore struct {
	*store.Memory
	calls atomic.Int32
}

func (b *brokenHealthStore) UpdateHealth(context.Context, string, service.HealthStatus, time.Time) error {
	b.calls.Add(1)
	return errors.New("disk on fire")
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	st := &brokenHealthStore{Memory: store.NewMemory()}
	d := &service.Definition{Name: "users", BaseURL: backend.URL, IsActive: true}
	require.NoError(t, st.Create(context.Background(), d))

	reg := registry.New(2*time.Second, nil)
	require.NoError(t, reg.Reload(context.Background(), st))
	c := New(reg, st, Options{}, nil)

	c.Sweep(context.Background())

	assert.Equal(t, int32(1), st.calls.Load())
	// in-memory status updated despite the store error
	assert.Equal(t, service.StatusHealthy, reg.Get("users").HealthStatus)
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	var mu sync.Mutex
	seen := make(map[string]service.HealthStatus)
	opts := Options{Observer: func(name string, status service.HealthStatus) {
		mu.Lock()
		seen[name] = status
		mu.Unlock()
	}}

	reg, c := newChecker(t, nil, opts)
	register(t, reg, "good", healthy.URL)
	register(t, reg, "bad", broken.URL)

	c.Sweep(context.Background())

	assert.Equal(t, service.StatusHealthy, seen["good"])
	assert.Equal(t, service.StatusUnhealthy, seen["bad"])
}

func TestRunSweepsOnTrigger(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	reg, c := newChecker(t, nil, Options{Interval: time.Hour})
	register(t, reg, "users", backend.URL)

	c.swept = make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Trigger()
	select {
	case <-c.swept:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run after trigger")
	}
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}
