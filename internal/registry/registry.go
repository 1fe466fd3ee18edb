// Package registry holds the in-memory source of truth for routable services.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bifrost-gw/bifrost/internal/service"
	"github.com/bifrost-gw/bifrost/internal/store"
)

// ErrDuplicateName is returned by Add when the name is already registered.
var ErrDuplicateName = errors.New("duplicate service name")

// snapshot is an immutable name->definition mapping. Readers hold a snapshot
// pointer; writers build a fresh map and swap it, so a reader never observes
// a mapping mutated mid-iteration.
type snapshot map[string]*service.Definition

// Registry owns service state for the process lifetime. Load and Reload swap
// the whole snapshot atomically; Add and Remove copy-on-write the live one.
type Registry struct {
	mu   sync.RWMutex
	snap snapshot

	probeClient *http.Client
	log         *slog.Logger
}

// New constructs an empty registry. The embedded HTTP client is used only for
// health probing and is shared with the health checker.
func New(probeTimeout time.Duration, log *slog.Logger) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		snap: snapshot{},
		probeClient: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		log: log,
	}
}

// ProbeClient returns the HTTP client reserved for health probes.
func (r *Registry) ProbeClient() *http.Client { return r.probeClient }

// Load replaces the entire mapping. Validation failures abort the swap and
// retain the previous snapshot.
func (r *Registry) Load(defs []*service.Definition) error {
	next := make(snapshot, len(defs))
	for i, d := range defs {
		d.Normalize()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("load entry %d: %w", i, err)
		}
		if _, dup := next[d.Name]; dup {
			return fmt.Errorf("load entry %d: %w: %q", i, ErrDuplicateName, d.Name)
		}
		next[d.Name] = d.Clone()
	}
	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()
	return nil
}

// Reload re-populates the registry from the persistence collaborator. On any
// failure the last-good snapshot stays in place and the error is returned for
// logging; in-flight requests are never affected.
func (r *Registry) Reload(ctx context.Context, src store.Store) error {
	defs, err := src.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("reload: load active services: %w", err)
	}
	if err := r.Load(defs); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	r.log.Info("service registry reloaded", "count", len(defs))
	return nil
}

// Get returns the definition for name, or nil if absent. Never blocks on
// health checks.
func (r *Registry) Get(name string) *service.Definition {
	r.mu.RLock()
	d := r.snap[name]
	r.mu.RUnlock()
	if d == nil {
		return nil
	}
	return d.Clone()
}

// List returns a point-in-time copy of all definitions.
func (r *Registry) List() []*service.Definition {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	out := make([]*service.Definition, 0, len(snap))
	for _, d := range snap {
		out = append(out, d.Clone())
	}
	return out
}

// Len reports the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snap)
}

// Add inserts a definition into the live snapshot. It fails with a
// service.ErrValidation-wrapped error for malformed input and ErrDuplicateName
// when the name is taken; the existing entry is left untouched.
func (r *Registry) Add(def *service.Definition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.snap[def.Name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
	}
	next := make(snapshot, len(r.snap)+1)
	for k, v := range r.snap {
		next[k] = v
	}
	next[def.Name] = def.Clone()
	r.snap = next
	return nil
}

// Remove deletes the named entry, reporting whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snap[name]; !ok {
		return false
	}
	next := make(snapshot, len(r.snap)-1)
	for k, v := range r.snap {
		if k != name {
			next[k] = v
		}
	}
	r.snap = next
	return true
}

// SetHealth records a probe outcome on the live snapshot entry. Missing names
// are ignored: the service may have been removed since the probe started.
func (r *Registry) SetHealth(name string, status service.HealthStatus, checkedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.snap[name]
	if !ok {
		return
	}
	next := make(snapshot, len(r.snap))
	for k, v := range r.snap {
		next[k] = v
	}
	upd := d.Clone()
	upd.HealthStatus = status
	t := checkedAt
	upd.LastHealthCheck = &t
	next[name] = upd
	r.snap = next
}

// Cleanup releases the probe client's pooled connections.
func (r *Registry) Cleanup() {
	if t, ok := r.probeClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
