package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bifrost-gw/bifrost/internal/service"
)

// Memory is a non-persistent store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*service.Definition // keyed by ID
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{items: make(map[string]*service.Definition)}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) LoadActive(context.Context) ([]*service.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []*service.Definition
	for _, d := range m.items {
		if d.IsActive {
			list = append(list, d.Clone())
		}
	}
	return list, nil
}

func (m *Memory) List(context.Context) ([]*service.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*service.Definition, 0, len(m.items))
	for _, d := range m.items {
		list = append(list, d.Clone())
	}
	return list, nil
}

func (m *Memory) Get(_ context.Context, id string) (*service.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.items[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetByName(_ context.Context, name string) (*service.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.items {
		if d.Name == name {
			return d.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Create(_ context.Context, def *service.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.items {
		if d.Name == def.Name {
			return fmt.Errorf("service %q already exists", def.Name)
		}
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	m.items[def.ID] = def.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, def *service.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[def.ID]; !ok {
		return ErrNotFound
	}
	def.UpdatedAt = time.Now()
	m.items[def.ID] = def.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) UpdateHealth(_ context.Context, id string, status service.HealthStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	d.HealthStatus = status
	t := checkedAt
	d.LastHealthCheck = &t
	return nil
}

func (m *Memory) Stats(context.Context) (service.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st service.Stats
	for _, d := range m.items {
		st.Total++
		if d.IsActive {
			st.Active++
		}
		switch d.HealthStatus {
		case service.StatusHealthy:
			st.Healthy++
		case service.StatusUnhealthy:
			st.Unhealthy++
		default:
			st.Unknown++
		}
	}
	return st, nil
}

func (m *Memory) Close() error { return nil }
