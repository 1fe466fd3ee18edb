package store

import (
	"context"
	"errors"
	"time"

	"github.com/bifrost-gw/bifrost/internal/service"
)

// ErrNotFound is returned when no definition matches the given id or name.
var ErrNotFound = errors.New("service not found")

// Store is the persistence collaborator for service definitions. The gateway
// core consumes LoadActive to (re)populate the registry and UpdateHealth to
// persist probe results; the remaining operations back the admin surface.
type Store interface {
	Init(ctx context.Context) error

	// LoadActive returns the definitions eligible for routing.
	LoadActive(ctx context.Context) ([]*service.Definition, error)

	List(ctx context.Context) ([]*service.Definition, error)
	Get(ctx context.Context, id string) (*service.Definition, error)
	GetByName(ctx context.Context, name string) (*service.Definition, error)
	Create(ctx context.Context, def *service.Definition) error
	Update(ctx context.Context, def *service.Definition) error
	Delete(ctx context.Context, id string) error

	// UpdateHealth persists a probe outcome. It never touches routing state.
	UpdateHealth(ctx context.Context, id string, status service.HealthStatus, checkedAt time.Time) error

	Stats(ctx context.Context) (service.Stats, error)

	Close() error
}
