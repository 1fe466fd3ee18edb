package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bifrost-gw/bifrost/internal/service"
)

// File reads service definitions from a YAML file and keeps them in memory.
// It backs deployments without a database: health updates and admin mutations
// stay in memory and are lost on restart.
type File struct {
	*Memory
	path string
}

var _ Store = (*File)(nil)

type fileDoc struct {
	Services []*service.Definition `yaml:"services"`
}

func NewFile(path string) *File {
	return &File{Memory: NewMemory(), path: path}
}

// Init loads the file. A malformed or invalid entry fails the whole load so a
// half-read bootstrap never reaches the registry.
func (f *File) Init(ctx context.Context) error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read services file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse services file: %w", err)
	}
	for i, d := range doc.Services {
		d.Normalize()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	for i, d := range doc.Services {
		if err := f.Memory.Create(ctx, d); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return nil
}
