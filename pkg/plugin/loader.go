package plugin

import (
	"fmt"
	"sort"
	"sync"

	xerrors "OpenChat-Bot/internal/errors"
)

// Loader resolves module names into fresh Plugin instances.
type Loader interface {
	Load(name string) (Plugin, error)
}

// Factory creates a new, unloaded plugin instance.
type Factory func() Plugin

// Catalog is a Loader backed by factories compiled into the binary.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (c *Catalog) Register(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// Names lists the available modules in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load instantiates the named module.
func (c *Catalog) Load(name string) (Plugin, error) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	c.mu.RUnlock()
	if !ok || factory == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no module named %s", name))
	}
	p := factory()
	if p == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("module %s factory returned nil", name))
	}
	return p, nil
}
