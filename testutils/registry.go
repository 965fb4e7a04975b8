package testutils

import (
	"context"
	"sync"

	"pkg.world.dev/world-engine/entitystore/registry"
	"pkg.world.dev/world-engine/entitystore/types"
)

var _ registry.External = &FlakyCatalog{}

// FlakyCatalog is a registry.Catalog whose next registrations fail with ErrInjected.
type FlakyCatalog struct {
	*registry.Catalog

	mu       sync.Mutex
	failures int
}

func NewFlakyCatalog(failures int) *FlakyCatalog {
	return &FlakyCatalog{Catalog: registry.NewCatalog(), failures: failures}
}

func (c *FlakyCatalog) RegisterComponent(ctx context.Context, def *types.ComponentDef) (uint64, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return 0, ErrInjected
	}
	c.mu.Unlock()
	return c.Catalog.RegisterComponent(ctx, def)
}
