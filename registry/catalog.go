package registry

import (
	"context"
	"sync"

	"pkg.world.dev/world-engine/entitystore/types"
)

var _ External = &Catalog{}

// Catalog is an in-memory External. It hands out ids from 1 in registration order and keeps one id per hash, so
// registering the same def twice yields the same id.
type Catalog struct {
	mu     sync.Mutex
	next   uint64
	byHash map[string]uint64
	byURI  map[string]*types.ComponentDef
}

func NewCatalog() *Catalog {
	return &Catalog{
		next:   1,
		byHash: map[string]uint64{},
		byURI:  map[string]*types.ComponentDef{},
	}
}

func (c *Catalog) RegisterComponent(_ context.Context, def *types.ComponentDef) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if iid, ok := c.byHash[def.Hash]; ok {
		return iid, nil
	}
	iid := c.next
	c.next++
	c.byHash[def.Hash] = iid
	c.byURI[def.URI] = def
	return iid, nil
}

// IID returns the id of the latest def seen for uri.
func (c *Catalog) IID(uri string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.byURI[uri]
	if !ok {
		return 0, false
	}
	return c.byHash[def.Hash], true
}

func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byHash)
}
