package testutils

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"pkg.world.dev/world-engine/entitystore/componentdef"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/store"
	"pkg.world.dev/world-engine/entitystore/types"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Name() string { return "/test/position" }

type Health struct {
	HP int `json:"hp"`
}

func (Health) Name() string { return "/test/health" }

// Follow references another entity.
type Follow struct {
	Target   types.EntityID `json:"target"`
	Distance int            `json:"distance"`
}

func (Follow) Name() string { return "/test/follow" }

// NewTestStore opens a store over an in-memory backend and closes it when the test ends.
func NewTestStore(t testing.TB, opts ...store.Option) *store.Store {
	return OpenTestStore(t, NewMemoryKV(t), opts...)
}

// OpenTestStore opens a store over backend and closes it when the test ends.
func OpenTestStore(t testing.TB, backend kv.Store, opts ...store.Option) *store.Store {
	s, err := store.Open(context.Background(), backend, opts...)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// MustRegister registers the def of T with s.
func MustRegister[T componentdef.Component](t testing.TB, s *store.Store) *types.ComponentDef {
	def, err := componentdef.Reflect[T]()
	assert.NilError(t, err)
	registered, err := s.RegisterComponentDef(context.Background(), def)
	assert.NilError(t, err)
	return registered
}

// MustComponent converts v into a component of def.
func MustComponent[T componentdef.Component](t testing.TB, def *types.ComponentDef, v T) *types.Component {
	c, err := componentdef.ComponentFrom(def, v)
	assert.NilError(t, err)
	return c
}
