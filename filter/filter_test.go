package filter_test

import (
	"testing"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/types"
)

// position has two versions (100, 103); the rest have one.
type resolver map[string][]types.DefID

func (r resolver) LocalIDs(uri string) []types.DefID {
	return r[uri]
}

var defs = resolver{
	"/position": {100, 103},
	"/velocity": {101},
	"/name":     {102},
}

type Position struct{}

func (Position) Name() string { return "/position" }

func accept(f filter.ComponentFilter, ids ...uint) bool {
	return f.Bind(defs).Accept(bitfield.New(ids...))
}

func TestContains(t *testing.T) {
	f := filter.Contains("/position", "/velocity")
	assert.True(t, accept(f, 100, 101))
	assert.True(t, accept(f, 103, 101, 102))
	assert.False(t, accept(f, 100))
	assert.False(t, accept(filter.Contains("/unregistered"), 100, 101, 102))
	assert.True(t, accept(filter.Contains(filter.Component[Position]()), 103))
}

func TestAnyNone(t *testing.T) {
	assert.True(t, accept(filter.Any("/velocity", "/name"), 102))
	assert.False(t, accept(filter.Any("/velocity", "/name"), 100))
	assert.True(t, accept(filter.None("/velocity"), 100, 102))
	assert.False(t, accept(filter.None("/position"), 103))
}

func TestExact(t *testing.T) {
	f := filter.Exact("/position", "/velocity")
	assert.True(t, accept(f, 100, 101))
	assert.False(t, accept(f, 100, 101, 102))
	assert.False(t, accept(f, 101))
}

func TestLogic(t *testing.T) {
	f := filter.Or(
		filter.And(filter.Contains("/position"), filter.Not(filter.Contains("/velocity"))),
		filter.Exact("/name"),
	)
	assert.True(t, accept(f, 100))
	assert.False(t, accept(f, 100, 101))
	assert.True(t, accept(f, 102))
	assert.True(t, accept(filter.All()))
	assert.Equal(t, f.String(), "((CONTAINS(/position) & !(CONTAINS(/velocity))) | EXACT(/name))")
}
