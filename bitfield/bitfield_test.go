package bitfield_test

import (
	"testing"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/bitfield"
)

func TestStringRoundTrip(t *testing.T) {
	b := bitfield.New(130, 3, 101)
	assert.Equal(t, b.String(), "3,101,130")

	parsed, err := bitfield.Parse(b.String())
	assert.NilError(t, err)
	assert.True(t, parsed.Equal(b))
	assert.DeepEqual(t, parsed.Values(), []uint{3, 101, 130})
}

func TestEmptyBitfield(t *testing.T) {
	b := bitfield.New()
	assert.Equal(t, b.String(), "")
	assert.True(t, b.IsEmpty())

	parsed, err := bitfield.Parse("")
	assert.NilError(t, err)
	assert.True(t, parsed.IsEmpty())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := bitfield.Parse("1,x,3")
	assert.ErrorContains(t, err, "invalid bitfield member")
}

func TestEqualIgnoresCapacity(t *testing.T) {
	a := bitfield.New(1000).Clear(1000).Set(2)
	b := bitfield.New(2)
	assert.True(t, a.Equal(b))
}

func TestSetOperations(t *testing.T) {
	b := bitfield.New(1, 2, 3)
	assert.True(t, b.ContainsAll(bitfield.New(1, 3)))
	assert.False(t, b.ContainsAll(bitfield.New(1, 4)))
	assert.True(t, b.Overlaps(bitfield.New(3, 9)))
	assert.False(t, b.Overlaps(bitfield.New(9)))
	assert.True(t, b.Intersects(7, 2))
	assert.False(t, b.Intersects())

	clone := b.Clone().Set(9)
	assert.False(t, b.Has(9))
	assert.Equal(t, clone.Count(), 4)
	assert.Equal(t, b.Union(bitfield.New(4)).String(), "1,2,3,4")
}
