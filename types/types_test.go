package types_test

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/types"
)

func TestNotFoundHierarchy(t *testing.T) {
	err := eris.Wrapf(types.ErrEntityNotFound, "entity %d", 7)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	assert.True(t, types.IsNotFound(err))
	assert.True(t, types.IsNotFound(eris.Wrap(types.ErrComponentDefNotFound, "")))
	assert.False(t, types.IsNotFound(types.ErrStoreIO))
	assert.False(t, eris.Is(err, types.ErrComponentNotFound))
}

func TestStoreIOErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := types.NewStoreIOError("batch", cause)
	assert.ErrorIs(t, err, types.ErrStoreIO)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, types.IsStoreIO(err))
	assert.ErrorContains(t, err, "disk on fire")
}

func TestMapEntityRefs(t *testing.T) {
	c := &types.Component{
		EntityID: 1,
		DefURI:   "/follow",
		Data: map[string]any{
			"target": float64(2),
			"other":  json.Number("3"),
			"name":   "unchanged",
			"stray":  uint64(99),
		},
	}
	c.MapEntityRefs([]string{"target", "other", "name", "stray"}, map[types.EntityID]types.EntityID{
		1: 51, 2: 52, 3: 53,
	})
	// the owner moves with its entity, not through the map
	assert.Equal(t, c.EntityID, types.EntityID(1))
	assert.Equal(t, c.Data["target"], any(uint64(52)))
	assert.Equal(t, c.Data["other"], any(uint64(53)))
	assert.Equal(t, c.Data["name"], any("unchanged"))
	assert.Equal(t, c.Data["stray"], any(uint64(99)))
}

func TestEntityComponents(t *testing.T) {
	e := types.NewEntity(
		&types.Component{DefURI: "/a", Data: map[string]any{"v": 1}},
		&types.Component{DefURI: "/b"},
	)
	e.AddComponent(&types.Component{DefURI: "/a", Data: map[string]any{"v": 2}})
	assert.Len(t, e.Components, 2)

	e.SetID(60, 1)
	for _, c := range e.Components {
		assert.Equal(t, c.EntityID, types.EntityID(60))
	}
	a, ok := e.Component("/a")
	assert.True(t, ok)
	assert.Equal(t, a.Data["v"], any(2))

	removed := e.RemoveComponent("/b")
	assert.Equal(t, removed.DefURI, "/b")
	assert.Len(t, e.Components, 1)
	assert.Check(t, e.RemoveComponent("/missing") == nil)
}

func TestToJSONAddsBookkeeping(t *testing.T) {
	c := &types.Component{EntityID: 5, DefURI: "/a", DefHash: "abc", Data: map[string]any{"v": 1}}
	out := c.ToJSON()
	assert.Equal(t, out[types.FieldDefURI], any("/a"))
	assert.Equal(t, out[types.FieldDefHash], any("abc"))
	assert.Equal(t, out[types.FieldEntityID], any(uint64(5)))
	_, leaked := c.Data[types.FieldDefURI]
	assert.False(t, leaked)
}
