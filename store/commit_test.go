package store_test

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/componentdef"
	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/store"
	"pkg.world.dev/world-engine/entitystore/testutils"
	"pkg.world.dev/world-engine/entitystore/types"
)

type fixture struct {
	store  *store.Store
	pos    *types.ComponentDef
	health *types.ComponentDef
	follow *types.ComponentDef
}

func newFixture(t *testing.T, opts ...store.Option) *fixture {
	s := testutils.NewTestStore(t, opts...)
	return &fixture{
		store:  s,
		pos:    testutils.MustRegister[testutils.Position](t, s),
		health: testutils.MustRegister[testutils.Health](t, s),
		follow: testutils.MustRegister[testutils.Follow](t, s),
	}
}

func (f *fixture) add(t *testing.T, entities ...*types.Entity) *types.CommitResult {
	result, err := f.store.Commit(context.Background(), types.ChangeSet{EntitiesAdded: entities})
	assert.NilError(t, err)
	return result
}

func TestEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := types.NewEntity(
		testutils.MustComponent(t, f.pos, testutils.Position{X: 1.5, Y: -2}),
		testutils.MustComponent(t, f.health, testutils.Health{HP: 10}),
	)
	f.add(t, e)

	got, err := f.store.ReadEntityByID(ctx, e.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.ID, e.ID)
	assert.Equal(t, got.StoreID, f.store.ID())
	assert.Len(t, got.Components, 2)
	assert.Check(t, got.Bitfield.Equal(bitfield.New(uint(f.pos.LocalID), uint(f.health.LocalID))))

	c, ok := got.Component(f.pos.URI)
	assert.True(t, ok)
	assert.Equal(t, c.DefHash, f.pos.Hash)
	assert.Equal(t, c.EntityID, e.ID)
	for _, field := range []string{types.FieldDefURI, types.FieldDefHash, types.FieldEntityID} {
		_, present := c.Data[field]
		assert.False(t, present)
	}
	pos, err := componentdef.Decode[testutils.Position](c)
	assert.NilError(t, err)
	assert.Equal(t, pos, testutils.Position{X: 1.5, Y: -2})

	c, ok = got.Component(f.health.URI)
	assert.True(t, ok)
	health, err := componentdef.Decode[testutils.Health](c)
	assert.NilError(t, err)
	assert.Equal(t, health.HP, 10)

	bf, err := f.store.ReadEntityBitfield(ctx, e.ID)
	assert.NilError(t, err)
	assert.Check(t, bf.Bitfield.Equal(got.Bitfield))
	assert.Len(t, bf.Components, 0)
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.ReadEntityByID(ctx, 999)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	assert.Check(t, types.IsNotFound(err))
	_, err = f.store.ReadEntityBitfield(ctx, 999)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	_, err = f.store.ReadComponentByID(ctx, 999)
	assert.ErrorIs(t, err, types.ErrComponentNotFound)
}

func TestReadComponents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{HP: 1}))
	b := types.NewEntity(
		testutils.MustComponent(t, f.health, testutils.Health{HP: 2}),
		testutils.MustComponent(t, f.pos, testutils.Position{}),
	)
	f.add(t, a, b)

	c, err := f.store.ReadComponentByID(ctx, b.Components[0].ID)
	assert.NilError(t, err)
	assert.Equal(t, c.EntityID, b.ID)
	assert.Equal(t, c.DefURI, f.health.URI)

	all, err := f.store.ReadComponentsByDef(ctx, f.health.Hash)
	assert.NilError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, all[0].EntityID, a.ID)
	assert.Equal(t, all[1].EntityID, b.ID)

	none, err := f.store.ReadComponentsByDef(ctx, f.follow.Hash)
	assert.NilError(t, err)
	assert.Len(t, none, 0)
}

func TestRenumberingRewritesEntityRefs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// entities from another store
	leader := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	leader.SetID(1, 7)
	follower := types.NewEntity(testutils.MustComponent(t, f.follow, testutils.Follow{Target: 1, Distance: 3}))
	follower.SetID(2, 7)

	result := f.add(t, leader, follower)
	assert.DeepEqual(t, result.EntityIDMap, map[types.EntityID]types.EntityID{1: 50, 2: 51})
	assert.Equal(t, leader.ID, types.EntityID(50))
	assert.Equal(t, follower.ID, types.EntityID(51))

	got, err := f.store.ReadEntityByID(ctx, follower.ID)
	assert.NilError(t, err)
	follow, err := componentdef.Decode[testutils.Follow](got.Components[0])
	assert.NilError(t, err)
	assert.Equal(t, follow.Target, leader.ID)
	assert.Equal(t, follow.Distance, 3)
	assert.Equal(t, got.Components[0].EntityID, follower.ID)
}

func TestRenumberingDoesNotChainMappings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// the previous ids overlap the ids this store assigns: 51 becomes 50 and 52 becomes 51
	a := types.NewEntity(testutils.MustComponent(t, f.follow, testutils.Follow{Target: 52}))
	a.SetID(51, 3)
	b := types.NewEntity(testutils.MustComponent(t, f.follow, testutils.Follow{Target: 51}))
	b.SetID(52, 3)

	result := f.add(t, a, b)
	assert.DeepEqual(t, result.EntityIDMap, map[types.EntityID]types.EntityID{51: 50, 52: 51})

	got, err := f.store.ReadComponentByID(ctx, b.Components[0].ID)
	assert.NilError(t, err)
	assert.Equal(t, got.EntityID, b.ID)
	follow, err := componentdef.Decode[testutils.Follow](got)
	assert.NilError(t, err)
	assert.Equal(t, follow.Target, a.ID)

	got, err = f.store.ReadComponentByID(ctx, a.Components[0].ID)
	assert.NilError(t, err)
	assert.Equal(t, got.EntityID, a.ID)
	follow, err = componentdef.Decode[testutils.Follow](got)
	assert.NilError(t, err)
	assert.Equal(t, follow.Target, b.ID)
}

func TestRenumberingLeavesLocalEntitiesAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	local := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{X: 1}))
	f.add(t, local)
	assert.Equal(t, local.ID, types.EntityID(50))

	// a copied entity whose previous id collides with the local one, committed next to a local update
	health := testutils.MustComponent(t, f.health, testutils.Health{HP: 7})
	follow := testutils.MustComponent(t, f.follow, testutils.Follow{Target: 50})
	local.AddComponent(health)
	local.AddComponent(follow)
	copied := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{X: 2}))
	copied.SetID(50, 9)

	result, err := f.store.Commit(ctx, types.ChangeSet{
		EntitiesAdded:   []*types.Entity{copied},
		EntitiesUpdated: []*types.Entity{local},
		ComponentsAdded: []*types.Component{health, follow},
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, result.EntityIDMap, map[types.EntityID]types.EntityID{50: 51})
	assert.Equal(t, copied.ID, types.EntityID(51))
	assert.Equal(t, health.EntityID, local.ID)
	assert.Equal(t, follow.EntityID, local.ID)

	got, err := f.store.ReadEntityByID(ctx, local.ID)
	assert.NilError(t, err)
	assert.Len(t, got.Components, 3)
	stored, err := f.store.ReadEntityBitfield(ctx, local.ID)
	assert.NilError(t, err)
	assert.Check(t, stored.Bitfield.Equal(bitfield.New(
		uint(f.pos.LocalID), uint(f.health.LocalID), uint(f.follow.LocalID))))
	c, err := f.store.ReadComponentByID(ctx, follow.ID)
	assert.NilError(t, err)
	target, err := componentdef.Decode[testutils.Follow](c)
	assert.NilError(t, err)
	assert.Equal(t, target.Target, local.ID)

	got, err = f.store.ReadEntityByID(ctx, copied.ID)
	assert.NilError(t, err)
	assert.Len(t, got.Components, 1)

	withHealth, err := f.store.Query(ctx, filter.Contains(f.health.URI))
	assert.NilError(t, err)
	assert.Len(t, withHealth.Entities, 1)
	assert.Equal(t, withHealth.Entities[0].ID, local.ID)
	assert.Len(t, withHealth.Entities[0].Components, 3)
}

func TestOwnedEntitiesKeepTheirIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{HP: 1}))
	f.add(t, e)
	id := e.ID

	// re-adding an entity this store issued writes it in place
	e.Components[0].Data["hp"] = 5
	result, err := f.store.Commit(ctx, types.ChangeSet{
		EntitiesAdded:     []*types.Entity{e},
		ComponentsUpdated: []*types.Component{e.Components[0]},
	})
	assert.NilError(t, err)
	assert.Equal(t, e.ID, id)
	assert.Len(t, result.EntityIDMap, 0)
}

func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	backend := testutils.NewFaultyMemoryKV(t)
	s := testutils.OpenTestStore(t, backend)
	def := testutils.MustRegister[testutils.Position](t, s)

	backend.FailOn(testutils.OpBatch, nil)
	e := types.NewEntity(
		testutils.MustComponent(t, def, testutils.Position{X: 1}),
	)
	_, err := s.Commit(ctx, types.ChangeSet{EntitiesAdded: []*types.Entity{e}})
	assert.ErrorIs(t, err, types.ErrStoreIO)
	assert.ErrorIs(t, err, testutils.ErrInjected)

	batches := backend.Batches()
	rejected := batches[len(batches)-1]
	assert.Len(t, rejected, 5)
	for _, op := range rejected {
		_, err := backend.Get(ctx, op.Key)
		assert.Check(t, kv.IsNotFound(err), "key %q was written", op.Key)
	}

	n, err := s.Size(ctx)
	assert.NilError(t, err)
	assert.Equal(t, n, 0)

	backend.Heal()
	retry := types.NewEntity(testutils.MustComponent(t, def, testutils.Position{X: 1}))
	_, err = s.Commit(ctx, types.ChangeSet{EntitiesAdded: []*types.Entity{retry}})
	assert.NilError(t, err)
	_, err = s.ReadEntityByID(ctx, retry.ID)
	assert.NilError(t, err)
}

func TestUnknownDefIsRejectedBeforeAllocating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	unknown, err := componentdef.New("/test/unknown", []byte(`{}`))
	assert.NilError(t, err)

	e := types.NewEntity(types.NewComponent(unknown, nil))
	_, err = f.store.Commit(ctx, types.ChangeSet{EntitiesAdded: []*types.Entity{e}})
	assert.ErrorIs(t, err, types.ErrComponentDefNotFound)

	ok := types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{}))
	f.add(t, ok)
	assert.Equal(t, ok.ID, types.EntityID(store.DefaultEntitySeed))
}

func TestComponentByURIUsesLatestVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v2, err := componentdef.New(f.health.URI, []byte(`{"type":"object","properties":{"hp":{},"max":{}}}`))
	assert.NilError(t, err)
	v2, err = f.store.RegisterComponentDef(ctx, v2)
	assert.NilError(t, err)

	c := &types.Component{DefURI: f.health.URI, Data: map[string]any{"hp": 1, "max": 2}}
	e := types.NewEntity(c)
	f.add(t, e)
	assert.Equal(t, c.DefHash, v2.Hash)
	assert.Check(t, e.Bitfield.Has(uint(v2.LocalID)))

	// a filter on the uri matches every version
	old := types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{HP: 1}))
	f.add(t, old)
	result, err := f.store.Query(ctx, filter.Contains(f.health.URI))
	assert.NilError(t, err)
	assert.Len(t, result.Entities, 2)
}

func TestUpdateMovesIndexRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	f.add(t, e)

	health := testutils.MustComponent(t, f.health, testutils.Health{HP: 4})
	e.AddComponent(health)
	_, err := f.store.Commit(ctx, types.ChangeSet{
		EntitiesUpdated: []*types.Entity{e},
		ComponentsAdded: []*types.Component{health},
	})
	assert.NilError(t, err)

	all, err := f.store.Keys(ctx)
	assert.NilError(t, err)
	var rows [][]byte
	for _, k := range all {
		if keys.Split(k)[0] == string(keys.EntityIDBitfield) {
			rows = append(rows, k)
		}
	}
	assert.Len(t, rows, 1)
	_, bf, err := keys.DecodeEntityIDBitfieldKey(rows[0])
	assert.NilError(t, err)
	assert.Check(t, bf.Equal(bitfield.New(uint(f.pos.LocalID), uint(f.health.LocalID))))

	result, err := f.store.Query(ctx, filter.Contains(f.health.URI))
	assert.NilError(t, err)
	assert.Len(t, result.Entities, 1)
}

func TestUpdateUnknownEntityFails(t *testing.T) {
	f := newFixture(t)
	e := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	e.SetID(404, f.store.ID())
	_, err := f.store.Commit(context.Background(), types.ChangeSet{EntitiesUpdated: []*types.Entity{e}})
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
}

func TestComponentUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{HP: 1}))
	f.add(t, e)

	c := e.Components[0]
	c.Data["hp"] = 99
	_, err := f.store.Commit(ctx, types.ChangeSet{ComponentsUpdated: []*types.Component{c}})
	assert.NilError(t, err)

	got, err := f.store.ReadComponentByID(ctx, c.ID)
	assert.NilError(t, err)
	health, err := componentdef.Decode[testutils.Health](got)
	assert.NilError(t, err)
	assert.Equal(t, health.HP, 99)

	byDef, err := f.store.ReadComponentsByDef(ctx, f.health.Hash)
	assert.NilError(t, err)
	assert.Len(t, byDef, 1)
}

func TestRemoveEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := types.NewEntity(
		testutils.MustComponent(t, f.pos, testutils.Position{}),
		testutils.MustComponent(t, f.health, testutils.Health{}),
	)
	keep := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	f.add(t, e, keep)
	componentIDs := []types.ComponentID{e.Components[0].ID, e.Components[1].ID}

	result, err := f.store.Commit(ctx, types.ChangeSet{EntitiesRemoved: []*types.Entity{{ID: e.ID}}})
	assert.NilError(t, err)
	assert.Len(t, result.ComponentsRemoved, 2)

	_, err = f.store.ReadEntityByID(ctx, e.ID)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	_, err = f.store.ReadEntityBitfield(ctx, e.ID)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
	for _, id := range componentIDs {
		_, err = f.store.ReadComponentByID(ctx, id)
		assert.ErrorIs(t, err, types.ErrComponentNotFound)
	}
	n, err := f.store.Size(ctx)
	assert.NilError(t, err)
	assert.Equal(t, n, 1)

	// the released ids are handed out again
	next := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	f.add(t, next)
	assert.Equal(t, next.ID, e.ID)
	assert.Equal(t, next.Components[0].ID, componentIDs[0])

	_, err = f.store.Commit(ctx, types.ChangeSet{EntitiesRemoved: []*types.Entity{{ID: 999}}})
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
}

func TestRemoveComponent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := types.NewEntity(
		testutils.MustComponent(t, f.pos, testutils.Position{}),
		testutils.MustComponent(t, f.health, testutils.Health{}),
	)
	f.add(t, e)

	removed := e.RemoveComponent(f.health.URI)
	_, err := f.store.Commit(ctx, types.ChangeSet{
		EntitiesUpdated:   []*types.Entity{e},
		ComponentsRemoved: []*types.Component{{ID: removed.ID}},
	})
	assert.NilError(t, err)

	got, err := f.store.ReadEntityByID(ctx, e.ID)
	assert.NilError(t, err)
	assert.Len(t, got.Components, 1)
	assert.Check(t, got.Bitfield.Equal(bitfield.New(uint(f.pos.LocalID))))
	_, err = f.store.ReadComponentByID(ctx, removed.ID)
	assert.ErrorIs(t, err, types.ErrComponentNotFound)

	_, err = f.store.Commit(ctx, types.ChangeSet{ComponentsRemoved: []*types.Component{{ID: removed.ID}}})
	assert.ErrorIs(t, err, types.ErrComponentNotFound)
}

func TestCommitEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var events []store.EventType
	unsubscribe := f.store.Subscribe(func(ev store.Event) {
		events = append(events, ev.Type)
	})

	e := types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{}))
	f.add(t, e)
	assert.DeepEqual(t, events, []store.EventType{store.EventEntityAdded, store.EventComponentAdded})

	events = nil
	c := e.Components[0]
	_, err := f.store.Commit(ctx, types.ChangeSet{ComponentsUpdated: []*types.Component{c}})
	assert.NilError(t, err)
	assert.DeepEqual(t, events, []store.EventType{store.EventComponentChanged})

	events = nil
	_, err = f.store.Commit(ctx, types.ChangeSet{EntitiesRemoved: []*types.Entity{e}})
	assert.NilError(t, err)
	assert.DeepEqual(t, events, []store.EventType{store.EventEntityRemoved, store.EventComponentRemoved})

	events = nil
	unsubscribe()
	f.add(t, types.NewEntity(testutils.MustComponent(t, f.pos, testutils.Position{})))
	assert.Len(t, events, 0)
}

func TestFailedCommitEmitsNothing(t *testing.T) {
	ctx := context.Background()
	backend := testutils.NewFaultyMemoryKV(t)
	s := testutils.OpenTestStore(t, backend)
	def := testutils.MustRegister[testutils.Health](t, s)
	fired := 0
	s.Subscribe(func(store.Event) { fired++ })

	backend.FailNext(testutils.OpBatch, nil)
	_, err := s.Commit(ctx, types.ChangeSet{
		EntitiesAdded: []*types.Entity{types.NewEntity(testutils.MustComponent(t, def, testutils.Health{}))},
	})
	assert.ErrorIs(t, err, types.ErrStoreIO)
	assert.Equal(t, fired, 0)
}

func TestConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const n = 20
	entities := make([]*types.Entity, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		entities[i] = types.NewEntity(testutils.MustComponent(t, f.health, testutils.Health{HP: i}))
		g.Go(func() error {
			_, err := f.store.Commit(ctx, types.ChangeSet{EntitiesAdded: []*types.Entity{entities[i]}})
			return err
		})
	}
	assert.NilError(t, g.Wait())

	seen := map[types.EntityID]bool{}
	for _, e := range entities {
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
	}
	size, err := f.store.Size(ctx)
	assert.NilError(t, err)
	assert.Equal(t, size, n)
}
