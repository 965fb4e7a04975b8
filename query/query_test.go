package query_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/query"
	"pkg.world.dev/world-engine/entitystore/testutils"
	"pkg.world.dev/world-engine/entitystore/types"
)

const (
	position = "/component/position"
	velocity = "/component/velocity"
)

// fakeSource serves a hand written membership index and records every cursor advance and materialization in one
// log so tests can check their interleaving.
type fakeSource struct {
	store    *testutils.FaultyStore
	entities map[types.EntityID]*types.Entity
	failOn   map[types.EntityID]error

	log         []string
	inFlight    int
	maxInFlight int
	reads       int
}

func (s *fakeSource) LocalIDs(uri string) []types.DefID {
	switch uri {
	case position:
		return []types.DefID{100}
	case velocity:
		return []types.DefID{101}
	}
	return nil
}

func (s *fakeSource) Scan(ctx context.Context, r kv.Range) (kv.Cursor, error) {
	cur, err := s.store.Scan(ctx, r)
	if err != nil {
		return nil, err
	}
	return &loggingCursor{Cursor: cur, src: s}, nil
}

func (s *fakeSource) ReadEntityByID(_ context.Context, id types.EntityID) (*types.Entity, error) {
	s.inFlight++
	defer func() { s.inFlight-- }()
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.reads++
	s.log = append(s.log, fmt.Sprintf("read %d", id))
	if err, ok := s.failOn[id]; ok {
		return nil, err
	}
	e, ok := s.entities[id]
	if !ok {
		return nil, types.ErrEntityNotFound
	}
	return e, nil
}

type loggingCursor struct {
	kv.Cursor
	src *fakeSource
}

func (c *loggingCursor) Next() bool {
	c.src.log = append(c.src.log, "next")
	return c.Cursor.Next()
}

// newSource writes m entities; every third one (ids 0, 3, 6, ...) has position and velocity, the rest only
// velocity.
func newSource(t *testing.T, m int) *fakeSource {
	ctx := context.Background()
	src := &fakeSource{
		store:    testutils.NewFaultyMemoryKV(t),
		entities: map[types.EntityID]*types.Entity{},
		failOn:   map[types.EntityID]error{},
	}
	var ops []kv.Op
	for i := 0; i < m; i++ {
		id := types.EntityID(i)
		bf := bitfield.New(101)
		e := &types.Entity{ID: id, Bitfield: bf}
		e.AddComponent(&types.Component{DefURI: velocity, Data: map[string]any{"speed": i}})
		if i%3 == 0 {
			bf.Set(100)
			e.AddComponent(&types.Component{DefURI: position, Data: map[string]any{"x": i}})
		}
		src.entities[id] = e
		ops = append(ops,
			kv.Put(keys.EntityIDBitfieldKey(id, bf), []byte(id.String())),
			kv.Put(keys.EntityBitfieldKey(id), []byte(bf.String())),
		)
	}
	assert.NilError(t, src.store.Batch(ctx, ops))
	return src
}

func recordEvents(events *[]query.Event) query.Option {
	return query.WithObserver(func(ev query.Event) {
		*events = append(*events, ev)
	})
}

func ids(entities []*types.Entity) []types.EntityID {
	out := make([]types.EntityID, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestOnlyFilterMatchesAreMaterialized(t *testing.T) {
	src := newSource(t, 10)
	var events []query.Event

	result, err := query.Execute(context.Background(), src, filter.Contains(position), recordEvents(&events))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{0, 3, 6, 9})
	assert.Equal(t, result.Scanned, 10)
	assert.Equal(t, src.reads, 4)
	assert.Equal(t, src.maxInFlight, 1)
	assert.Equal(t, src.store.OpenCursors(), 0)

	// the cursor is never advanced between a read and the row that triggered it
	for i, entry := range src.log {
		if entry == "next" || i == 0 {
			continue
		}
		assert.Equal(t, src.log[i-1], "next", "read without a preceding row at %d: %v", i, src.log)
	}

	// every pause is resumed exactly once before the next row is scanned
	paused := false
	for _, ev := range events {
		switch ev.Type {
		case query.EventPaused:
			assert.False(t, paused)
			paused = true
		case query.EventResumed:
			assert.True(t, paused)
			paused = false
		case query.EventScanned:
			assert.False(t, paused)
		}
	}
	assert.Equal(t, events[len(events)-1].Type, query.EventClosed)
}

func TestLimit(t *testing.T) {
	src := newSource(t, 10)
	var events []query.Event

	result, err := query.Execute(context.Background(), src, filter.Contains(velocity),
		query.WithLimit(3), recordEvents(&events))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{0, 1, 2})
	assert.Equal(t, src.reads, 3)
	assert.Equal(t, src.store.OpenCursors(), 0)

	closed := 0
	for _, ev := range events {
		if ev.Type == query.EventClosed {
			closed++
		}
		assert.Check(t, ev.Type != query.EventDestroyed)
	}
	assert.Equal(t, closed, 1)
}

func TestOffsetSkipsWithoutMaterializing(t *testing.T) {
	src := newSource(t, 10)

	result, err := query.Execute(context.Background(), src, filter.Contains(position), query.WithOffset(2))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{6, 9})
	assert.Equal(t, src.reads, 2)
	assert.Equal(t, result.Accepted, 4)

	src = newSource(t, 10)
	result, err = query.Execute(context.Background(), src, filter.All(), query.WithOffset(1), query.WithLimit(2))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{1, 2})
}

func TestMaterializationFailureAbortsScan(t *testing.T) {
	src := newSource(t, 10)
	boom := errors.New("materialization failed")
	src.failOn[6] = boom
	var events []query.Event

	result, err := query.Execute(context.Background(), src, filter.Contains(position), recordEvents(&events))
	assert.Check(t, result == nil)
	assert.ErrorIs(t, err, query.ErrScanAborted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, src.store.OpenCursors(), 0)

	// nothing is read from the cursor after the failing candidate
	assert.Equal(t, src.log[len(src.log)-1], "read 6")
	destroyed := 0
	for _, ev := range events {
		assert.Check(t, ev.Type != query.EventClosed)
		if ev.Type == query.EventDestroyed {
			destroyed++
		}
	}
	assert.Equal(t, destroyed, 1)
	assert.Equal(t, events[len(events)-1].Type, query.EventDestroyed)
}

func TestPredicateFailureAbortsScan(t *testing.T) {
	src := newSource(t, 4)
	boom := errors.New("predicate failed")
	_, err := query.Execute(context.Background(), src, filter.All(),
		query.WithPredicate(func(_ context.Context, pc query.PredicateContext) (bool, error) {
			if pc.Entity.ID == 2 {
				return false, boom
			}
			return true, nil
		}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, src.reads, 3)
	assert.Equal(t, src.store.OpenCursors(), 0)
}

func TestScanFailureAbortsScan(t *testing.T) {
	src := newSource(t, 10)
	src.store.FailOnKeyPrefix(testutils.OpNext, keys.EntityIDBitfieldKey(4, bitfield.New(101)), nil)

	_, err := query.Execute(context.Background(), src, filter.All())
	assert.ErrorIs(t, err, query.ErrScanAborted)
	assert.ErrorIs(t, err, types.ErrStoreIO)
	assert.ErrorIs(t, err, testutils.ErrInjected)
	assert.Equal(t, src.reads, 4)
	assert.Equal(t, src.store.OpenCursors(), 0)
}

func TestAttrEquals(t *testing.T) {
	src := newSource(t, 10)
	result, err := query.Execute(context.Background(), src, filter.Contains(position),
		query.WithPredicate(query.AttrEquals(position, "x", 3, 9)))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{3, 9})

	result, err = query.Execute(context.Background(), src, filter.All(),
		query.WithPredicate(query.And(
			query.AttrEquals(velocity, "speed", 1, 2, 3),
			query.AttrEquals(position, "x", 3),
		)))
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{3})
}

func TestVanishedEntityIsSkipped(t *testing.T) {
	src := newSource(t, 4)
	delete(src.entities, 1)
	result, err := query.Execute(context.Background(), src, filter.All())
	assert.NilError(t, err)
	assert.DeepEqual(t, ids(result.Entities), []types.EntityID{0, 2, 3})
}

func TestCancelledContextAbortsScan(t *testing.T) {
	src := newSource(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := query.Execute(ctx, src, filter.All(),
		query.WithPredicate(func(_ context.Context, pc query.PredicateContext) (bool, error) {
			if pc.Entity.ID == 1 {
				cancel()
			}
			return true, nil
		}))
	assert.ErrorIs(t, err, query.ErrScanAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, src.store.OpenCursors(), 0)
}
