package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/codec"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/log"
	"pkg.world.dev/world-engine/entitystore/statsd"
	"pkg.world.dev/world-engine/entitystore/types"
)

// Commit applies cs as one atomic batch.
//
// Added entities that do not carry an id issued by this store are renumbered; the previous ids are reported in
// the result's EntityIDMap and the entity references inside their components are rewritten to match. Components
// of entities this store already owns are never remapped.
// Components attached to a renumbered entity are added with it even when they are not listed in ComponentsAdded.
// Entity bitfields are derived from the attached components when an entity has any.
//
// Either every write of the commit is applied or none is. On failure the entities and components in cs may
// already carry the ids that were allocated for them; those ids are not reused.
func (s *Store) Commit(ctx context.Context, cs types.ChangeSet) (*types.CommitResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	tags := s.metricTags()
	ctx, span := otel.Tracer("store").Start(ctx, "store.commit", trace.WithAttributes(statsd.TraceAttributes(tags)...))
	span.SetAttributes(
		attribute.Int("entities_added", len(cs.EntitiesAdded)),
		attribute.Int("entities_updated", len(cs.EntitiesUpdated)),
		attribute.Int("entities_removed", len(cs.EntitiesRemoved)),
		attribute.Int("components_added", len(cs.ComponentsAdded)),
		attribute.Int("components_updated", len(cs.ComponentsUpdated)),
		attribute.Int("components_removed", len(cs.ComponentsRemoved)),
	)
	defer span.End()
	logger := s.logger
	if sc := span.SpanContext(); sc.HasTraceID() {
		logger = log.CreateTraceLogger(logger, sc.TraceID().String())
	}

	result, err := s.commit(ctx, cs)
	statsd.EmitTiming(start, "commit", tags...)
	if err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		span.RecordError(err)
		return nil, err
	}
	log.Commit(logger, zerolog.DebugLevel, result, time.Since(start))
	s.emitCommit(result)
	return result, nil
}

func (s *Store) commit(ctx context.Context, cs types.ChangeSet) (*types.CommitResult, error) {
	result := &types.CommitResult{
		ChangeSet: types.ChangeSet{
			EntitiesAdded:     cs.EntitiesAdded,
			EntitiesUpdated:   cs.EntitiesUpdated,
			EntitiesRemoved:   cs.EntitiesRemoved,
			ComponentsAdded:   s.withEntityComponents(cs),
			ComponentsUpdated: cs.ComponentsUpdated,
			ComponentsRemoved: append([]*types.Component(nil), cs.ComponentsRemoved...),
		},
		EntityIDMap: map[types.EntityID]types.EntityID{},
	}
	if result.IsEmpty() {
		return result, nil
	}

	for _, c := range result.ComponentsAdded {
		if err := s.resolveDef(c); err != nil {
			return nil, err
		}
	}
	for _, c := range result.ComponentsUpdated {
		if err := s.resolveDef(c); err != nil {
			return nil, err
		}
	}
	for _, e := range cs.EntitiesUpdated {
		for _, c := range e.Components {
			if err := s.resolveDef(c); err != nil {
				return nil, err
			}
		}
	}

	var fresh []*types.Entity
	for _, e := range cs.EntitiesAdded {
		if e.StoreID != s.id {
			fresh = append(fresh, e)
		}
	}
	entityIDs, err := s.entityIDs.GetMultiple(ctx, len(fresh))
	if err != nil {
		return nil, err
	}
	for i, e := range fresh {
		if e.ID != 0 {
			result.EntityIDMap[e.ID] = types.EntityID(entityIDs[i])
		}
	}

	// References are rewritten before the new ids are assigned so that a new id equal to some previous id is
	// not mapped twice. Only the copied entities' components hold the other store's ids.
	if len(result.EntityIDMap) > 0 {
		for _, e := range fresh {
			for _, c := range e.Components {
				fields, ok := s.registry.EntityRefFields(c.DefHash)
				if !ok {
					return nil, types.NewStoreIOError("store.commit",
						eris.Wrapf(types.ErrComponentDefNotFound, "no schema for %s (%s)", c.DefURI, c.DefHash))
				}
				c.MapEntityRefs(fields, result.EntityIDMap)
			}
		}
	}
	for i, e := range fresh {
		e.SetID(types.EntityID(entityIDs[i]), s.id)
	}

	componentIDs, err := s.componentIDs.GetMultiple(ctx, len(result.ComponentsAdded))
	if err != nil {
		return nil, err
	}
	for i, c := range result.ComponentsAdded {
		c.ID = types.ComponentID(componentIDs[i])
	}

	var released releasedIDs
	err = s.queue.Submit(ctx, func(ctx context.Context) error {
		ops, err := s.stage(ctx, result, &released)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		if err := s.kv.Batch(ctx, ops); err != nil {
			return types.NewStoreIOError("store.commit", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.release(ctx, released)
	return result, nil
}

type releasedIDs struct {
	entities   []types.EntityID
	components []types.ComponentID
}

// release hands the ids of removed entities and components back to their allocators. The removal is already
// durable, so a failure only costs the ids.
func (s *Store) release(ctx context.Context, ids releasedIDs) {
	for _, id := range ids.entities {
		if err := s.entityIDs.Release(ctx, uint64(id)); err != nil {
			s.logger.Warn().Err(err).Uint64("entity_id", uint64(id)).Msg("failed to release entity id")
		}
	}
	for _, id := range ids.components {
		if err := s.componentIDs.Release(ctx, uint64(id)); err != nil {
			s.logger.Warn().Err(err).Uint64("component_id", uint64(id)).Msg("failed to release component id")
		}
	}
}

// stage builds the op list of a commit. It runs on the write queue so the rows it reads cannot change before the
// batch is applied. Deletes come first so a rewritten key is never removed by its own commit.
func (s *Store) stage(ctx context.Context, result *types.CommitResult, released *releasedIDs) ([]kv.Op, error) {
	var deletes, puts []kv.Op
	swept := map[types.ComponentID]bool{}

	for _, e := range result.EntitiesRemoved {
		bf, err := s.storedBitfield(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if bf == nil {
			return nil, eris.Wrapf(types.ErrEntityNotFound, "entity %d", e.ID)
		}
		deletes = append(deletes, kv.Delete(keys.EntityBitfieldKey(e.ID)), kv.Delete(keys.EntityIDBitfieldKey(e.ID, bf)))

		rows, err := kv.ReadAll(ctx, s.kv, keys.EntityComponentRange(e.ID))
		if err != nil {
			return nil, types.NewStoreIOError("store.commit", err)
		}
		for _, row := range rows {
			cid, err := keys.LastID(row.Key)
			if err != nil {
				return nil, err
			}
			c, err := s.decodeComponent(types.ComponentID(cid), row.Value)
			if err != nil {
				return nil, err
			}
			c.EntityID = e.ID
			componentDeletes, err := componentKeys(c)
			if err != nil {
				return nil, err
			}
			deletes = append(deletes, componentDeletes...)
			swept[c.ID] = true
			released.components = append(released.components, c.ID)
			if !listed(result.ComponentsRemoved, c.ID) {
				result.ComponentsRemoved = append(result.ComponentsRemoved, c)
			}
		}
		released.entities = append(released.entities, e.ID)
	}

	for _, c := range result.ComponentsRemoved {
		if swept[c.ID] {
			continue
		}
		stored, err := s.storedComponent(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, eris.Wrapf(types.ErrComponentNotFound, "component %d", c.ID)
		}
		componentDeletes, err := componentKeys(stored)
		if err != nil {
			return nil, err
		}
		deletes = append(deletes, componentDeletes...)
		swept[c.ID] = true
		released.components = append(released.components, c.ID)
	}

	for _, e := range result.EntitiesAdded {
		entityOps, err := s.stageEntity(ctx, e, false)
		if err != nil {
			return nil, err
		}
		puts = append(puts, entityOps...)
	}
	for _, e := range result.EntitiesUpdated {
		entityOps, err := s.stageEntity(ctx, e, true)
		if err != nil {
			return nil, err
		}
		puts = append(puts, entityOps...)
	}

	for _, c := range result.ComponentsAdded {
		componentOps, err := componentPuts(c)
		if err != nil {
			return nil, err
		}
		puts = append(puts, componentOps...)
	}
	for _, c := range result.ComponentsUpdated {
		// a new def version or a new owner leaves rows under the old key behind
		stored, err := s.storedComponent(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil && (stored.DefHash != c.DefHash || stored.EntityID != c.EntityID) {
			staleDeletes, err := componentKeys(stored)
			if err != nil {
				return nil, err
			}
			deletes = append(deletes, staleDeletes...)
		}
		componentOps, err := componentPuts(c)
		if err != nil {
			return nil, err
		}
		puts = append(puts, componentOps...)
	}

	return append(deletes, puts...), nil
}

// stageEntity writes the bitfield and the membership index row of e, deleting the index row of its previous
// bitfield. An updated entity must exist.
func (s *Store) stageEntity(ctx context.Context, e *types.Entity, mustExist bool) ([]kv.Op, error) {
	bf, err := s.bitfieldOf(e)
	if err != nil {
		return nil, err
	}
	prev, err := s.storedBitfield(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if prev == nil && mustExist {
		return nil, eris.Wrapf(types.ErrEntityNotFound, "entity %d", e.ID)
	}
	e.Bitfield = bf

	var ops []kv.Op
	if prev != nil && !prev.Equal(bf) {
		ops = append(ops, kv.Delete(keys.EntityIDBitfieldKey(e.ID, prev)))
	}
	return append(ops,
		kv.Put(keys.EntityBitfieldKey(e.ID), []byte(bf.String())),
		kv.Put(keys.EntityIDBitfieldKey(e.ID, bf), []byte(e.ID.String())),
	), nil
}

// bitfieldOf derives the bitfield from the attached components, falling back to the entity's own bitfield when
// it has none attached.
func (s *Store) bitfieldOf(e *types.Entity) (*bitfield.Bitfield, error) {
	if len(e.Components) == 0 {
		if e.Bitfield == nil {
			return bitfield.New(), nil
		}
		return e.Bitfield.Clone(), nil
	}
	bf := bitfield.New()
	for _, c := range e.Components {
		def, ok := s.registry.GetCachedByHash(c.DefHash)
		if !ok {
			return nil, eris.Wrapf(types.ErrComponentDefNotFound, "%s (%s)", c.DefURI, c.DefHash)
		}
		bf.Set(uint(def.LocalID))
	}
	return bf, nil
}

// resolveDef fills in the def hash of a component that only names its uri, using the latest version.
func (s *Store) resolveDef(c *types.Component) error {
	if c.DefHash != "" {
		def, ok := s.registry.GetCachedByHash(c.DefHash)
		if !ok {
			return eris.Wrapf(types.ErrComponentDefNotFound, "hash %s", c.DefHash)
		}
		c.DefURI = def.URI
		return nil
	}
	def, ok := s.registry.GetCachedByURI(c.DefURI)
	if !ok {
		return eris.Wrapf(types.ErrComponentDefNotFound, "uri %s", c.DefURI)
	}
	c.DefHash = def.Hash
	return nil
}

func (s *Store) storedBitfield(ctx context.Context, id types.EntityID) (*bitfield.Bitfield, error) {
	raw, err := s.kv.Get(ctx, keys.EntityBitfieldKey(id))
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStoreIOError("store.commit", err)
	}
	return bitfield.Parse(string(raw))
}

func (s *Store) storedComponent(ctx context.Context, id types.ComponentID) (*types.Component, error) {
	raw, err := s.kv.Get(ctx, keys.ComponentDataKey(id))
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStoreIOError("store.commit", err)
	}
	return s.decodeComponent(id, raw)
}

func componentKeys(c *types.Component) ([]kv.Op, error) {
	defKey, err := keys.ComponentDefKey(c.DefHash, c.ID)
	if err != nil {
		return nil, err
	}
	return []kv.Op{
		kv.Delete(keys.EntityComponentKey(c.EntityID, c.ID)),
		kv.Delete(keys.ComponentDataKey(c.ID)),
		kv.Delete(defKey),
	}, nil
}

func componentPuts(c *types.Component) ([]kv.Op, error) {
	payload, err := codec.Encode(c.ToJSON())
	if err != nil {
		return nil, err
	}
	defKey, err := keys.ComponentDefKey(c.DefHash, c.ID)
	if err != nil {
		return nil, err
	}
	return []kv.Op{
		kv.Put(keys.EntityComponentKey(c.EntityID, c.ID), payload),
		kv.Put(keys.ComponentDataKey(c.ID), payload),
		kv.Put(defKey, payload),
	}, nil
}

// withEntityComponents returns the added components followed by the components of renumbered entities that the
// change set does not list yet.
func (s *Store) withEntityComponents(cs types.ChangeSet) []*types.Component {
	out := append([]*types.Component(nil), cs.ComponentsAdded...)
	seen := make(map[*types.Component]bool, len(cs.ComponentsAdded)+len(cs.ComponentsUpdated))
	for _, c := range cs.ComponentsAdded {
		seen[c] = true
	}
	for _, c := range cs.ComponentsUpdated {
		seen[c] = true
	}
	for _, e := range cs.EntitiesAdded {
		if e.StoreID == s.id {
			continue
		}
		for _, c := range e.Components {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func listed(components []*types.Component, id types.ComponentID) bool {
	for _, c := range components {
		if c.ID == id {
			return true
		}
	}
	return false
}
