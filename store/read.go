package store

import (
	"context"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/codec"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/types"
)

// ReadEntityByID materializes an entity with all of its components. Bookkeeping fields are stripped from the
// component data.
func (s *Store) ReadEntityByID(ctx context.Context, id types.EntityID) (*types.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entries, err := kv.ReadAll(ctx, s.kv, keys.EntityComponentRange(id))
	if err != nil {
		return nil, types.NewStoreIOError("store.read_entity", err)
	}
	if len(entries) == 0 {
		return nil, eris.Wrapf(types.ErrEntityNotFound, "entity %d", id)
	}

	e := &types.Entity{ID: id, StoreID: s.id, Bitfield: bitfield.New()}
	complete := true
	for _, entry := range entries {
		cid, err := keys.LastID(entry.Key)
		if err != nil {
			return nil, err
		}
		c, err := s.decodeComponent(types.ComponentID(cid), entry.Value)
		if err != nil {
			return nil, err
		}
		c.EntityID = id
		e.Components = append(e.Components, c)
		if def, ok := s.registry.GetCachedByHash(c.DefHash); ok {
			e.Bitfield.Set(uint(def.LocalID))
		} else {
			complete = false
		}
	}
	if !complete {
		stored, err := s.ReadEntityBitfield(ctx, id)
		if err != nil {
			return nil, err
		}
		e.Bitfield = stored.Bitfield
	}
	return e, nil
}

// ReadEntityBitfield returns the entity with its bitfield only. It is a single point lookup.
func (s *Store) ReadEntityBitfield(ctx context.Context, id types.EntityID) (*types.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, keys.EntityBitfieldKey(id))
	if kv.IsNotFound(err) {
		return nil, eris.Wrapf(types.ErrEntityNotFound, "entity %d", id)
	}
	if err != nil {
		return nil, types.NewStoreIOError("store.read_bitfield", err)
	}
	bf, err := bitfield.Parse(string(raw))
	if err != nil {
		return nil, err
	}
	return &types.Entity{ID: id, StoreID: s.id, Bitfield: bf}, nil
}

func (s *Store) ReadComponentByID(ctx context.Context, id types.ComponentID) (*types.Component, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, keys.ComponentDataKey(id))
	if kv.IsNotFound(err) {
		return nil, eris.Wrapf(types.ErrComponentNotFound, "component %d", id)
	}
	if err != nil {
		return nil, types.NewStoreIOError("store.read_component", err)
	}
	return s.decodeComponent(id, raw)
}

// ReadComponentsByDef returns every component stored under the def with the given hash, in component id order.
func (s *Store) ReadComponentsByDef(ctx context.Context, hash string) ([]*types.Component, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	r, err := keys.ComponentDefRange(hash)
	if err != nil {
		return nil, err
	}
	entries, err := kv.ReadAll(ctx, s.kv, r)
	if err != nil {
		return nil, types.NewStoreIOError("store.read_components", err)
	}
	out := make([]*types.Component, 0, len(entries))
	for _, entry := range entries {
		cid, err := keys.LastID(entry.Key)
		if err != nil {
			return nil, err
		}
		c, err := s.decodeComponent(types.ComponentID(cid), entry.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) decodeComponent(id types.ComponentID, raw []byte) (*types.Component, error) {
	data, err := codec.DecodePayload(raw)
	if err != nil {
		return nil, err
	}
	c := &types.Component{ID: id}
	if uri, ok := data[types.FieldDefURI].(string); ok {
		c.DefURI = uri
	}
	if hash, ok := data[types.FieldDefHash].(string); ok {
		c.DefHash = hash
	}
	if eid, ok := types.AsEntityID(data[types.FieldEntityID]); ok {
		c.EntityID = eid
	}
	delete(data, types.FieldDefURI)
	delete(data, types.FieldDefHash)
	delete(data, types.FieldEntityID)
	c.Data = data
	return c, nil
}
