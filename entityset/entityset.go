// Package entityset is the entity-level view of a store: it turns "add these components" or "remove that entity"
// into the change sets a store commits.
package entityset

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/entitystore/componentdef"
	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/query"
	"pkg.world.dev/world-engine/entitystore/store"
	"pkg.world.dev/world-engine/entitystore/types"
)

// Store is what an EntitySet needs from its persistence layer.
type Store interface {
	RegisterComponentDef(ctx context.Context, def *types.ComponentDef) (*types.ComponentDef, error)
	Commit(ctx context.Context, cs types.ChangeSet) (*types.CommitResult, error)
	ReadEntityByID(ctx context.Context, id types.EntityID) (*types.Entity, error)
	ReadComponentByID(ctx context.Context, id types.ComponentID) (*types.Component, error)
	Query(ctx context.Context, f filter.ComponentFilter, opts ...query.Option) (*query.Result, error)
	QueryCQL(ctx context.Context, text string, opts ...query.Option) (*query.Result, error)
	Size(ctx context.Context) (int, error)
}

var _ Store = &store.Store{}

type Option func(*EntitySet)

func WithLogger(logger *zerolog.Logger) Option {
	return func(es *EntitySet) {
		es.logger = logger
	}
}

type EntitySet struct {
	store  Store
	logger *zerolog.Logger
}

func New(s Store, opts ...Option) *EntitySet {
	es := &EntitySet{store: s, logger: &zlog.Logger}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

// RegisterComponent registers the def of the Go struct T.
func RegisterComponent[T componentdef.Component](ctx context.Context, es *EntitySet) (*types.ComponentDef, error) {
	def, err := componentdef.Reflect[T]()
	if err != nil {
		return nil, err
	}
	return es.store.RegisterComponentDef(ctx, def)
}

// AddEntities adds entities together with their components.
func (es *EntitySet) AddEntities(ctx context.Context, entities ...*types.Entity) (*types.CommitResult, error) {
	return es.store.Commit(ctx, types.ChangeSet{EntitiesAdded: entities})
}

// AddComponents attaches components to the entities they name. Components that name no entity are put together
// on one new entity. A component replaces the component of the same def uri already on its entity.
func (es *EntitySet) AddComponents(ctx context.Context, components ...*types.Component) (*types.CommitResult, error) {
	var cs types.ChangeSet
	var orphans []*types.Component
	byEntity := map[types.EntityID][]*types.Component{}
	for _, c := range components {
		if c.EntityID == 0 {
			orphans = append(orphans, c)
			continue
		}
		byEntity[c.EntityID] = append(byEntity[c.EntityID], c)
	}

	for _, id := range sortedIDs(byEntity) {
		e, err := es.store.ReadEntityByID(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range byEntity[id] {
			if existing, ok := e.Component(c.DefURI); ok {
				cs.ComponentsRemoved = append(cs.ComponentsRemoved, existing)
			}
			e.AddComponent(c)
			cs.ComponentsAdded = append(cs.ComponentsAdded, c)
		}
		cs.EntitiesUpdated = append(cs.EntitiesUpdated, e)
	}
	if len(orphans) > 0 {
		e := types.NewEntity(orphans...)
		cs.EntitiesAdded = append(cs.EntitiesAdded, e)
		cs.ComponentsAdded = append(cs.ComponentsAdded, orphans...)
	}
	return es.store.Commit(ctx, cs)
}

// RemoveComponents detaches components from their entities. An entity that loses its last component is removed
// and its id released.
func (es *EntitySet) RemoveComponents(ctx context.Context, components ...*types.Component) (*types.CommitResult, error) {
	byEntity := map[types.EntityID][]types.ComponentID{}
	for _, c := range components {
		owner := c.EntityID
		if owner == 0 {
			stored, err := es.store.ReadComponentByID(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			owner = stored.EntityID
		}
		byEntity[owner] = append(byEntity[owner], c.ID)
	}

	var cs types.ChangeSet
	for _, id := range sortedIDs(byEntity) {
		e, err := es.store.ReadEntityByID(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, cid := range byEntity[id] {
			c := removeByID(e, cid)
			if c == nil {
				return nil, eris.Wrapf(types.ErrComponentNotFound, "component %d on entity %d", cid, id)
			}
			cs.ComponentsRemoved = append(cs.ComponentsRemoved, c)
		}
		if len(e.Components) == 0 {
			es.logger.Debug().Uint64("entity_id", uint64(id)).Msg("last component removed, removing entity")
			cs.EntitiesRemoved = append(cs.EntitiesRemoved, e)
			continue
		}
		cs.EntitiesUpdated = append(cs.EntitiesUpdated, e)
	}
	return es.store.Commit(ctx, cs)
}

// RemoveEntities removes entities with all of their components.
func (es *EntitySet) RemoveEntities(ctx context.Context, ids ...types.EntityID) (*types.CommitResult, error) {
	entities := make([]*types.Entity, len(ids))
	for i, id := range ids {
		entities[i] = &types.Entity{ID: id}
	}
	return es.store.Commit(ctx, types.ChangeSet{EntitiesRemoved: entities})
}

func (es *EntitySet) GetEntity(ctx context.Context, id types.EntityID) (*types.Entity, error) {
	return es.store.ReadEntityByID(ctx, id)
}

func (es *EntitySet) Query(ctx context.Context, f filter.ComponentFilter, opts ...query.Option) ([]*types.Entity, error) {
	result, err := es.store.Query(ctx, f, opts...)
	if err != nil {
		return nil, err
	}
	return result.Entities, nil
}

func (es *EntitySet) QueryCQL(ctx context.Context, text string, opts ...query.Option) ([]*types.Entity, error) {
	result, err := es.store.QueryCQL(ctx, text, opts...)
	if err != nil {
		return nil, err
	}
	return result.Entities, nil
}

func (es *EntitySet) Size(ctx context.Context) (int, error) {
	return es.store.Size(ctx)
}

func removeByID(e *types.Entity, id types.ComponentID) *types.Component {
	for _, c := range e.Components {
		if c.ID == id {
			return e.RemoveComponent(c.DefURI)
		}
	}
	return nil
}

func sortedIDs[V any](m map[types.EntityID]V) []types.EntityID {
	ids := make([]types.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
