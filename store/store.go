// Package store persists entities and components in an ordered key-value store and answers component membership
// queries over them.
//
// A Store owns its kv.Store, one write queue and three id allocators (component defs, entities and components).
// Every mutation runs on the write queue. Reads go straight to the backend.
package store

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/entitystore/codec"
	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/log"
	"pkg.world.dev/world-engine/entitystore/query"
	"pkg.world.dev/world-engine/entitystore/registry"
	"pkg.world.dev/world-engine/entitystore/reusableid"
	"pkg.world.dev/world-engine/entitystore/types"
	"pkg.world.dev/world-engine/entitystore/writequeue"
)

var ErrStoreClosed = eris.New("store is closed")

var _ query.Source = &Store{}

type Store struct {
	kv       kv.Store
	queue    *writequeue.Queue
	opts     options
	id       types.StoreID
	uuid     atomic.Pointer[string]
	logger   *zerolog.Logger
	registry *registry.Registry

	defIDs       *reusableid.Allocator
	entityIDs    *reusableid.Allocator
	componentIDs *reusableid.Allocator

	listenersMu  sync.RWMutex
	listeners    []subscription
	nextListener int

	closed atomic.Bool
}

// Open attaches to the store held in backend, creating its metadata and allocators when it is new, and loads
// every registered component definition. The Store takes ownership of backend: it is closed on Close, and also
// when Open fails.
func Open(ctx context.Context, backend kv.Store, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		kv:     backend,
		queue:  writequeue.New(),
		opts:   o,
		logger: o.logger,
	}
	if s.logger == nil {
		s.logger = &zlog.Logger
	}

	if err := s.init(ctx); err != nil {
		s.abandon()
		return nil, err
	}
	s.logger = log.CreateStoreLogger(s.logger, s.id)

	s.registry = s.newRegistry()
	defs, err := s.registry.LoadAll(ctx, o.external != nil)
	if err != nil {
		s.abandon()
		return nil, err
	}

	s.logger.Info().Str("uuid", s.UUID()).Int("component_defs", len(defs)).Msg("store opened")
	return s, nil
}

// abandon releases what a failed Open acquired, the backend included.
func (s *Store) abandon() {
	s.queue.Close()
	if err := s.kv.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close backend after a failed open")
	}
}

func (s *Store) newRegistry() *registry.Registry {
	opts := []registry.Option{
		registry.WithLogger(s.logger),
		registry.WithOnRegister(func(def *types.ComponentDef) {
			s.emit(Event{Type: EventComponentDefRegistered, Def: def})
		}),
	}
	if s.opts.external != nil {
		opts = append(opts, registry.WithExternal(s.opts.external))
	}
	return registry.New(s.kv, s.queue, s.defIDs, opts...)
}

// init writes the store metadata if it is missing and attaches the allocators.
func (s *Store) init(ctx context.Context) error {
	err := s.queue.Submit(ctx, func(ctx context.Context) error {
		rawUUID, err := kv.GetSet(ctx, s.kv, keys.MetaUUID, []byte(uuid.NewString()))
		if err != nil {
			return types.NewStoreIOError("store.open", err)
		}
		rawID, err := kv.GetSet(ctx, s.kv, keys.MetaStoreID, []byte(strconv.FormatUint(uint64(s.opts.storeID), 10)))
		if err != nil {
			return types.NewStoreIOError("store.open", err)
		}
		id, err := strconv.ParseUint(string(rawID), 10, 64)
		if err != nil {
			return eris.Wrapf(err, "corrupt store id %q", rawID)
		}
		instance := string(rawUUID)
		s.uuid.Store(&instance)
		s.id = types.StoreID(id)
		return nil
	})
	if err != nil {
		return err
	}
	if s.id != s.opts.storeID {
		s.logger.Warn().
			Uint64("store_id", uint64(s.id)).
			Uint64("requested_store_id", uint64(s.opts.storeID)).
			Msg("store already has an id, ignoring the requested one")
	}

	if s.defIDs, err = reusableid.New(ctx, s.kv, s.queue, keys.AllocComponentDef, s.opts.componentDefSeed); err != nil {
		return err
	}
	if s.entityIDs, err = reusableid.New(ctx, s.kv, s.queue, keys.AllocEntity, s.opts.entitySeed); err != nil {
		return err
	}
	if s.componentIDs, err = reusableid.New(ctx, s.kv, s.queue, keys.AllocComponent, s.opts.componentSeed); err != nil {
		return err
	}
	return nil
}

// Close stops the write queue and closes the backend. Durable state is kept; caches and listeners are dropped.
// Closing twice is a no-op.
func (s *Store) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.queue.Close()
	s.registry.Reset()
	s.listenersMu.Lock()
	s.listeners = nil
	s.listenersMu.Unlock()
	if err := s.kv.Close(); err != nil {
		return types.NewStoreIOError("store.close", err)
	}
	s.logger.Info().Msg("store closed")
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return eris.Wrap(ErrStoreClosed, "")
	}
	return nil
}

func (s *Store) ID() types.StoreID {
	return s.id
}

func (s *Store) UUID() string {
	return *s.uuid.Load()
}

func (s *Store) Logger() *zerolog.Logger {
	return s.logger
}

// metricTags labels the store's metrics and spans.
func (s *Store) metricTags() []string {
	return []string{"store_id:" + strconv.FormatUint(uint64(s.id), 10)}
}

func (s *Store) Registry() *registry.Registry {
	return s.registry
}

// RegisterComponentDef persists def unless a def with the same hash exists, returning the stored def either way.
func (s *Store) RegisterComponentDef(ctx context.Context, def *types.ComponentDef) (*types.ComponentDef, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.registry.RegisterIfAbsent(ctx, def)
}

// ComponentDefs returns the latest version of every registered def, read from the store.
func (s *Store) ComponentDefs(ctx context.Context) ([]*types.ComponentDef, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entries, err := kv.ReadAll(ctx, s.kv, keys.MustRange(keys.DefByURI))
	if err != nil {
		return nil, types.NewStoreIOError("store.component_defs", err)
	}
	defs := make([]*types.ComponentDef, 0, len(entries))
	for _, e := range entries {
		def, err := codec.Decode[types.ComponentDef](e.Value)
		if err != nil {
			return nil, err
		}
		if cached, ok := s.registry.GetCachedByHash(def.Hash); ok {
			def.IID = cached.IID
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// LocalIDs resolves a def uri to the local id of every version registered under it.
func (s *Store) LocalIDs(uri string) []types.DefID {
	return s.registry.LocalIDs(uri)
}

// Scan exposes the backend's range scan.
func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Cursor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.kv.Scan(ctx, r)
}

// Query returns every entity that passes f, in entity id order.
func (s *Store) Query(ctx context.Context, f filter.ComponentFilter, opts ...query.Option) (*query.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	opts = append([]query.Option{query.WithLogger(s.logger), query.WithTags(s.metricTags()...)}, opts...)
	return query.Execute(ctx, s, f, opts...)
}

// Size returns the number of entities.
func (s *Store) Size(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n, err := kv.Count(ctx, s.kv, keys.MustRange(keys.EntityBitfield))
	if err != nil {
		return 0, types.NewStoreIOError("store.size", err)
	}
	return n, nil
}

// Keys returns every key in the store. It is meant for inspection.
func (s *Store) Keys(ctx context.Context) ([][]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	all, err := kv.Keys(ctx, s.kv, keys.All())
	if err != nil {
		return nil, types.NewStoreIOError("store.keys", err)
	}
	return all, nil
}

// Clear deletes every entity, component and def, restarts the id allocators at their seeds and issues a new
// uuid. The store id is kept. It runs as a single write queue task.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	id := uuid.NewString()
	err := s.queue.Submit(ctx, func(ctx context.Context) error {
		all, err := kv.Keys(ctx, s.kv, keys.All())
		if err != nil {
			return types.NewStoreIOError("store.clear", err)
		}
		ops := make([]kv.Op, 0, len(all)+1)
		for _, k := range all {
			if bytes.Equal(k, keys.MetaUUID) || bytes.Equal(k, keys.MetaStoreID) {
				continue
			}
			ops = append(ops, kv.Delete(k))
		}
		ops = append(ops, kv.Put(keys.MetaUUID, []byte(id)))
		if err := s.kv.Batch(ctx, ops); err != nil {
			return types.NewStoreIOError("store.clear", err)
		}
		for _, ids := range []*reusableid.Allocator{s.defIDs, s.entityIDs, s.componentIDs} {
			if err := ids.Reset(ctx); err != nil {
				return err
			}
		}
		s.uuid.Store(&id)
		s.registry.Reset()
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn().Str("uuid", id).Msg("store cleared")
	return nil
}
