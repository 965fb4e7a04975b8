// Package registry keeps the component definitions of one store. Defs are persisted under three indices (local id,
// hash and uri, where the uri entry always holds the latest version) and cached in memory for the commit hot path.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/entitystore/codec"
	"pkg.world.dev/world-engine/entitystore/componentdef"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/log"
	"pkg.world.dev/world-engine/entitystore/reusableid"
	"pkg.world.dev/world-engine/entitystore/types"
	"pkg.world.dev/world-engine/entitystore/writequeue"
)

// External is a live registry outside the store. It is told about every def the store loads or registers and
// answers with its own id for the def.
type External interface {
	RegisterComponent(ctx context.Context, def *types.ComponentDef) (uint64, error)
}

type Option func(*Registry)

func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithExternal(ext External) Option {
	return func(r *Registry) {
		r.external = ext
	}
}

// WithOnRegister sets a callback run after a new def has been persisted.
func WithOnRegister(fn func(*types.ComponentDef)) Option {
	return func(r *Registry) {
		r.onRegister = fn
	}
}

type Registry struct {
	store    kv.Store
	queue    *writequeue.Queue
	ids      *reusableid.Allocator
	logger   *zerolog.Logger
	external External

	onRegister func(*types.ComponentDef)

	// regMu serializes registrations so two callers can never allocate ids for the same hash.
	regMu sync.Mutex

	mu        sync.RWMutex
	byIID     map[uint64]*types.ComponentDef
	byLocalID map[types.DefID]*types.ComponentDef
	byHash    map[string]*types.ComponentDef
	latest    map[string]*types.ComponentDef
	versions  map[string][]types.DefID
	refFields map[string][]string
}

func New(store kv.Store, queue *writequeue.Queue, ids *reusableid.Allocator, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		queue:  queue,
		ids:    ids,
		logger: &zlog.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Reset()
	return r
}

// Reset drops every cached def. Durable state is untouched.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIID = map[uint64]*types.ComponentDef{}
	r.byLocalID = map[types.DefID]*types.ComponentDef{}
	r.byHash = map[string]*types.ComponentDef{}
	r.latest = map[string]*types.ComponentDef{}
	r.versions = map[string][]types.DefID{}
	r.refFields = map[string][]string{}
}

// RegisterIfAbsent persists def unless a def with the same hash exists, in which case the existing def is returned
// and no id is allocated. A new hash under a known uri becomes the latest version of that uri.
func (r *Registry) RegisterIfAbsent(ctx context.Context, def *types.ComponentDef) (*types.ComponentDef, error) {
	registered, _, err := r.register(ctx, def)
	return registered, err
}

// Register is RegisterIfAbsent that fails with types.ErrAlreadyExists when the hash is already registered.
func (r *Registry) Register(ctx context.Context, def *types.ComponentDef) (*types.ComponentDef, error) {
	registered, created, err := r.register(ctx, def)
	if err != nil {
		return nil, err
	}
	if !created {
		return registered, eris.Wrapf(types.ErrAlreadyExists, "%s (%s)", def.URI, def.Hash)
	}
	return registered, nil
}

func (r *Registry) register(ctx context.Context, def *types.ComponentDef) (*types.ComponentDef, bool, error) {
	if def == nil || def.Hash == "" || def.URI == "" {
		return nil, false, eris.New("component definition needs a uri and a hash")
	}
	r.regMu.Lock()
	defer r.regMu.Unlock()

	existing, err := r.GetByHash(ctx, def.Hash)
	if err == nil {
		if cached, ok := r.GetCachedByHash(existing.Hash); ok {
			return cached, false, nil
		}
		// Persisted by a registration that failed before it was cached.
		latest, err := r.GetByURI(ctx, existing.URI)
		if err != nil {
			return nil, false, err
		}
		registered, err := r.admit(ctx, existing, latest.Hash == existing.Hash)
		if err != nil {
			return nil, false, err
		}
		return registered, true, nil
	}
	if !eris.Is(err, types.ErrComponentDefNotFound) {
		return nil, false, err
	}

	id, err := r.ids.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	created := *def
	created.LocalID = types.DefID(id)
	if created.RegisteredAt == 0 {
		created.RegisteredAt = time.Now().UnixMilli()
	}

	if err := r.persist(ctx, &created); err != nil {
		if releaseErr := r.ids.Release(ctx, id); releaseErr != nil {
			r.logger.Warn().Err(releaseErr).Uint64("local_id", id).Msg("failed to release def id")
		}
		return nil, false, err
	}

	registered, err := r.admit(ctx, &created, true)
	if err != nil {
		return nil, false, err
	}
	return registered, true, nil
}

// admit hands a persisted def to the external registry and caches it. A def that fails here stays durable and is
// admitted again by the next registration of its hash.
func (r *Registry) admit(ctx context.Context, def *types.ComponentDef, isLatest bool) (*types.ComponentDef, error) {
	prev, _ := r.GetCachedByURI(def.URI)
	def.IID = uint64(def.LocalID)
	if r.external != nil {
		iid, err := r.external.RegisterComponent(ctx, def)
		if err != nil {
			return nil, eris.Wrapf(err, "external registry rejected %s", def.URI)
		}
		def.IID = iid
	}
	if err := r.cache(def, isLatest); err != nil {
		return nil, err
	}

	log.ComponentDef(r.logger, def, zerolog.InfoLevel)
	if prev != nil && isLatest {
		r.logVersionDiff(prev, def)
	}
	if r.onRegister != nil {
		r.onRegister(def)
	}
	return def, nil
}

func (r *Registry) persist(ctx context.Context, def *types.ComponentDef) error {
	bz, err := codec.Encode(def)
	if err != nil {
		return err
	}
	hashKey, err := keys.DefByHashKey(def.Hash)
	if err != nil {
		return err
	}
	uriKey, err := keys.DefByURIKey(def.URI)
	if err != nil {
		return err
	}
	ops := []kv.Op{
		kv.Put(keys.DefByIDKey(def.LocalID), bz),
		kv.Put(hashKey, bz),
		kv.Put(uriKey, bz),
	}
	return r.queue.Submit(ctx, func(ctx context.Context) error {
		if err := r.store.Batch(ctx, ops); err != nil {
			return types.NewStoreIOError("registry.register", err)
		}
		return nil
	})
}

func (r *Registry) logVersionDiff(prev, next *types.ComponentDef) {
	patch, err := componentdef.Diff(prev.Schema, next.Schema)
	if err != nil {
		r.logger.Warn().Err(err).Str("uri", next.URI).Msg("failed to diff component definition versions")
		return
	}
	r.logger.Info().
		Str("uri", next.URI).
		Uint64("previous_local_id", uint64(prev.LocalID)).
		Uint64("local_id", uint64(next.LocalID)).
		Str("schema_patch", patch).
		Msg("new component definition version")
}

// GetByHash reads the def with the given hash from the store.
func (r *Registry) GetByHash(ctx context.Context, hash string) (*types.ComponentDef, error) {
	key, err := keys.DefByHashKey(hash)
	if err != nil {
		return nil, err
	}
	return r.read(ctx, key, "hash "+hash)
}

// GetByURI reads the latest def registered under uri from the store.
func (r *Registry) GetByURI(ctx context.Context, uri string) (*types.ComponentDef, error) {
	key, err := keys.DefByURIKey(uri)
	if err != nil {
		return nil, err
	}
	return r.read(ctx, key, "uri "+uri)
}

func (r *Registry) read(ctx context.Context, key []byte, what string) (*types.ComponentDef, error) {
	bz, err := r.store.Get(ctx, key)
	if kv.IsNotFound(err) {
		return nil, eris.Wrap(types.ErrComponentDefNotFound, what)
	}
	if err != nil {
		return nil, types.NewStoreIOError("registry.read", err)
	}
	def, err := codec.Decode[types.ComponentDef](bz)
	if err != nil {
		return nil, err
	}
	if cached, ok := r.GetCachedByHash(def.Hash); ok {
		def.IID = cached.IID
	}
	return &def, nil
}

// LoadAll fills the caches from the store. When notify is set each latest def is handed to the external
// registry. It returns the latest version of every uri.
func (r *Registry) LoadAll(ctx context.Context, notify bool) ([]*types.ComponentDef, error) {
	byID, err := kv.ReadAll(ctx, r.store, keys.MustRange(keys.DefByID))
	if err != nil {
		return nil, types.NewStoreIOError("registry.load", err)
	}
	for _, e := range byID {
		def, err := codec.Decode[types.ComponentDef](e.Value)
		if err != nil {
			return nil, err
		}
		def.IID = uint64(def.LocalID)
		if r.external != nil {
			def.IID = 0
		}
		if err := r.cache(&def, false); err != nil {
			return nil, err
		}
	}

	byURI, err := kv.ReadAll(ctx, r.store, keys.MustRange(keys.DefByURI))
	if err != nil {
		return nil, types.NewStoreIOError("registry.load", err)
	}
	latest := make([]*types.ComponentDef, 0, len(byURI))
	for _, e := range byURI {
		stored, err := codec.Decode[types.ComponentDef](e.Value)
		if err != nil {
			return nil, err
		}
		def, ok := r.GetCachedByHash(stored.Hash)
		if !ok {
			def = &stored
		}
		if notify && r.external != nil {
			iid, err := r.external.RegisterComponent(ctx, def)
			if err != nil {
				return nil, eris.Wrapf(err, "external registry rejected %s", def.URI)
			}
			def.IID = iid
		}
		if err := r.cache(def, true); err != nil {
			return nil, err
		}
		latest = append(latest, def)
	}
	log.ComponentDefs(r.logger, latest, zerolog.DebugLevel)
	return latest, nil
}

func (r *Registry) cache(def *types.ComponentDef, isLatest bool) error {
	fields, err := componentdef.EntityRefFields(def.Schema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.byLocalID[def.LocalID]; !seen {
		r.versions[def.URI] = append(r.versions[def.URI], def.LocalID)
	}
	r.byLocalID[def.LocalID] = def
	r.byHash[def.Hash] = def
	r.refFields[def.Hash] = fields
	if def.IID != 0 || r.external == nil {
		r.byIID[def.IID] = def
	}
	if isLatest {
		r.latest[def.URI] = def
	}
	return nil
}

// GetCached looks a def up by the id the external registry gave it (its local id when there is no external
// registry). It never touches the store.
func (r *Registry) GetCached(iid uint64) (*types.ComponentDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byIID[iid]
	return def, ok
}

func (r *Registry) GetCachedByHash(hash string) (*types.ComponentDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byHash[hash]
	return def, ok
}

func (r *Registry) GetCachedByLocalID(id types.DefID) (*types.ComponentDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byLocalID[id]
	return def, ok
}

// GetCachedByURI returns the latest cached version of uri.
func (r *Registry) GetCachedByURI(uri string) (*types.ComponentDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.latest[uri]
	return def, ok
}

// LocalIDs returns the local id of every version registered under uri, oldest first.
func (r *Registry) LocalIDs(uri string) []types.DefID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.DefID(nil), r.versions[uri]...)
}

// EntityRefFields returns the entity reference fields of the def with the given hash.
func (r *Registry) EntityRefFields(hash string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields, ok := r.refFields[hash]
	return fields, ok
}

// Defs returns every cached def version ordered by local id.
func (r *Registry) Defs() []*types.ComponentDef {
	r.mu.RLock()
	defs := make([]*types.ComponentDef, 0, len(r.byLocalID))
	for _, def := range r.byLocalID {
		defs = append(defs, def)
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].LocalID < defs[j].LocalID })
	return defs
}

// Latest returns the latest version of every uri ordered by uri.
func (r *Registry) Latest() []*types.ComponentDef {
	r.mu.RLock()
	defs := make([]*types.ComponentDef, 0, len(r.latest))
	for _, def := range r.latest {
		defs = append(defs, def)
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].URI < defs[j].URI })
	return defs
}
