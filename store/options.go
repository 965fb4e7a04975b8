package store

import (
	"github.com/rs/zerolog"

	"pkg.world.dev/world-engine/entitystore/registry"
	"pkg.world.dev/world-engine/entitystore/types"
)

const (
	DefaultStoreID          types.StoreID = 1
	DefaultComponentDefSeed uint64        = 100
	DefaultEntitySeed       uint64        = 50
	DefaultComponentSeed    uint64        = 200
)

type options struct {
	storeID          types.StoreID
	componentDefSeed uint64
	entitySeed       uint64
	componentSeed    uint64
	logger           *zerolog.Logger
	external         registry.External
}

// Option configures a Store at Open.
type Option func(*options)

// WithStoreID sets the id written to a new store. A store that already has an id keeps it.
func WithStoreID(id types.StoreID) Option {
	return func(o *options) {
		o.storeID = id
	}
}

// WithEntityIDSeed sets the first entity id a new store hands out. The default is 50.
func WithEntityIDSeed(seed uint64) Option {
	return func(o *options) {
		o.entitySeed = seed
	}
}

// WithComponentIDSeed sets the first component id a new store hands out. The default is 200.
func WithComponentIDSeed(seed uint64) Option {
	return func(o *options) {
		o.componentSeed = seed
	}
}

// WithComponentDefIDSeed sets the first component definition local id a new store hands out. The default is 100.
func WithComponentDefIDSeed(seed uint64) Option {
	return func(o *options) {
		o.componentDefSeed = seed
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistryHook attaches a live component registry. Every def loaded at Open is handed to it, and the ids it
// returns are the ones GetCached resolves.
func WithRegistryHook(ext registry.External) Option {
	return func(o *options) {
		o.external = ext
	}
}

func defaultOptions() options {
	return options{
		storeID:          DefaultStoreID,
		componentDefSeed: DefaultComponentDefSeed,
		entitySeed:       DefaultEntitySeed,
		componentSeed:    DefaultComponentSeed,
	}
}
