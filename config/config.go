// Package config loads store settings from the environment.
//
// The config package can match struct fields to environment variables; every field here names its variable
// exactly with a config tag. Variables that are not set keep the defaults of Default.
package config

import (
	"context"
	"os"
	"path/filepath"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/kv/leveldb"
	kvredis "pkg.world.dev/world-engine/entitystore/kv/redis"
	"pkg.world.dev/world-engine/entitystore/log"
	"pkg.world.dev/world-engine/entitystore/statsd"
	"pkg.world.dev/world-engine/entitystore/store"
	"pkg.world.dev/world-engine/entitystore/types"
)

const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
)

type Config struct {
	Backend            string `config:"ENTITYSTORE_BACKEND"`
	Path               string `config:"ENTITYSTORE_PATH"`
	Clear              bool   `config:"ENTITYSTORE_CLEAR"`
	StoreID            uint64 `config:"ENTITYSTORE_ID"`
	ComponentDefIDSeed uint64 `config:"ENTITYSTORE_COMPONENT_DEF_ID_SEED"`
	EntityIDSeed       uint64 `config:"ENTITYSTORE_ENTITY_ID_SEED"`
	ComponentIDSeed    uint64 `config:"ENTITYSTORE_COMPONENT_ID_SEED"`

	RedisAddress   string `config:"REDIS_ADDRESS"`
	RedisPassword  string `config:"REDIS_PASSWORD"`
	RedisNamespace string `config:"REDIS_NAMESPACE"`

	StatsdAddress string `config:"STATSD_ADDRESS"`
	LogLevel      string `config:"LOG_LEVEL"`
	LogPretty     bool   `config:"LOG_PRETTY"`
}

func Default() Config {
	return Config{
		Backend:            BackendLevelDB,
		Path:               filepath.Join(os.TempDir(), "entitystore.ldb"),
		StoreID:            uint64(store.DefaultStoreID),
		ComponentDefIDSeed: store.DefaultComponentDefSeed,
		EntityIDSeed:       store.DefaultEntitySeed,
		ComponentIDSeed:    store.DefaultComponentSeed,
		RedisAddress:       "localhost:6379",
		RedisNamespace:     "entitystore",
		LogLevel:           "info",
	}
}

// Load returns Default overridden by the environment.
func Load() (Config, error) {
	cfg := Default()
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to load config from environment")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendLevelDB:
		if c.Path == "" {
			return eris.New("ENTITYSTORE_PATH must be set for the leveldb backend")
		}
	case BackendRedis:
		if c.RedisAddress == "" {
			return eris.New("REDIS_ADDRESS must be set for the redis backend")
		}
	case BackendMemory:
	default:
		return eris.Errorf("unknown ENTITYSTORE_BACKEND %q", c.Backend)
	}
	return nil
}

// Apply configures global logging and, when an address is set, the statsd client.
func (c Config) Apply() error {
	if err := log.Configure(c.LogLevel, c.LogPretty); err != nil {
		return err
	}
	if c.StatsdAddress == "" {
		return nil
	}
	return statsd.Init(c.StatsdAddress, []string{"backend:" + c.Backend})
}

// OpenKV opens the configured backend.
func (c Config) OpenKV(ctx context.Context) (kv.Store, error) {
	switch c.Backend {
	case BackendLevelDB:
		return leveldb.Open(c.Path, c.Clear)
	case BackendMemory:
		return leveldb.OpenMemory()
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddress,
			Password: c.RedisPassword,
			DB:       0, // use default DB
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, eris.Wrapf(err, "failed to reach redis at %s", c.RedisAddress)
		}
		s := kvredis.New(client, c.RedisNamespace)
		if c.Clear {
			if err := clearKV(ctx, s); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, eris.Errorf("unknown ENTITYSTORE_BACKEND %q", c.Backend)
	}
}

func clearKV(ctx context.Context, s kv.Store) error {
	all, err := kv.Keys(ctx, s, keys.All())
	if err != nil {
		return types.NewStoreIOError("config.clear", err)
	}
	if len(all) == 0 {
		return nil
	}
	ops := make([]kv.Op, len(all))
	for i, k := range all {
		ops[i] = kv.Delete(k)
	}
	return s.Batch(ctx, ops)
}

// StoreOptions turns the id settings into store options.
func (c Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithStoreID(types.StoreID(c.StoreID)),
		store.WithComponentDefIDSeed(c.ComponentDefIDSeed),
		store.WithEntityIDSeed(c.EntityIDSeed),
		store.WithComponentIDSeed(c.ComponentIDSeed),
	}
}

// OpenStore opens the backend and the store on top of it.
func (c Config) OpenStore(ctx context.Context, opts ...store.Option) (*store.Store, error) {
	backend, err := c.OpenKV(ctx)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, backend, append(c.StoreOptions(), opts...)...)
}
