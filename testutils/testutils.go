package testutils

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gotest.tools/v3/assert"

	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/kv/leveldb"
	kvredis "pkg.world.dev/world-engine/entitystore/kv/redis"
)

func SetTestTimeout(t *testing.T, timeout time.Duration) {
	if _, ok := t.Deadline(); ok {
		// A deadline has already been set. Don't add an additional deadline.
		return
	}
	success := make(chan bool)
	t.Cleanup(func() {
		success <- true
	})
	go func() {
		select {
		case <-success:
			// test was successful. Do nothing
		case <-time.After(timeout):
			panic("test timed out")
		}
	}()
}

// NewMemoryKV opens an in-memory goleveldb store that is closed when the test ends.
func NewMemoryKV(t testing.TB) kv.Store {
	s, err := leveldb.OpenMemory()
	assert.NilError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewRedisKV starts a miniredis server and returns a kv store backed by it.
func NewRedisKV(t testing.TB) kv.Store {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr(),
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	store := kvredis.New(client, "entitystore-test")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewFaultyMemoryKV wraps an in-memory store in a FaultyStore.
func NewFaultyMemoryKV(t testing.TB) *FaultyStore {
	return NewFaultyStore(NewMemoryKV(t))
}
