// Package reusableid hands out integer ids from a durable counter, preferring ids that were released earlier.
//
// The counter only ever grows. Released ids are kept as free entries keyed by the padded id, so the smallest
// released id is always the first row of the free range. Every operation runs on the store's write queue, which
// is what makes concurrent Get calls safe.
package reusableid

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/statsd"
	"pkg.world.dev/world-engine/entitystore/types"
	"pkg.world.dev/world-engine/entitystore/writequeue"
)

type Allocator struct {
	store        kv.Store
	queue        *writequeue.Queue
	name         string
	counterKey   []byte
	freeRange    kv.Range
	seed         uint64
	defaultValue uint64
}

// New attaches to the named allocator, creating its counter at defaultValue if it does not exist yet. An
// existing counter wins over defaultValue.
func New(
	ctx context.Context, store kv.Store, queue *writequeue.Queue, name string, defaultValue uint64,
) (*Allocator, error) {
	counterKey, err := keys.ReusableIDCounterKey(name)
	if err != nil {
		return nil, err
	}
	freeRange, err := keys.ReusableIDFreeRange(name)
	if err != nil {
		return nil, err
	}
	a := &Allocator{
		store:        store,
		queue:        queue,
		name:         name,
		counterKey:   counterKey,
		freeRange:    freeRange,
		seed:         defaultValue,
		defaultValue: defaultValue,
	}

	err = queue.Submit(ctx, func(ctx context.Context) error {
		raw, err := kv.GetSet(ctx, store, counterKey, formatValue(defaultValue))
		if err != nil {
			return types.NewStoreIOError("reusableid.init", err)
		}
		current, err := parseValue(raw)
		if err != nil {
			return err
		}
		a.defaultValue = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) Name() string {
	return a.name
}

// Get returns the smallest released id if there is one, otherwise the current counter value, advancing the
// counter.
func (a *Allocator) Get(ctx context.Context) (uint64, error) {
	var id uint64
	err := a.queue.Submit(ctx, func(ctx context.Context) error {
		var err error
		id, err = a.get(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	statsd.EmitCount("reusableid.get", 1, "allocator:"+a.name)
	return id, nil
}

// GetMultiple issues n sequential Get calls. The ids are unique but not necessarily contiguous.
func (a *Allocator) GetMultiple(ctx context.Context, n int) ([]uint64, error) {
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		id, err := a.Get(ctx)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Release makes id eligible for reuse. It does not check that id was issued by this allocator.
func (a *Allocator) Release(ctx context.Context, id uint64) error {
	key, err := keys.ReusableIDFreeKey(a.name, id)
	if err != nil {
		return err
	}
	return a.queue.Submit(ctx, func(ctx context.Context) error {
		if err := a.store.Put(ctx, key, formatValue(id)); err != nil {
			return types.NewStoreIOError("reusableid.release", err)
		}
		return nil
	})
}

// Clear discards every released id and returns them.
func (a *Allocator) Clear(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := a.queue.Submit(ctx, func(ctx context.Context) error {
		entries, err := kv.ReadAll(ctx, a.store, a.freeRange)
		if err != nil {
			return types.NewStoreIOError("reusableid.clear", err)
		}
		ops := make([]kv.Op, 0, len(entries))
		for _, e := range entries {
			id, err := parseValue(e.Value)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			ops = append(ops, kv.Delete(e.Key))
		}
		if len(ops) == 0 {
			return nil
		}
		if err := a.store.Batch(ctx, ops); err != nil {
			return types.NewStoreIOError("reusableid.clear", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Reset drops every released id and restarts the counter at the value New was given.
func (a *Allocator) Reset(ctx context.Context) error {
	return a.queue.Submit(ctx, func(ctx context.Context) error {
		entries, err := kv.ReadAll(ctx, a.store, a.freeRange)
		if err != nil {
			return types.NewStoreIOError("reusableid.reset", err)
		}
		ops := make([]kv.Op, 0, len(entries)+1)
		for _, e := range entries {
			ops = append(ops, kv.Delete(e.Key))
		}
		ops = append(ops, kv.Put(a.counterKey, formatValue(a.seed)))
		if err := a.store.Batch(ctx, ops); err != nil {
			return types.NewStoreIOError("reusableid.reset", err)
		}
		a.defaultValue = a.seed
		return nil
	})
}

// Peek returns the value the counter would hand out next, ignoring released ids.
func (a *Allocator) Peek(ctx context.Context) (uint64, error) {
	var next uint64
	err := a.queue.Submit(ctx, func(ctx context.Context) error {
		raw, err := a.store.Get(ctx, a.counterKey)
		if kv.IsNotFound(err) {
			next = a.defaultValue
			return nil
		}
		if err != nil {
			return types.NewStoreIOError("reusableid.peek", err)
		}
		next, err = parseValue(raw)
		return err
	})
	return next, err
}

// get runs on the queue worker.
func (a *Allocator) get(ctx context.Context) (uint64, error) {
	id, ok, err := a.nextFree(ctx)
	if err != nil || ok {
		return id, err
	}

	current := a.defaultValue
	raw, err := a.store.Get(ctx, a.counterKey)
	switch {
	case err == nil:
		if current, err = parseValue(raw); err != nil {
			return 0, err
		}
	case !kv.IsNotFound(err):
		return 0, types.NewStoreIOError("reusableid.get", err)
	}

	if err := a.store.Put(ctx, a.counterKey, formatValue(current+1)); err != nil {
		return 0, types.NewStoreIOError("reusableid.get", err)
	}
	return current, nil
}

func (a *Allocator) nextFree(ctx context.Context) (uint64, bool, error) {
	r := a.freeRange
	r.Limit = 1
	entries, err := kv.ReadAll(ctx, a.store, r)
	if err != nil {
		return 0, false, types.NewStoreIOError("reusableid.get", err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	id, err := parseValue(entries[0].Value)
	if err != nil {
		return 0, false, err
	}
	if err := a.store.Delete(ctx, entries[0].Key); err != nil {
		return 0, false, types.NewStoreIOError("reusableid.get", err)
	}
	return id, true, nil
}

func formatValue(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

func parseValue(raw []byte) (uint64, error) {
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "corrupt reusable id value %q", raw)
	}
	return v, nil
}
