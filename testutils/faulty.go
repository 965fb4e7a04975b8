package testutils

import (
	"bytes"
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/kv"
)

// ErrInjected is the default error returned by a FaultyStore.
var ErrInjected = eris.New("injected store failure")

type StoreOp string

const (
	OpGet    StoreOp = "get"
	OpPut    StoreOp = "put"
	OpDelete StoreOp = "delete"
	OpBatch  StoreOp = "batch"
	OpScan   StoreOp = "scan"
	// OpNext fails a cursor row read.
	OpNext StoreOp = "next"
)

type fault struct {
	err       error
	remaining int // <0 means always
	prefix    []byte
}

var _ kv.Store = &FaultyStore{}

// FaultyStore decorates a kv.Store, failing selected operations on demand. It also counts calls and tracks open
// cursors so tests can assert that every scan was closed.
type FaultyStore struct {
	kv.Store

	mu          sync.Mutex
	faults      map[StoreOp]*fault
	calls       map[StoreOp]int
	openCursors int
	batches     [][]kv.Op
	closes      int
}

func NewFaultyStore(inner kv.Store) *FaultyStore {
	return &FaultyStore{
		Store:  inner,
		faults: map[StoreOp]*fault{},
		calls:  map[StoreOp]int{},
	}
}

// FailOn makes every later op fail with err until Heal is called.
func (f *FaultyStore) FailOn(op StoreOp, err error) {
	f.setFault(op, &fault{err: err, remaining: -1})
}

// FailNext makes only the next op fail.
func (f *FaultyStore) FailNext(op StoreOp, err error) {
	f.setFault(op, &fault{err: err, remaining: 1})
}

// FailOnKeyPrefix fails op only when the key (or range start) has the given prefix.
func (f *FaultyStore) FailOnKeyPrefix(op StoreOp, prefix []byte, err error) {
	f.setFault(op, &fault{err: err, remaining: -1, prefix: prefix})
}

func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = map[StoreOp]*fault{}
}

func (f *FaultyStore) Calls(op StoreOp) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyStore) OpenCursors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCursors
}

// Closes counts Close calls.
func (f *FaultyStore) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *FaultyStore) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return f.Store.Close()
}

// Batches returns every batch submitted, including rejected ones.
func (f *FaultyStore) Batches() [][]kv.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]kv.Op(nil), f.batches...)
}

func (f *FaultyStore) setFault(op StoreOp, ft *fault) {
	if ft.err == nil {
		ft.err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = ft
}

func (f *FaultyStore) check(op StoreOp, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	ft, ok := f.faults[op]
	if !ok {
		return nil
	}
	if ft.prefix != nil && !bytes.HasPrefix(key, ft.prefix) {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
		if ft.remaining == 0 {
			delete(f.faults, op)
		}
	}
	return ft.err
}

func (f *FaultyStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := f.check(OpGet, key); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *FaultyStore) Put(ctx context.Context, key, value []byte) error {
	if err := f.check(OpPut, key); err != nil {
		return err
	}
	return f.Store.Put(ctx, key, value)
}

func (f *FaultyStore) Delete(ctx context.Context, key []byte) error {
	if err := f.check(OpDelete, key); err != nil {
		return err
	}
	return f.Store.Delete(ctx, key)
}

func (f *FaultyStore) Batch(ctx context.Context, ops []kv.Op) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]kv.Op(nil), ops...))
	f.mu.Unlock()

	var first []byte
	if len(ops) > 0 {
		first = ops[0].Key
	}
	if err := f.check(OpBatch, first); err != nil {
		return err
	}
	return f.Store.Batch(ctx, ops)
}

func (f *FaultyStore) Scan(ctx context.Context, r kv.Range) (kv.Cursor, error) {
	if err := f.check(OpScan, r.Start); err != nil {
		return nil, err
	}
	cur, err := f.Store.Scan(ctx, r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.openCursors++
	f.mu.Unlock()
	return &faultyCursor{Cursor: cur, store: f}, nil
}

type faultyCursor struct {
	kv.Cursor
	store  *FaultyStore
	err    error
	closed bool
}

func (c *faultyCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.Cursor.Next() {
		return false
	}
	if err := c.store.check(OpNext, c.Cursor.Key()); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *faultyCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.Cursor.Err()
}

func (c *faultyCursor) Close() error {
	if !c.closed {
		c.closed = true
		c.store.mu.Lock()
		c.store.openCursors--
		c.store.mu.Unlock()
	}
	return c.Cursor.Close()
}
