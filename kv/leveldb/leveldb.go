// Package leveldb is the goleveldb backed kv.Store.
package leveldb

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"pkg.world.dev/world-engine/entitystore/kv"
)

var _ kv.Store = &Store{}

type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens (or creates) a database directory at path. When clear is set any existing database there is removed
// first.
func Open(path string, clear bool) (*Store, error) {
	if clear {
		if err := os.RemoveAll(path); err != nil {
			return nil, eris.Wrapf(err, "failed to clear %s", path)
		}
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return &Store{db: db, path: path}, nil
}

// OpenMemory opens a database that lives only as long as the returned store.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open in-memory leveldb")
	}
	return &Store{db: db}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "")
	}
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "")
	}
	return eris.Wrap(s.db.Put(key, value, nil), "")
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "")
	}
	return eris.Wrap(s.db.Delete(key, nil), "")
}

// Batch writes ops with a single leveldb.Batch, which goleveldb applies atomically.
func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "")
	}
	batch := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Type {
		case kv.OpPut:
			batch.Put(op.Key, op.Value)
		case kv.OpDelete:
			batch.Delete(op.Key)
		default:
			return eris.Errorf("unknown batch op %d", op.Type)
		}
	}
	return eris.Wrap(s.db.Write(batch, nil), "")
}

func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "")
	}
	it := s.db.NewIterator(&util.Range{Start: r.Start, Limit: r.End}, nil)
	return &cursor{ctx: ctx, it: it, limit: r.Limit, keysOnly: r.KeysOnly}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if errors.Is(err, leveldb.ErrClosed) {
		return nil
	}
	return eris.Wrap(err, "")
}

type cursor struct {
	ctx      context.Context
	it       iterator.Iterator
	limit    int
	keysOnly bool

	n      int
	key    []byte
	value  []byte
	err    error
	closed bool
}

func (c *cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.limit > 0 && c.n >= c.limit {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = eris.Wrap(err, "")
		return false
	}
	if !c.it.Next() {
		if err := c.it.Error(); err != nil {
			c.err = eris.Wrap(err, "")
		}
		return false
	}
	c.n++
	// the iterator reuses its buffers between rows
	c.key = append([]byte(nil), c.it.Key()...)
	if !c.keysOnly {
		c.value = append([]byte(nil), c.it.Value()...)
	}
	return true
}

func (c *cursor) Key() []byte {
	return c.key
}

func (c *cursor) Value() []byte {
	return c.value
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Release()
	return nil
}
