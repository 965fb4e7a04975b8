// Package kv defines the ordered key-value store the entity store persists into. Keys are compared bytewise and
// scans yield rows in ascending key order.
package kv

import (
	"context"

	"github.com/rotisserie/eris"
)

var ErrNotFound = eris.New("key not found")

type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

func (t OpType) String() string {
	if t == OpDelete {
		return "del"
	}
	return "put"
}

// Op is one entry of an atomic batch.
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

func Put(key, value []byte) Op {
	return Op{Type: OpPut, Key: key, Value: value}
}

func Delete(key []byte) Op {
	return Op{Type: OpDelete, Key: key}
}

// Range selects the keys k with Start <= k < End. A nil End means no upper bound. Limit caps the number of rows
// returned (0 means unlimited). KeysOnly lets a backend skip loading values.
type Range struct {
	Start    []byte
	End      []byte
	Limit    int
	KeysOnly bool
}

// Cursor is a pull iterator over a range scan. The scan only advances when Next is called, so a consumer can do
// arbitrary work between rows without the backend producing more. Close must be called exactly once; it is safe to
// stop calling Next at any time before that.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

type Reader interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Scan(ctx context.Context, r Range) (Cursor, error)
}

type Writer interface {
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Batch applies every op or none of them.
	Batch(ctx context.Context, ops []Op) error
}

type Store interface {
	Reader
	Writer
	Close() error
}
