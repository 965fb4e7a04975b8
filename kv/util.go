package kv

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

type Entry struct {
	Key   []byte
	Value []byte
}

// ReadAll drains a scan of r.
func ReadAll(ctx context.Context, reader Reader, r Range) ([]Entry, error) {
	cur, err := reader.Scan(ctx, r)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for cur.Next() {
		out = append(out, Entry{Key: cur.Key(), Value: cur.Value()})
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close()
		return nil, err
	}
	if err := cur.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys returns every key in r without reading values.
func Keys(ctx context.Context, reader Reader, r Range) ([][]byte, error) {
	r.KeysOnly = true
	entries, err := ReadAll(ctx, reader, r)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}

// Count returns the number of keys in r.
func Count(ctx context.Context, reader Reader, r Range) (int, error) {
	r.KeysOnly = true
	cur, err := reader.Scan(ctx, r)
	if err != nil {
		return 0, err
	}
	n := 0
	for cur.Next() {
		n++
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close()
		return 0, err
	}
	return n, cur.Close()
}

// GetSet returns the value stored at key, first writing value there if the key is absent.
func GetSet(ctx context.Context, store Store, key, value []byte) ([]byte, error) {
	existing, err := store.Get(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	if err := store.Put(ctx, key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// IsNotFound reports whether err is a missing key.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound) || errors.Is(err, ErrNotFound)
}
