// Package redis is a kv.Store on top of Redis. Keys are members of a sorted set with equal scores, so
// ZRANGEBYLEX yields them in byte order; values live in a hash. Batches run inside MULTI/EXEC.
package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkg.world.dev/world-engine/entitystore/kv"
)

const defaultPageSize = 128

var _ kv.Store = &Store{}

type Store struct {
	client    *redis.Client
	keysKey   string
	valuesKey string
	pageSize  int
	tracer    trace.Tracer
}

type Option func(*Store)

// WithPageSize sets how many keys a scan fetches per round trip.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New stores every key of the kv store under namespace, so several stores can share one Redis database.
func New(client *redis.Client, namespace string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keysKey:   namespace + ":keys",
		valuesKey: namespace + ":values",
		pageSize:  defaultPageSize,
		tracer:    otel.Tracer("kv.redis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.valuesKey, string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	return s.Batch(ctx, []kv.Op{kv.Put(key, value)})
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.Batch(ctx, []kv.Op{kv.Delete(key)})
}

func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	ctx, span := s.tracer.Start(ctx, "redis.batch", trace.WithAttributes(attribute.Int("ops", len(ops))))
	defer span.End()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			member := string(op.Key)
			switch op.Type {
			case kv.OpPut:
				pipe.ZAdd(ctx, s.keysKey, redis.Z{Score: 0, Member: member})
				pipe.HSet(ctx, s.valuesKey, member, op.Value)
			case kv.OpDelete:
				pipe.ZRem(ctx, s.keysKey, member)
				pipe.HDel(ctx, s.valuesKey, member)
			default:
				return eris.Errorf("unknown batch op %d", op.Type)
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		span.RecordError(err)
		return eris.Wrap(err, "")
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "")
	}
	lo := "-"
	if len(r.Start) > 0 {
		lo = "[" + string(r.Start)
	}
	hi := "+"
	if r.End != nil {
		hi = "(" + string(r.End)
	}
	return &cursor{ctx: ctx, store: s, min: lo, max: hi, limit: r.Limit, keysOnly: r.KeysOnly}, nil
}

// Close releases the client. Closing an already closed client is not an error.
func (s *Store) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return eris.Wrap(err, "")
}

// cursor pages through the sorted set. A page is only fetched when Next runs out of buffered rows.
type cursor struct {
	ctx      context.Context
	store    *Store
	min      string
	max      string
	limit    int
	keysOnly bool

	keys      []string
	values    [][]byte
	pos       int
	n         int
	exhausted bool
	err       error
	closed    bool
}

func (c *cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.limit > 0 && c.n >= c.limit {
		return false
	}
	for c.pos+1 >= len(c.keys) {
		if c.exhausted {
			c.pos = len(c.keys)
			return false
		}
		if err := c.fetch(); err != nil {
			c.err = err
			return false
		}
	}
	c.pos++
	c.n++
	return true
}

func (c *cursor) fetch() error {
	if err := c.ctx.Err(); err != nil {
		return eris.Wrap(err, "")
	}
	count := int64(c.store.pageSize)
	members, err := c.store.client.ZRangeByLex(c.ctx, c.store.keysKey, &redis.ZRangeBy{
		Min:   c.min,
		Max:   c.max,
		Count: count,
	}).Result()
	if err != nil {
		return eris.Wrap(err, "")
	}
	if int64(len(members)) < count {
		c.exhausted = true
	}
	if len(members) > 0 {
		c.min = "(" + members[len(members)-1]
	}

	c.keys = c.keys[:0]
	c.values = c.values[:0]
	c.pos = -1
	if c.keysOnly || len(members) == 0 {
		c.keys = append(c.keys, members...)
		for range members {
			c.values = append(c.values, nil)
		}
		return nil
	}
	raw, err := c.store.client.HMGet(c.ctx, c.store.valuesKey, members...).Result()
	if err != nil {
		return eris.Wrap(err, "")
	}
	for i, member := range members {
		str, ok := raw[i].(string)
		if !ok {
			// deleted between the range read and the value read
			continue
		}
		c.keys = append(c.keys, member)
		c.values = append(c.values, []byte(str))
	}
	return nil
}

func (c *cursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return []byte(c.keys[c.pos])
}

func (c *cursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.values) {
		return nil
	}
	return c.values[c.pos]
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close() error {
	c.closed = true
	return nil
}
