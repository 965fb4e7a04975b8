// Package query runs component membership queries against the entity membership index.
//
// Execute is a pull loop over a range scan of the index. Each row's bitfield is tested against the filter; a row
// that passes is materialized and handed to the predicate before the loop asks the cursor for the next row, so a
// query never has more than one materialization in flight and the cursor is never advanced while one is pending.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkg.world.dev/world-engine/entitystore/filter"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/log"
	"pkg.world.dev/world-engine/entitystore/statsd"
	"pkg.world.dev/world-engine/entitystore/types"
)

var ErrScanAborted = eris.New("query scan aborted")

// ScanAbortedError is returned when a scan is torn down by a failure. Cause is the failure.
type ScanAbortedError struct {
	Cause error
}

func (e *ScanAbortedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrScanAborted.Error(), e.Cause)
}

func (e *ScanAbortedError) Unwrap() error {
	return e.Cause
}

func (e *ScanAbortedError) Is(target error) bool {
	return target == ErrScanAborted //nolint:errorlint // sentinel identity
}

// Source is what a query reads from.
type Source interface {
	filter.Resolver
	Scan(ctx context.Context, r kv.Range) (kv.Cursor, error)
	ReadEntityByID(ctx context.Context, id types.EntityID) (*types.Entity, error)
}

type PredicateContext struct {
	Resolver filter.Resolver
	Entity   *types.Entity
}

// Predicate is evaluated against every materialized candidate. An error aborts the query.
type Predicate func(ctx context.Context, pc PredicateContext) (bool, error)

type Result struct {
	Entities []*types.Entity
	// Scanned counts index rows read, Accepted counts rows that passed the filter (including skipped ones).
	Scanned  int
	Accepted int
}

type state int

const (
	stateScanning state = iota
	statePaused
	stateClosed
)

type options struct {
	limit     int
	offset    int
	predicate Predicate
	observer  Observer
	logger    *zerolog.Logger
	tags      []string
}

type Option func(*options)

// WithLimit stops the scan successfully once n entities have been collected.
func WithLimit(n int) Option {
	return func(o *options) {
		o.limit = n
	}
}

// WithOffset skips the first n rows that pass the filter without materializing them.
func WithOffset(n int) Option {
	return func(o *options) {
		o.offset = n
	}
}

func WithPredicate(p Predicate) Option {
	return func(o *options) {
		o.predicate = p
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTags labels the query's metrics and span with statsd style "key:value" tags.
func WithTags(tags ...string) Option {
	return func(o *options) {
		o.tags = append(o.tags, tags...)
	}
}

type scan struct {
	opts    options
	state   state
	cur     kv.Cursor
	result  *Result
	skipped int
}

// Execute scans the membership index and returns every entity that passes f and the predicate, in index order.
// On any failure the cursor is destroyed and a *ScanAbortedError is returned without partial results.
func Execute(ctx context.Context, src Source, f filter.ComponentFilter, opts ...Option) (*Result, error) {
	o := options{logger: &zlog.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()
	ctx, span := otel.Tracer("query").Start(ctx, "query.execute", trace.WithAttributes(
		append(statsd.TraceAttributes(o.tags), attribute.String("filter", f.String()))...))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		o.logger = log.CreateTraceLogger(o.logger, sc.TraceID().String())
	}

	result, err := execute(ctx, src, f, o)
	statsd.EmitTiming(start, "query", o.tags...)
	if err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, true))
		span.RecordError(err)
		return nil, err
	}
	statsd.EmitCount("query.materialized", int64(len(result.Entities)), o.tags...)
	log.Query(o.logger, zerolog.DebugLevel, f.String(), result.Scanned, len(result.Entities), time.Since(start))
	span.SetAttributes(attribute.Int("scanned", result.Scanned), attribute.Int("matched", len(result.Entities)))
	return result, nil
}

func execute(ctx context.Context, src Source, f filter.ComponentFilter, o options) (*Result, error) {
	matcher := f.Bind(src)
	r := keys.MustRange(keys.EntityIDBitfield)
	r.KeysOnly = true
	cur, err := src.Scan(ctx, r)
	if err != nil {
		return nil, &ScanAbortedError{Cause: types.NewStoreIOError("query.scan", err)}
	}
	s := &scan{opts: o, state: stateScanning, cur: cur, result: &Result{}}

	for s.cur.Next() {
		if err := ctx.Err(); err != nil {
			return nil, s.abort(err)
		}
		id, bf, err := keys.DecodeEntityIDBitfieldKey(s.cur.Key())
		if err != nil {
			return nil, s.abort(err)
		}
		s.result.Scanned++
		s.emit(Event{Type: EventScanned, EntityID: id})

		if !matcher.Accept(bf) {
			s.emit(Event{Type: EventRejected, EntityID: id})
			continue
		}
		s.result.Accepted++
		if s.skipped < o.offset {
			s.skipped++
			s.emit(Event{Type: EventSkipped, EntityID: id})
			continue
		}

		matched, e, err := s.materialize(ctx, src, id)
		if err != nil {
			return nil, s.abort(err)
		}
		if !matched {
			continue
		}
		s.result.Entities = append(s.result.Entities, e)
		s.emit(Event{Type: EventMatched, EntityID: id})
		if o.limit > 0 && len(s.result.Entities) >= o.limit {
			break
		}
	}
	if err := s.cur.Err(); err != nil {
		return nil, s.abort(types.NewStoreIOError("query.scan", err))
	}
	if err := s.close(); err != nil {
		return nil, &ScanAbortedError{Cause: types.NewStoreIOError("query.close", err)}
	}
	return s.result, nil
}

// materialize runs while the scan is paused: the cursor is not advanced until it returns.
func (s *scan) materialize(ctx context.Context, src Source, id types.EntityID) (bool, *types.Entity, error) {
	s.state = statePaused
	s.emit(Event{Type: EventPaused, EntityID: id})
	s.emit(Event{Type: EventMaterializeStart, EntityID: id})

	e, err := src.ReadEntityByID(ctx, id)
	matched := err == nil
	if eris.Is(err, types.ErrEntityNotFound) {
		// removed after its index row was read
		err = nil
	}
	if matched && s.opts.predicate != nil {
		matched, err = s.opts.predicate(ctx, PredicateContext{Resolver: src, Entity: e})
	}
	s.emit(Event{Type: EventMaterializeEnd, EntityID: id, Err: err})
	if err != nil {
		return false, nil, err
	}

	s.state = stateScanning
	s.emit(Event{Type: EventResumed, EntityID: id})
	s.opts.logger.Trace().Uint64("entity_id", uint64(id)).Bool("matched", matched).Msg("query candidate")
	return matched, e, nil
}

// abort destroys the cursor and wraps cause.
func (s *scan) abort(cause error) error {
	if s.state != stateClosed {
		s.state = stateClosed
		_ = s.cur.Close()
		s.emit(Event{Type: EventDestroyed, Err: cause})
	}
	return &ScanAbortedError{Cause: cause}
}

func (s *scan) close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	err := s.cur.Close()
	s.emit(Event{Type: EventClosed})
	return err
}

func (s *scan) emit(ev Event) {
	if s.opts.observer != nil {
		s.opts.observer(ev)
	}
}
