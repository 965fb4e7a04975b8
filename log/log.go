package log

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/entitystore/types"
)

func loadDefIntoArrayLogger(def *types.ComponentDef, arrayLogger *zerolog.Array) *zerolog.Array {
	dictLogger := zerolog.Dict()
	dictLogger = dictLogger.Uint64("local_id", uint64(def.LocalID))
	dictLogger = dictLogger.Str("uri", def.URI)
	dictLogger = dictLogger.Str("hash", def.Hash)
	return arrayLogger.Dict(dictLogger)
}

func loadDefsToEvent(zeroLoggerEvent *zerolog.Event, defs []*types.ComponentDef) *zerolog.Event {
	defs = append([]*types.ComponentDef(nil), defs...)
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].LocalID < defs[j].LocalID
	})
	zeroLoggerEvent.Int("total_component_defs", len(defs))
	arrayLogger := zerolog.Arr()
	for _, def := range defs {
		arrayLogger = loadDefIntoArrayLogger(def, arrayLogger)
	}
	return zeroLoggerEvent.Array("component_defs", arrayLogger)
}

func loadEntityIntoEvent(zeroLoggerEvent *zerolog.Event, e *types.Entity) *zerolog.Event {
	arrayLogger := zerolog.Arr()
	for _, c := range e.Components {
		dictLogger := zerolog.Dict().
			Uint64("component_id", uint64(c.ID)).
			Str("uri", c.DefURI)
		arrayLogger = arrayLogger.Dict(dictLogger)
	}
	zeroLoggerEvent.Array("components", arrayLogger)
	if e.Bitfield != nil {
		zeroLoggerEvent.Str("bitfield", e.Bitfield.String())
	}
	return zeroLoggerEvent.Uint64("entity_id", uint64(e.ID))
}

// ComponentDefs logs every def in defs ordered by local id.
func ComponentDefs(logger *zerolog.Logger, defs []*types.ComponentDef, level zerolog.Level) {
	zeroLoggerEvent := logger.WithLevel(level)
	loadDefsToEvent(zeroLoggerEvent, defs).Send()
}

// ComponentDef logs a single def registration.
func ComponentDef(logger *zerolog.Logger, def *types.ComponentDef, level zerolog.Level) {
	logger.WithLevel(level).
		Uint64("local_id", uint64(def.LocalID)).
		Str("uri", def.URI).
		Str("hash", def.Hash).
		Msg("component definition registered")
}

// Entity logs an entity and the components attached to it.
func Entity(logger *zerolog.Logger, level zerolog.Level, e *types.Entity) {
	zeroLoggerEvent := logger.WithLevel(level)
	loadEntityIntoEvent(zeroLoggerEvent, e).Send()
}

// Commit logs the size of an applied change set.
func Commit(logger *zerolog.Logger, level zerolog.Level, result *types.CommitResult, elapsed time.Duration) {
	logger.WithLevel(level).
		Int("entities_added", len(result.EntitiesAdded)).
		Int("entities_updated", len(result.EntitiesUpdated)).
		Int("entities_removed", len(result.EntitiesRemoved)).
		Int("components_added", len(result.ComponentsAdded)).
		Int("components_updated", len(result.ComponentsUpdated)).
		Int("components_removed", len(result.ComponentsRemoved)).
		Int("entities_renumbered", len(result.EntityIDMap)).
		Dur("elapsed", elapsed).
		Msg("commit applied")
}

// Query logs the outcome of a query.
func Query(logger *zerolog.Logger, level zerolog.Level, filter string, scanned, matched int, elapsed time.Duration) {
	logger.WithLevel(level).
		Str("filter", filter).
		Int("scanned", scanned).
		Int("matched", matched).
		Dur("elapsed", elapsed).
		Msg("query executed")
}

// CreateStoreLogger creates a Sub Logger with the entry {"store_id" : id}.
func CreateStoreLogger(logger *zerolog.Logger, id types.StoreID) *zerolog.Logger {
	newLogger := logger.With().Uint64("store_id", uint64(id)).Logger()
	return &newLogger
}

// CreateTraceLogger Creates a trace Logger. Using a single id you can use this Logger to follow and log a data path.
func CreateTraceLogger(logger *zerolog.Logger, traceID string) *zerolog.Logger {
	newLogger := logger.With().Str("trace_id", traceID).Logger()
	return &newLogger
}

// Configure sets the global level and the default logger's output. Pretty output uses a console writer.
func Configure(level string, pretty bool) error {
	return configure(os.Stderr, level, pretty)
}

func configure(w io.Writer, level string, pretty bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return eris.Wrapf(err, "invalid log level %q", level)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zlog.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}
