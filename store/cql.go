package store

import (
	"context"
	"path"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/cql"
	"pkg.world.dev/world-engine/entitystore/query"
	"pkg.world.dev/world-engine/entitystore/types"
)

// QueryCQL parses text as a component query and runs it. A component may be named by its def uri or by the last
// segment of the uri when that is unambiguous.
func (s *Store) QueryCQL(ctx context.Context, text string, opts ...query.Option) (*query.Result, error) {
	f, err := cql.ParseWith(text, s.resolveComponentName)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, f, opts...)
}

func (s *Store) resolveComponentName(name string) (string, error) {
	if _, ok := s.registry.GetCachedByURI(name); ok {
		return name, nil
	}
	var match string
	for _, def := range s.registry.Latest() {
		if path.Base(def.URI) != name {
			continue
		}
		if match != "" {
			return "", eris.Errorf("component name %q is ambiguous: %s, %s", name, match, def.URI)
		}
		match = def.URI
	}
	if match == "" {
		return "", eris.Wrapf(types.ErrComponentDefNotFound, "component %q", name)
	}
	return match, nil
}
