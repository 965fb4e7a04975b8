// Package filter decides, from an entity's bitfield alone, whether the entity's set of components matches a query.
package filter

import (
	"strings"

	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/componentdef"
	"pkg.world.dev/world-engine/entitystore/types"
)

// Resolver translates a component def uri into the local ids of every registered version of it.
type Resolver interface {
	LocalIDs(uri string) []types.DefID
}

// Matcher tests bitfields. It is produced by binding a filter to a Resolver.
type Matcher interface {
	Accept(bf *bitfield.Bitfield) bool
}

// ComponentFilter is a filter that filters entities based on their components. Components are named by def uri;
// a uri matches any of its versions.
type ComponentFilter interface {
	Bind(r Resolver) Matcher
	String() string
}

// Component returns the uri of the component type T.
func Component[T componentdef.Component]() string {
	var x T
	return x.Name()
}

type matcherFunc func(bf *bitfield.Bitfield) bool

func (f matcherFunc) Accept(bf *bitfield.Bitfield) bool {
	return f(bf)
}

// group is the set of local ids of one uri.
type group []uint

func resolve(r Resolver, uris []string) []group {
	groups := make([]group, len(uris))
	for i, uri := range uris {
		ids := r.LocalIDs(uri)
		g := make(group, len(ids))
		for j, id := range ids {
			g[j] = uint(id)
		}
		groups[i] = g
	}
	return groups
}

func (g group) in(bf *bitfield.Bitfield) bool {
	return bf.Intersects(g...)
}

func joinURIs(uris []string) string {
	return strings.Join(uris, ", ")
}
