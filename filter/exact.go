package filter

import "pkg.world.dev/world-engine/entitystore/bitfield"

type exact struct {
	uris []string
}

// Exact matches entities that have all of the components and nothing else.
func Exact(uris ...string) ComponentFilter {
	return &exact{uris: uris}
}

func (f *exact) Bind(r Resolver) Matcher {
	groups := resolve(r, f.uris)
	allowed := bitfield.New()
	for _, g := range groups {
		for _, id := range g {
			allowed.Set(id)
		}
	}
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, g := range groups {
			if !g.in(bf) {
				return false
			}
		}
		return allowed.ContainsAll(bf)
	})
}

func (f *exact) String() string {
	return "EXACT(" + joinURIs(f.uris) + ")"
}
