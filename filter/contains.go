package filter

import "pkg.world.dev/world-engine/entitystore/bitfield"

type contains struct {
	uris []string
}

// Contains matches entities that have every one of the components.
func Contains(uris ...string) ComponentFilter {
	return &contains{uris: uris}
}

func (f *contains) Bind(r Resolver) Matcher {
	groups := resolve(r, f.uris)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, g := range groups {
			if !g.in(bf) {
				return false
			}
		}
		return true
	})
}

func (f *contains) String() string {
	return "CONTAINS(" + joinURIs(f.uris) + ")"
}
