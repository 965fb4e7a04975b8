package filter

import "pkg.world.dev/world-engine/entitystore/bitfield"

type anyOf struct {
	uris []string
}

// Any matches entities that have at least one of the components.
func Any(uris ...string) ComponentFilter {
	return &anyOf{uris: uris}
}

func (f *anyOf) Bind(r Resolver) Matcher {
	groups := resolve(r, f.uris)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, g := range groups {
			if g.in(bf) {
				return true
			}
		}
		return false
	})
}

func (f *anyOf) String() string {
	return "ANY(" + joinURIs(f.uris) + ")"
}

type none struct {
	uris []string
}

// None matches entities that have none of the components.
func None(uris ...string) ComponentFilter {
	return &none{uris: uris}
}

func (f *none) Bind(r Resolver) Matcher {
	groups := resolve(r, f.uris)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, g := range groups {
			if g.in(bf) {
				return false
			}
		}
		return true
	})
}

func (f *none) String() string {
	return "NONE(" + joinURIs(f.uris) + ")"
}
