package filter

import "pkg.world.dev/world-engine/entitystore/bitfield"

type all struct{}

// All matches every entity.
func All() ComponentFilter {
	return &all{}
}

func (f *all) Bind(Resolver) Matcher {
	return matcherFunc(func(*bitfield.Bitfield) bool { return true })
}

func (f *all) String() string {
	return "ALL()"
}
