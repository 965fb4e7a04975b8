package filter

import (
	"strings"

	"pkg.world.dev/world-engine/entitystore/bitfield"
)

type and struct {
	filters []ComponentFilter
}

func And(filters ...ComponentFilter) ComponentFilter {
	return &and{filters: filters}
}

func (f *and) Bind(r Resolver) Matcher {
	matchers := bindAll(r, f.filters)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, m := range matchers {
			if !m.Accept(bf) {
				return false
			}
		}
		return true
	})
}

func (f *and) String() string {
	return joinFilters(f.filters, " & ")
}

type or struct {
	filters []ComponentFilter
}

func Or(filters ...ComponentFilter) ComponentFilter {
	return &or{filters: filters}
}

func (f *or) Bind(r Resolver) Matcher {
	matchers := bindAll(r, f.filters)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		for _, m := range matchers {
			if m.Accept(bf) {
				return true
			}
		}
		return false
	})
}

func (f *or) String() string {
	return joinFilters(f.filters, " | ")
}

type not struct {
	filter ComponentFilter
}

func Not(filter ComponentFilter) ComponentFilter {
	return &not{filter: filter}
}

func (f *not) Bind(r Resolver) Matcher {
	m := f.filter.Bind(r)
	return matcherFunc(func(bf *bitfield.Bitfield) bool {
		return !m.Accept(bf)
	})
}

func (f *not) String() string {
	return "!(" + f.filter.String() + ")"
}

func bindAll(r Resolver, filters []ComponentFilter) []Matcher {
	matchers := make([]Matcher, len(filters))
	for i, f := range filters {
		matchers[i] = f.Bind(r)
	}
	return matchers
}

func joinFilters(filters []ComponentFilter, sep string) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
