package query

import (
	"context"
	"fmt"
)

// AttrEquals matches entities whose component uri has field equal to any of values. Values are compared by their
// printed form, so 5, 5.0 and json.Number("5") are equal.
func AttrEquals(uri, field string, values ...any) Predicate {
	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		want[fmt.Sprint(v)] = struct{}{}
	}
	return func(_ context.Context, pc PredicateContext) (bool, error) {
		c, ok := pc.Entity.Component(uri)
		if !ok {
			return false, nil
		}
		v, ok := c.Data[field]
		if !ok {
			return false, nil
		}
		_, ok = want[fmt.Sprint(v)]
		return ok, nil
	}
}

// And combines predicates; every one must match.
func And(predicates ...Predicate) Predicate {
	return func(ctx context.Context, pc PredicateContext) (bool, error) {
		for _, p := range predicates {
			ok, err := p(ctx, pc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
