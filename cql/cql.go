// Package cql parses the component query language into filters. A component is named by a bare identifier or a
// quoted def uri:
//
//	CONTAINS("/component/position", velocity) & !ANY(frozen) | EXACT(marker) | NONE(a, b) | ALL()
package cql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/filter"
)

type cqlOperator int

const (
	opAnd cqlOperator = iota
	opOr
)

var operatorMap = map[string]cqlOperator{"&": opAnd, "|": opOr}

// Capture basically tells the parser library how to transform a string token that's parsed into the operator type.
func (o *cqlOperator) Capture(s []string) error {
	if len(s) == 0 {
		return eris.New("invalid operator")
	}
	operator, ok := operatorMap[s[0]]
	if !ok {
		return eris.New("invalid operator")
	}
	*o = operator
	return nil
}

type cqlComponent struct {
	Name string `@(Ident | String)`
}

type cqlAll struct{}

func (a *cqlAll) Capture(values []string) error {
	if values[0] == "ALL" && values[1] == "(" && values[2] == ")" {
		*a = cqlAll{}
	}
	return nil
}

type cqlNot struct {
	SubExpression *cqlValue `"!" @@`
}

type cqlExact struct {
	Components []*cqlComponent `"EXACT" "(" (@@ ",")* @@ ")"`
}

type cqlContains struct {
	Components []*cqlComponent `"CONTAINS" "(" (@@ ",")* @@ ")"`
}

type cqlAny struct {
	Components []*cqlComponent `"ANY" "(" (@@ ",")* @@ ")"`
}

type cqlNone struct {
	Components []*cqlComponent `"NONE" "(" (@@ ",")* @@ ")"`
}

type cqlValue struct {
	All           *cqlAll      `@("ALL" "(" ")")`
	Exact         *cqlExact    `| @@`
	Contains      *cqlContains `| @@`
	Any           *cqlAny      `| @@`
	None          *cqlNone     `| @@`
	Not           *cqlNot      `| @@`
	Subexpression *cqlTerm     `| "(" @@ ")"`
}

type cqlFactor struct {
	Base *cqlValue `@@`
}

type cqlOpFactor struct {
	Operator cqlOperator `@("&" | "|")`
	Factor   *cqlFactor  `@@`
}

type cqlTerm struct {
	Left  *cqlFactor     `@@`
	Right []*cqlOpFactor `@@*`
}

// Display

func (o cqlOperator) String() string {
	switch o {
	case opAnd:
		return "&"
	case opOr:
		return "|"
	}
	panic("unsupported operator")
}

func (a *cqlAll) String() string {
	return "ALL()"
}

func componentList(keyword string, components []*cqlComponent) string {
	names := make([]string, len(components))
	for i, comp := range components {
		names[i] = comp.Name
	}
	return keyword + "(" + strings.Join(names, ", ") + ")"
}

func (e *cqlExact) String() string {
	return componentList("EXACT", e.Components)
}

func (e *cqlContains) String() string {
	return componentList("CONTAINS", e.Components)
}

func (e *cqlAny) String() string {
	return componentList("ANY", e.Components)
}

func (e *cqlNone) String() string {
	return componentList("NONE", e.Components)
}

func (v *cqlValue) String() string {
	switch {
	case v.Exact != nil:
		return v.Exact.String()
	case v.Contains != nil:
		return v.Contains.String()
	case v.Any != nil:
		return v.Any.String()
	case v.None != nil:
		return v.None.String()
	case v.All != nil:
		return v.All.String()
	case v.Not != nil:
		return "!(" + v.Not.SubExpression.String() + ")"
	case v.Subexpression != nil:
		return "(" + v.Subexpression.String() + ")"
	default:
		panic("logic error displaying CQL ast. Check the code in cql.go")
	}
}

func (f *cqlFactor) String() string {
	return f.Base.String()
}

func (o *cqlOpFactor) String() string {
	return fmt.Sprintf("%s %s", o.Operator, o.Factor)
}

func (t *cqlTerm) String() string {
	out := []string{t.Left.String()}
	for _, r := range t.Right {
		out = append(out, r.String())
	}
	return strings.Join(out, " ")
}

var internalCQLParser = participle.MustBuild[cqlTerm]()

// NameResolver maps a name used in a query to a component def uri.
type NameResolver func(name string) (string, error)

func identity(name string) (string, error) {
	return name, nil
}

func componentURIs(keyword string, components []*cqlComponent, resolve NameResolver) ([]string, error) {
	if len(components) == 0 {
		return nil, eris.Errorf("%s cannot have zero parameters", keyword)
	}
	uris := make([]string, 0, len(components))
	for _, comp := range components {
		name := comp.Name
		if strings.HasPrefix(name, `"`) {
			unquoted, err := strconv.Unquote(name)
			if err != nil {
				return nil, eris.Wrapf(err, "invalid component name %s", name)
			}
			name = unquoted
		}
		uri, err := resolve(name)
		if err != nil {
			return nil, eris.Wrap(err, "")
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func valueToComponentFilter(value *cqlValue, resolve NameResolver) (filter.ComponentFilter, error) {
	switch {
	case value.Not != nil:
		resultFilter, err := valueToComponentFilter(value.Not.SubExpression, resolve)
		if err != nil {
			return nil, err
		}
		return filter.Not(resultFilter), nil
	case value.Exact != nil:
		uris, err := componentURIs("EXACT", value.Exact.Components, resolve)
		if err != nil {
			return nil, err
		}
		return filter.Exact(uris...), nil
	case value.Contains != nil:
		uris, err := componentURIs("CONTAINS", value.Contains.Components, resolve)
		if err != nil {
			return nil, err
		}
		return filter.Contains(uris...), nil
	case value.Any != nil:
		uris, err := componentURIs("ANY", value.Any.Components, resolve)
		if err != nil {
			return nil, err
		}
		return filter.Any(uris...), nil
	case value.None != nil:
		uris, err := componentURIs("NONE", value.None.Components, resolve)
		if err != nil {
			return nil, err
		}
		return filter.None(uris...), nil
	case value.All != nil:
		return filter.All(), nil
	case value.Subexpression != nil:
		return termToComponentFilter(value.Subexpression, resolve)
	default:
		return nil, eris.New("unknown error during conversion from CQL AST to ComponentFilter")
	}
}

func termToComponentFilter(term *cqlTerm, resolve NameResolver) (filter.ComponentFilter, error) {
	if term.Left == nil {
		return nil, eris.New("not enough values in expression")
	}
	acc, err := valueToComponentFilter(term.Left.Base, resolve)
	if err != nil {
		return nil, err
	}
	for _, opFactor := range term.Right {
		resultFilter, err := valueToComponentFilter(opFactor.Factor.Base, resolve)
		if err != nil {
			return nil, err
		}
		switch opFactor.Operator {
		case opAnd:
			acc = filter.And(acc, resultFilter)
		case opOr:
			acc = filter.Or(acc, resultFilter)
		default:
			return nil, eris.New("invalid operator")
		}
	}
	return acc, nil
}

// Parse parses cqlText, treating every component name as a def uri.
func Parse(cqlText string) (filter.ComponentFilter, error) {
	return ParseWith(cqlText, identity)
}

// ParseWith parses cqlText, mapping component names to def uris with resolve.
func ParseWith(cqlText string, resolve NameResolver) (filter.ComponentFilter, error) {
	term, err := internalCQLParser.ParseString("", cqlText)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return termToComponentFilter(term, resolve)
}
