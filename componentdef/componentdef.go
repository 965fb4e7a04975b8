// Package componentdef builds component definitions: it derives schemas from Go structs, hashes them, finds the
// fields that hold entity references and diffs schema versions.
package componentdef

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
	"github.com/wI2L/jsondiff"

	"pkg.world.dev/world-engine/entitystore/codec"
	"pkg.world.dev/world-engine/entitystore/keys"
	"pkg.world.dev/world-engine/entitystore/types"
)

// EntityRefFormat marks a schema property whose value is an entity id.
const EntityRefFormat = "entity"

// Component is implemented by Go structs that are stored as components. Name is used as the def uri.
type Component interface {
	Name() string
}

var entityIDType = reflect.TypeOf(types.EntityID(0))

// Hash is the content hash of a def: xxhash of the uri and the canonical form of the schema.
func Hash(uri string, schema []byte) (string, error) {
	canonical, err := codec.Canonical(schema)
	if err != nil {
		return "", eris.Wrap(err, "schema is not valid json")
	}
	d := xxhash.New()
	_, _ = d.WriteString(uri)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(canonical)
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// New builds an unregistered def from a raw JSON schema.
func New(uri string, schema []byte) (*types.ComponentDef, error) {
	if uri == "" {
		return nil, eris.New("component definition uri must not be empty")
	}
	if _, err := keys.DefByURIKey(uri); err != nil {
		return nil, err
	}
	canonical, err := codec.Canonical(schema)
	if err != nil {
		return nil, eris.Wrapf(err, "schema of %s is not valid json", uri)
	}
	hash, err := Hash(uri, canonical)
	if err != nil {
		return nil, err
	}
	return &types.ComponentDef{
		URI:          uri,
		Hash:         hash,
		Schema:       canonical,
		RegisteredAt: time.Now().UnixMilli(),
	}, nil
}

// Reflect builds a def from the Go struct T. Fields of type types.EntityID are marked as entity references.
func Reflect[T Component]() (*types.ComponentDef, error) {
	var zero T
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema, err := reflector.Reflect(zero).MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "component must be json serializable")
	}
	schema, err = markEntityRefs(schema, entityRefFieldsOf(reflect.TypeOf(zero)))
	if err != nil {
		return nil, err
	}
	return New(zero.Name(), schema)
}

// EntityRefFields returns the names of the top level properties marked with EntityRefFormat, sorted.
func EntityRefFields(schema []byte) ([]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var doc struct {
		Properties map[string]struct {
			Format string `json:"format"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, eris.Wrap(err, "")
	}
	var fields []string
	for name, prop := range doc.Properties {
		if prop.Format == EntityRefFormat {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields, nil
}

// Diff returns the JSON patch that turns prev into next, or "" when the schemas are equal.
func Diff(prev, next []byte) (string, error) {
	patch, err := jsondiff.CompareJSON(prev, next)
	if err != nil {
		return "", eris.Wrap(err, "")
	}
	return patch.String(), nil
}

// ComponentFrom converts v into a component of def.
func ComponentFrom[T Component](def *types.ComponentDef, v T) (*types.Component, error) {
	bz, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	data, err := codec.DecodePayload(bz)
	if err != nil {
		return nil, err
	}
	return types.NewComponent(def, data), nil
}

// Decode converts a component's data back into T.
func Decode[T Component](c *types.Component) (T, error) {
	bz, err := codec.Encode(c.Data)
	if err != nil {
		var zero T
		return zero, err
	}
	return codec.Decode[T](bz)
}

func entityRefFieldsOf(t reflect.Type) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var fields []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Type != entityIDType {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, name)
	}
	return fields
}

func markEntityRefs(schema []byte, fields []string) ([]byte, error) {
	if len(fields) == 0 {
		return schema, nil
	}
	doc := map[string]any{}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, eris.Wrap(err, "")
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		return schema, nil
	}
	for _, field := range fields {
		prop, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		prop["format"] = EntityRefFormat
	}
	return codec.Encode(doc)
}
