package types

import (
	"strconv"

	"github.com/goccy/go-json"
)

// Bookkeeping fields written next to every stored component payload.
const (
	FieldDefURI   = "_s"
	FieldDefHash  = "_sh"
	FieldEntityID = "_e"
)

// ComponentDef is a registered component schema. Hash identifies it; URI names it across versions.
type ComponentDef struct {
	URI          string          `json:"uri"`
	Hash         string          `json:"hash"`
	Schema       json.RawMessage `json:"schema"`
	RegisteredAt int64           `json:"registeredAt"`
	LocalID      DefID           `json:"localId"`

	// IID is the id an external registry assigned to this def. It equals LocalID when no registry is attached.
	IID uint64 `json:"-"`
}

type Component struct {
	ID       ComponentID
	EntityID EntityID
	DefURI   string
	DefHash  string
	Data     map[string]any
}

func NewComponent(def *ComponentDef, data map[string]any) *Component {
	if data == nil {
		data = map[string]any{}
	}
	return &Component{DefURI: def.URI, DefHash: def.Hash, Data: data}
}

// ToJSON returns the stored form of the component: its data plus the bookkeeping fields.
func (c *Component) ToJSON() map[string]any {
	out := make(map[string]any, len(c.Data)+3)
	for k, v := range c.Data {
		out[k] = v
	}
	out[FieldDefURI] = c.DefURI
	out[FieldDefHash] = c.DefHash
	out[FieldEntityID] = uint64(c.EntityID)
	return out
}

// MapEntityRefs rewrites the entity reference fields listed in fields using idMap. Values not present in idMap
// are left untouched. The owning entity id is not changed; Entity.SetID moves a component with its entity.
func (c *Component) MapEntityRefs(fields []string, idMap map[EntityID]EntityID) {
	if len(idMap) == 0 {
		return
	}
	for _, field := range fields {
		raw, ok := c.Data[field]
		if !ok {
			continue
		}
		id, ok := AsEntityID(raw)
		if !ok {
			continue
		}
		if next, ok := idMap[id]; ok {
			c.Data[field] = uint64(next)
		}
	}
}

// AsEntityID converts a decoded payload value into an entity id.
func AsEntityID(v any) (EntityID, bool) {
	switch n := v.(type) {
	case EntityID:
		return n, true
	case uint64:
		return EntityID(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return EntityID(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return EntityID(n), true
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return EntityID(n), true
	case json.Number:
		id, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return EntityID(id), true
	default:
		return 0, false
	}
}
