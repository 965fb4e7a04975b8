package types

import (
	"pkg.world.dev/world-engine/entitystore/bitfield"
)

// Entity is a record assembled from components. StoreID is the store that issued ID; an entity carrying another
// store's id (or none) is renumbered when it is committed.
type Entity struct {
	ID         EntityID
	StoreID    StoreID
	Bitfield   *bitfield.Bitfield
	Components []*Component
}

func NewEntity(components ...*Component) *Entity {
	e := &Entity{Bitfield: bitfield.New()}
	for _, c := range components {
		e.AddComponent(c)
	}
	return e
}

// SetID assigns the entity id and propagates it to every attached component.
func (e *Entity) SetID(id EntityID, storeID StoreID) {
	e.ID = id
	e.StoreID = storeID
	for _, c := range e.Components {
		c.EntityID = id
	}
}

// AddComponent attaches c, replacing any component with the same def uri.
func (e *Entity) AddComponent(c *Component) {
	c.EntityID = e.ID
	for i, existing := range e.Components {
		if existing.DefURI == c.DefURI {
			e.Components[i] = c
			return
		}
	}
	e.Components = append(e.Components, c)
}

func (e *Entity) RemoveComponent(uri string) *Component {
	for i, existing := range e.Components {
		if existing.DefURI == uri {
			e.Components = append(e.Components[:i], e.Components[i+1:]...)
			return existing
		}
	}
	return nil
}

func (e *Entity) Component(uri string) (*Component, bool) {
	for _, c := range e.Components {
		if c.DefURI == uri {
			return c, true
		}
	}
	return nil, false
}
