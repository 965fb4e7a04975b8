package types

// ChangeSet is the unit of an atomic commit.
type ChangeSet struct {
	EntitiesAdded     []*Entity
	EntitiesUpdated   []*Entity
	EntitiesRemoved   []*Entity
	ComponentsAdded   []*Component
	ComponentsUpdated []*Component
	ComponentsRemoved []*Component
}

func (cs ChangeSet) IsEmpty() bool {
	return len(cs.EntitiesAdded)+len(cs.EntitiesUpdated)+len(cs.EntitiesRemoved)+
		len(cs.ComponentsAdded)+len(cs.ComponentsUpdated)+len(cs.ComponentsRemoved) == 0
}

// CommitResult is the applied change set. EntityIDMap maps every renumbered entity's previous id to the id this
// store assigned.
type CommitResult struct {
	ChangeSet
	EntityIDMap map[EntityID]EntityID
}
