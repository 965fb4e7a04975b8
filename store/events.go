package store

import (
	"pkg.world.dev/world-engine/entitystore/types"
)

type EventType string

const (
	EventComponentDefRegistered EventType = "componentDef:registered"
	EventEntityAdded            EventType = "entity:added"
	EventEntityUpdated          EventType = "entity:updated"
	EventEntityRemoved          EventType = "entity:removed"
	EventComponentAdded         EventType = "component:added"
	EventComponentChanged       EventType = "component:changed"
	EventComponentRemoved       EventType = "component:removed"
)

// Event is emitted synchronously after the change it describes is durable. Exactly one of Def, Entity and
// Component is set.
type Event struct {
	Type      EventType
	Def       *types.ComponentDef
	Entity    *types.Entity
	Component *types.Component
}

type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Subscribe registers fn for every later event and returns a function that removes it. Listeners run on the
// goroutine that made the change, in subscription order.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) emit(ev Event) {
	s.listenersMu.RLock()
	subs := s.listeners
	s.listenersMu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (s *Store) emitCommit(result *types.CommitResult) {
	for _, e := range result.EntitiesAdded {
		s.emit(Event{Type: EventEntityAdded, Entity: e})
	}
	for _, e := range result.EntitiesUpdated {
		s.emit(Event{Type: EventEntityUpdated, Entity: e})
	}
	for _, e := range result.EntitiesRemoved {
		s.emit(Event{Type: EventEntityRemoved, Entity: e})
	}
	for _, c := range result.ComponentsAdded {
		s.emit(Event{Type: EventComponentAdded, Component: c})
	}
	for _, c := range result.ComponentsUpdated {
		s.emit(Event{Type: EventComponentChanged, Component: c})
	}
	for _, c := range result.ComponentsRemoved {
		s.emit(Event{Type: EventComponentRemoved, Component: c})
	}
}
