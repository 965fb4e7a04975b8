package query

import "pkg.world.dev/world-engine/entitystore/types"

type EventType int

const (
	// EventScanned fires for every index row read.
	EventScanned EventType = iota
	EventRejected
	EventSkipped
	EventPaused
	EventMaterializeStart
	EventMaterializeEnd
	EventResumed
	EventMatched
	// EventClosed fires once when the scan ends normally (range exhausted or limit reached).
	EventClosed
	// EventDestroyed fires once when the scan is torn down by an error.
	EventDestroyed
)

var eventNames = map[EventType]string{
	EventScanned:          "scanned",
	EventRejected:         "rejected",
	EventSkipped:          "skipped",
	EventPaused:           "paused",
	EventMaterializeStart: "materialize_start",
	EventMaterializeEnd:   "materialize_end",
	EventResumed:          "resumed",
	EventMatched:          "matched",
	EventClosed:           "closed",
	EventDestroyed:        "destroyed",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

type Event struct {
	Type     EventType
	EntityID types.EntityID
	Err      error
}

// Observer sees every state change of a scan, synchronously and in order.
type Observer func(Event)
