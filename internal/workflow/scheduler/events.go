package scheduler

import (
	"time"
)

// EventKind enumerates the transitions observers are told about.
type EventKind string

const (
	EventDiscovered EventKind = "discovered"
	EventStarted    EventKind = "started"
	EventCompleted  EventKind = "completed"
	EventFailed     EventKind = "failed"
	EventSkipped    EventKind = "skipped"
	EventBlocked    EventKind = "blocked"
	EventCancelled  EventKind = "cancelled"
)

// Event describes one node transition. Requirements is set on started events
// and lists the paths that were done when the node launched.
type Event struct {
	Kind         EventKind
	Node         string
	URL          string
	Requirements []string
	BlockedBy    []string
	Err          error
	Duration     time.Duration
	At           time.Time
}

// Observer receives events on the dispatcher goroutine. Implementations must
// not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
