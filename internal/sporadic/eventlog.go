package sporadic

import (
	"fmt"
	"sync"
	"time"
)

// RequestCompleted is logged by the server task itself, outside the
// controller's own ReleaseEvent/BudgetExhausted taxonomy, when a
// migrating request finishes executing.
const RequestCompleted EventKind = 2

// LoggedEvent is one entry in an EventLog: a kind and the time it fired.
type LoggedEvent struct {
	Kind EventKind
	At   time.Time
}

func (e LoggedEvent) String() string {
	return fmt.Sprintf("%s--%s", e.Kind, e.At.Format(time.RFC3339Nano))
}

// EventLog accumulates scheduling events in memory for later inspection,
// mirroring the original controller's append-only event trace.
type EventLog struct {
	mu     sync.Mutex
	events []LoggedEvent
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{events: make([]LoggedEvent, 0, 1024)}
}

// Add appends one event.
func (l *EventLog) Add(kind EventKind, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, LoggedEvent{Kind: kind, At: at})
}

// Drain returns every accumulated event and clears the log.
func (l *EventLog) Drain() []LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = make([]LoggedEvent, 0, 1024)
	return out
}

// Len reports the number of events accumulated since the last Drain.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
