package endpoint

import (
	"sync"
	"time"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
)

// EventType labels the lifecycle and registry changes an endpoint reports.
type EventType string

const (
	EventConnectionOpened   EventType = "connection_opened"
	EventConnectionDegraded EventType = "connection_degraded"
	EventConnectionClosed   EventType = "connection_closed"
	EventCapabilityAdded    EventType = "capability_added"
	EventCapabilityRemoved  EventType = "capability_removed"
)

// Event describes one observable change on an endpoint.
type Event struct {
	Type     EventType
	Endpoint string
	Kind     capability.Kind
	Name     string
	Err      error
	Time     time.Time
}

// Observer receives endpoint events. Observers run outside the endpoint
// lock and may block without stalling the endpoint; a panicking observer is
// isolated and does not affect delivery to the others.
type Observer func(Event)

type emitter struct {
	mu        sync.Mutex
	observers []Observer
}

func (e *emitter) subscribe(fn Observer) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()
	for _, fn := range observers {
		func() {
			defer func() { _ = recover() }()
			fn(ev)
		}()
	}
}
