package callsession

import (
	"slices"
	"sync"
	"time"
)

// EventType names a call lifecycle notification.
type EventType string

const (
	// EventCallStarted is sent once the runtime reports the call connected.
	// It can arrive while StartCall is still returning, before Active is true.
	EventCallStarted EventType = "call_started"
	// EventCallEnded is sent when the call finishes, from either side.
	EventCallEnded EventType = "call_ended"
	// EventCallError is sent when the runtime fails; Event.Err holds the cause.
	EventCallError EventType = "call_error"
)

// Event is delivered to listeners for every runtime lifecycle notification.
type Event struct {
	Type EventType
	Err  error // set for EventCallError
	At   time.Time
}

// Listener receives call lifecycle events.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// ListenerFuncs is a Listener built from optional callbacks; nil ones are skipped.
type ListenerFuncs struct {
	OnStarted func()
	OnEnded   func()
	OnError   func(error)
}

// HandleEvent calls the callback matching e.Type, if set.
func (l ListenerFuncs) HandleEvent(e Event) {
	switch e.Type {
	case EventCallStarted:
		if l.OnStarted != nil {
			l.OnStarted()
		}
	case EventCallEnded:
		if l.OnEnded != nil {
			l.OnEnded()
		}
	case EventCallError:
		if l.OnError != nil {
			l.OnError(e.Err)
		}
	}
}

type subscription struct {
	id       uint64
	listener Listener
}

// emitter fans events out to subscribers synchronously, in subscription order.
type emitter struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, listener: l})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		s.listener.HandleEvent(ev)
	}
}

func (e *emitter) clear() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}
