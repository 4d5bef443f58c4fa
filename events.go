package jobqueue

import (
	"sync"

	"github.com/relayq/jobqueue/job"
)

// EventName identifies one of the observable events a JobQueue emits.
type EventName string

const (
	EventError        EventName = "error"
	EventHandlerError EventName = "handlerError"
	EventConnect      EventName = "connect"
	EventDisconnect   EventName = "disconnect"
	EventPush         EventName = "push"
	EventHandle       EventName = "handle"
	EventStart        EventName = "start"
	EventPause        EventName = "pause"
	EventStop         EventName = "stop"
	EventBeforeRun    EventName = "beforeRun"
	EventAfterRun     EventName = "afterRun"
	EventTimeout      EventName = "timeout"
	EventCancel       EventName = "cancel"
)

// Event is the payload delivered to a Listener. Exactly one of Job or
// Err is normally populated, depending on the event.
type Event struct {
	Name EventName
	Job  *job.Job
	Err  error
}

// Listener receives emitted events. Listeners run synchronously on the
// engine's scheduling context and must not block.
type Listener func(Event)

type emitter struct {
	mu        sync.Mutex
	listeners map[EventName][]Listener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[EventName][]Listener)}
}

// On registers a listener for the named event. Passing a nil listener
// is a no-op.
func (e *emitter) On(name EventName, l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], l)
}

func (e *emitter) emit(name EventName, ev Event) {
	e.mu.Lock()
	ls := append([]Listener(nil), e.listeners[name]...)
	e.mu.Unlock()
	ev.Name = name
	for _, l := range ls {
		l(ev)
	}
}

func (e *emitter) emitJob(name EventName, j *job.Job) {
	e.emit(name, Event{Job: j})
}

func (e *emitter) emitErr(name EventName, err error) {
	e.emit(name, Event{Err: err})
}
