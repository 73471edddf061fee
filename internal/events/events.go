// Package events is a small in-process event bus for task lifecycle
// notifications. Delivery is fire-and-forget: handlers run synchronously on
// the emitter's goroutine, and a panicking handler is recovered and logged
// rather than propagated.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Type string

const (
	TaskStarted   Type = "task_started"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"
	TaskCancelled Type = "task_cancelled"
	BatchStarted  Type = "batch_started"
	BatchStopped  Type = "batch_stopped"
)

// Event carries a lifecycle notification. TaskID, InputPath and Error are
// filled depending on the type.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	InputPath string    `json:"input_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

type Handler func(Event)

// Bus dispatches events to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Emit delivers the event to all matching handlers. A nil bus drops events,
// so emitters need no nil checks.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	matched := b.handlers[e.Type]
	all := b.all
	b.mu.RUnlock()

	for _, h := range matched {
		deliver(h, e)
	}
	for _, h := range all {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(e.Type)).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(e)
}

// Recorder keeps the most recent events in a bounded ring, for status
// endpoints and tests.
type Recorder struct {
	mu  sync.Mutex
	buf []Event
	max int
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 100
	}
	return &Recorder{max: max}
}

// Record is a Handler that appends to the ring.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, e)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

// Recent returns up to limit events, newest last. limit <= 0 returns all
// retained events.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.buf
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
