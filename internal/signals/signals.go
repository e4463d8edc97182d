// Package signals carries store events (structure changes, publishes, deletions,
// duplications) to local handlers and remote sinks.
package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type Name string

const (
	CourseStructureChanged Name = "course_structure_changed"
	CourseDeleted          Name = "course_deleted"
	BlockDuplicated        Name = "block_duplicated"
	PrePublish             Name = "pre_publish"
	CoursePublished        Name = "course_published"
	LibraryUpdated         Name = "library_updated"
	ItemDeleted            Name = "item_deleted"
)

type Event struct {
	Name      Name              `json:"name"`
	CourseKey string            `json:"course_key,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	At        time.Time         `json:"at"`
	// Origin identifies the emitting process so forwarded copies are not re-sent.
	Origin string `json:"origin,omitempty"`
}

func StructureChanged(course keys.CourseKey) Event {
	return Event{Name: CourseStructureChanged, CourseKey: course.String()}
}

func Deleted(course keys.CourseKey) Event {
	return Event{Name: CourseDeleted, CourseKey: course.String()}
}

func Published(course keys.CourseKey) Event {
	return Event{Name: CoursePublished, CourseKey: course.String()}
}

func BeforePublish(course keys.CourseKey) Event {
	return Event{Name: PrePublish, CourseKey: course.String()}
}

func Duplicated(newKey, source keys.UsageKey, blockType string) Event {
	return Event{
		Name:      BlockDuplicated,
		CourseKey: newKey.Course.String(),
		Payload: map[string]string{
			"usage_key":        newKey.String(),
			"source_usage_key": source.String(),
			"block_type":       blockType,
		},
	}
}

func ItemRemoved(key keys.UsageKey, user string) Event {
	return Event{
		Name:      ItemDeleted,
		CourseKey: key.Course.String(),
		Payload:   map[string]string{"usage_key": key.String(), "user_id": user},
	}
}

func LibraryChanged(lib keys.LibraryKey) Event {
	return Event{Name: LibraryUpdated, Payload: map[string]string{"library_key": lib.String()}}
}

// Emitter is the SignalBus seen by the store.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

type Handler func(ctx context.Context, e Event)

// Sink forwards events out of process.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type Dispatcher struct {
	mu       sync.RWMutex
	log      *logger.Logger
	origin   string
	handlers map[Name][]Handler
	all      []Handler
	sinks    []Sink
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:      log.With("component", "SignalDispatcher"),
		origin:   uuid.NewString(),
		handlers: map[Name][]Handler{},
	}
}

func (d *Dispatcher) Origin() string { return d.origin }

func (d *Dispatcher) Subscribe(name Name, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], h)
}

func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

func (d *Dispatcher) AddSink(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Emit runs local handlers synchronously, then hands the event to every sink. Sink
// failures are returned joined; handlers never fail the emit.
func (d *Dispatcher) Emit(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Origin == "" {
		e.Origin = d.origin
	}
	d.Deliver(ctx, e)

	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, e); err != nil {
			d.log.Warn("signal sink publish failed", "signal", e.Name, "course_key", e.CourseKey, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver runs local handlers only. Forwarders call it for events that arrived from
// another process.
func (d *Dispatcher) Deliver(ctx context.Context, e Event) {
	d.mu.RLock()
	hs := append(append([]Handler(nil), d.handlers[e.Name]...), d.all...)
	d.mu.RUnlock()
	for _, h := range hs {
		d.safeCall(ctx, h, e)
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("signal handler panicked", "signal", e.Name, "panic", fmt.Sprint(r))
		}
	}()
	h(ctx, e)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name Name) []Event {
	out := []Event{}
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
