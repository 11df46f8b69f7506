package bridge

import (
	"context"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/nerrad567/starport-core/internal/indiserver"
)

const (
	defaultEventBuffer = 256
	dispatcherStopWait = 2 * time.Second
)

// EventKind distinguishes server transitions from driver changes.
type EventKind string

const (
	KindServer EventKind = "server.state"
	KindDriver EventKind = "driver.event"
)

// Event is one server state transition or driver start/stop.
type Event struct {
	Kind      EventKind
	State     indiserver.State
	Message   string
	Label     string
	Started   bool
	Timestamp time.Time
}

// ServerStatePayload is the wire form of a KindServer event.
type ServerStatePayload struct {
	State     indiserver.State `json:"state"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// DriverEventPayload is the wire form of a KindDriver event.
type DriverEventPayload struct {
	Label     string    `json:"label"`
	Started   bool      `json:"started"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload returns the JSON-ready body for ev.
func (ev Event) Payload() any {
	if ev.Kind == KindDriver {
		return DriverEventPayload{Label: ev.Label, Started: ev.Started, Timestamp: ev.Timestamp}
	}
	return ServerStatePayload{State: ev.State, Message: ev.Message, Timestamp: ev.Timestamp}
}

// Sink receives dispatched events on the dispatcher goroutine.
type Sink interface {
	HandleEvent(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// HandleEvent calls f(ev).
func (f SinkFunc) HandleEvent(ev Event) { f(ev) }

// Dispatcher decouples the supervisor and connector callbacks from slow
// consumers. OnServerEvent and OnDriverEvent only enqueue; a single goroutine
// delivers to every sink in order. Events are dropped with a warning when the
// buffer is full.
type Dispatcher struct {
	events chan Event
	logger Logger

	mu    sync.RWMutex
	sinks []Sink
	sctx  *stopper.Context
	now   func() time.Time
}

// NewDispatcher creates a Dispatcher with room for buffer pending events.
func NewDispatcher(buffer int, logger Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		events: make(chan Event, buffer),
		logger: logger,
		now:    time.Now,
	}
}

// AddSink registers s. Sinks added after Start see only later events.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// OnServerEvent matches indiserver.EventHandler.
func (d *Dispatcher) OnServerEvent(state indiserver.State, message string) {
	d.enqueue(Event{Kind: KindServer, State: state, Message: message})
}

// OnDriverEvent matches connector.DriverEventHandler.
func (d *Dispatcher) OnDriverEvent(label string, started bool) {
	d.enqueue(Event{Kind: KindDriver, Label: label, Started: started})
}

func (d *Dispatcher) enqueue(ev Event) {
	ev.Timestamp = d.now().UTC()
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event buffer full, dropping event", "kind", ev.Kind, "label", ev.Label)
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	sctx := stopper.WithContext(ctx)
	d.mu.Lock()
	d.sctx = sctx
	d.mu.Unlock()

	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				d.drain()
				return nil
			case ev := <-d.events:
				d.deliver(ev)
			}
		}
	})
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("event sink panic recovered", "kind", ev.Kind, "panic", r)
				}
			}()
			s.HandleEvent(ev)
		}()
	}
}

// Close stops the goroutine and delivers anything still queued, including
// events enqueued after the start context was cancelled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	sctx := d.sctx
	d.sctx = nil
	d.mu.Unlock()
	if sctx == nil {
		return
	}
	sctx.Stop(dispatcherStopWait)
	_ = sctx.Wait()
	d.drain()
}
