package bridge

import (
	"errors"

	"github.com/nerrad567/starport-core/internal/history"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/mqtt"
)

// JSONPublisher publishes a value as JSON. *mqtt.Client satisfies it.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes server state (retained) and driver events.
type MQTTSink struct {
	pub    JSONPublisher
	logger Logger
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub JSONPublisher, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{pub: pub, logger: logger}
}

// HandleEvent implements Sink.
func (s *MQTTSink) HandleEvent(ev Event) {
	topics := mqtt.Topics{}
	topic, retained := topics.ServerState(), true
	if ev.Kind == KindDriver {
		topic, retained = topics.DriverEvent(ev.Label), false
	}

	err := s.pub.PublishJSON(topic, ev.Payload(), retained)
	switch {
	case err == nil:
	case errors.Is(err, mqtt.ErrNotConnected):
		s.logger.Debug("mqtt offline, event not published", "topic", topic)
	default:
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// HistorySink records events in the history database.
func HistorySink(r *history.Recorder) Sink {
	return SinkFunc(func(ev Event) {
		switch ev.Kind {
		case KindServer:
			r.ServerEvent(ev.State.String(), ev.Message)
		case KindDriver:
			r.DriverEvent(ev.Label, ev.Started)
		}
	})
}

// EventWriter is the event half of *influxdb.Client.
type EventWriter interface {
	WriteServerEvent(state indiserver.State, message string)
	WriteDriverEvent(label string, started bool)
}

// MetricsSink writes events as time-series points.
func MetricsSink(w EventWriter) Sink {
	return SinkFunc(func(ev Event) {
		switch ev.Kind {
		case KindServer:
			w.WriteServerEvent(ev.State, ev.Message)
		case KindDriver:
			w.WriteDriverEvent(ev.Label, ev.Started)
		}
	})
}
