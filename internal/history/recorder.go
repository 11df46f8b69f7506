package history

import (
	"context"
	"time"
)

const recordTimeout = 2 * time.Second

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder adapts a Repository to the supervisor and connector event
// callbacks, which carry no context and no error return. Failed writes are
// logged and dropped.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// ServerEvent records a supervisor state transition.
func (r *Recorder) ServerEvent(state, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.RecordServerEvent(ctx, &ServerEvent{State: state, Message: message}); err != nil && r.logger != nil {
		r.logger.Warn("failed to record server event", "state", state, "error", err)
	}
}

// DriverEvent records a driver start or stop.
func (r *Recorder) DriverEvent(label string, started bool) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.RecordDriverEvent(ctx, &DriverEvent{Label: label, Started: started}); err != nil && r.logger != nil {
		r.logger.Warn("failed to record driver event", "label", label, "error", err)
	}
}
