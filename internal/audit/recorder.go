package audit

import (
	"context"
	"time"
)

const recordTimeout = 2 * time.Second

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes entries without making the caller handle storage errors.
// A nil *Recorder discards everything.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record stores e, logging and dropping any failure. ctx is only used for
// its values; the write has its own deadline so a cancelled request is
// still audited.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil && r.logger != nil {
		r.logger.Warn("failed to record audit entry", "action", e.Action, "target", e.Target, "error", err)
	}
}
