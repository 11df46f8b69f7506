package profile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

const (
	watcherDebounce = 500 * time.Millisecond
	watcherStopWait = time.Second
)

// Logger defines the logging interface used by the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Watcher reloads the profile file when it changes and reconciles the
// running drivers against it.
type Watcher struct {
	path     string
	target   Target
	logger   Logger
	debounce time.Duration

	// OnReload, when set, receives the outcome of every reload.
	OnReload func(Result, error)

	mu        sync.Mutex
	sctx      *stopper.Context
	debouncer *time.Timer
	reloadMu  sync.Mutex
}

// NewWatcher creates a watcher for path applying changes to target.
func NewWatcher(path string, target Target) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		logger:   noopLogger{},
		debounce: watcherDebounce,
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// Start begins watching. The parent directory is watched rather than the
// file so that editors which replace the file by rename are noticed.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = fw.Close()
	})

	w.mu.Lock()
	w.sctx = sctx
	w.mu.Unlock()

	w.logger.Info("watching equipment profile for changes", "path", w.path)

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			w.mu.Lock()
			if w.debouncer != nil {
				w.debouncer.Stop()
			}
			w.mu.Unlock()
		})

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("profile changed", "file", event.Name, "op", event.Op)

				w.mu.Lock()
				if w.debouncer != nil {
					w.debouncer.Stop()
				}
				w.debouncer = time.AfterFunc(w.debounce, func() {
					if sctx.IsStopping() {
						return
					}
					_, _ = w.Reload()
				})
				w.mu.Unlock()

			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.logger.Error("profile watcher error", "error", err)
			}
		}
	})
	return nil
}

// Reload loads the profile and reconciles it immediately. An invalid file
// leaves the running drivers untouched.
func (w *Watcher) Reload() (Result, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	p, err := Load(w.path)
	if err != nil {
		w.logger.Error("profile reload failed, keeping current drivers", "error", err)
		w.report(Result{}, err)
		return Result{}, err
	}

	res := Reconcile(w.target, p)
	if res.Changed() {
		w.logger.Info("profile applied",
			"started", res.Started,
			"stopped", res.Stopped,
			"restarted", res.Restarted,
			"failed", res.Failed,
		)
	} else {
		w.logger.Debug("profile reload: no changes")
	}
	w.report(res, nil)
	return res, nil
}

func (w *Watcher) report(res Result, err error) {
	if w.OnReload != nil {
		w.OnReload(res, err)
	}
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	sctx := w.sctx
	w.sctx = nil
	w.mu.Unlock()

	if sctx == nil {
		return nil
	}
	sctx.Stop(watcherStopWait)
	return sctx.Wait()
}
