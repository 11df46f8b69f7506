package fifo

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"vawter.tech/stopper"
)

// Default configuration values.
const (
	DefaultPath         = "/tmp/indiFIFO"
	DefaultWriteTimeout = time.Second
	DefaultRetryCount   = 3
	DefaultRetryDelay   = 100 * time.Millisecond
	DefaultMaxQueueSize = 100

	// RestartSettleDelay separates the stop and start halves of a restart
	// so the server has unloaded the driver before it is loaded again.
	RestartSettleDelay = 500 * time.Millisecond

	// closeGrace bounds how long Close waits for the queue worker.
	closeGrace = 5 * time.Second

	// pendingPollInterval is the WaitForPending sampling period.
	pendingPollInterval = 10 * time.Millisecond
)

// Config holds control channel settings.
type Config struct {
	// Path is the named pipe the server reads commands from.
	Path string `yaml:"path"`

	// WriteTimeout bounds how long a blocking-mode open waits for a reader.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetryCount is the total number of write attempts (minimum 1).
	RetryCount int `yaml:"retry_count"`

	// RetryDelay is the pause between write attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// NonBlocking opens the pipe with O_NONBLOCK so a missing reader fails
	// immediately instead of hanging.
	NonBlocking bool `yaml:"non_blocking"`

	// QueueCommands routes SendAsync through a single ordered worker.
	QueueCommands bool `yaml:"queue_commands"`

	// MaxQueueSize caps the async queue; further commands are rejected.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Persistent keeps one write handle open across commands after Open.
	Persistent bool `yaml:"persistent"`
}

// DefaultConfig returns sensible defaults for a local indiserver.
func DefaultConfig() Config {
	return Config{
		Path:          DefaultPath,
		WriteTimeout:  DefaultWriteTimeout,
		RetryCount:    DefaultRetryCount,
		RetryDelay:    DefaultRetryDelay,
		NonBlocking:   true,
		QueueCommands: true,
		MaxQueueSize:  DefaultMaxQueueSize,
	}
}

// Result is the outcome of one command.
type Result struct {
	Success  bool
	Err      error
	Duration time.Duration
}

// Message returns a human-readable summary of the result.
func (r Result) Message() string {
	if r.Success {
		return "ok"
	}
	if r.Err == nil {
		return "failed"
	}
	return r.Err.Error()
}

// Stats is a snapshot of channel counters.
type Stats struct {
	CommandsSent uint64 `json:"commands_sent"`
	Errors       uint64 `json:"errors"`
	Queued       int    `json:"queued"`
	Paused       bool   `json:"paused"`
	Path         string `json:"path"`
}

// Logger defines the logging interface used by the channel.
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

// pipe is an open write end of the FIFO.
type pipe interface {
	io.Writer
	io.Closer
}

// openFunc opens the write end of path.
type openFunc func(path string, nonBlocking bool, wait time.Duration) (pipe, error)

// Channel writes commands to the server's named pipe.
//
// Synchronous sends may be issued from any goroutine; writes are serialised
// so lines never interleave. Async sends go through an ordered queue when
// QueueCommands is set.
type Channel struct {
	cfgMu  sync.RWMutex
	cfg    Config
	logger Logger
	open   openFunc

	writeMu    sync.Mutex
	persistent pipe

	sent   atomic.Uint64
	failed atomic.Uint64

	qmu      sync.Mutex
	queue    []pending
	inflight int
	wake     chan struct{}
	paused   atomic.Bool

	tasks     *stopper.Context
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a channel. Zero-valued numeric fields fall back to defaults.
// When QueueCommands is set the queue worker starts immediately.
func New(cfg Config) *Channel {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}

	c := &Channel{
		cfg:    cfg,
		logger: noopLogger{},
		open:   openPipe,
		wake:   make(chan struct{}, 1),
		tasks:  stopper.WithContext(context.Background()),
	}
	if cfg.QueueCommands {
		c.tasks.Go(c.runWorker)
	}
	return c
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.cfgMu.Lock()
	c.logger = logger
	c.cfgMu.Unlock()
}

func (c *Channel) log() Logger {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.logger
}

func (c *Channel) config() Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// Path returns the configured pipe path.
func (c *Channel) Path() string {
	return c.config().Path
}

// SetPath points the channel at a different pipe. A persistent handle on the
// old path is closed.
func (c *Channel) SetPath(path string) {
	c.cfgMu.Lock()
	changed := c.cfg.Path != path
	c.cfg.Path = path
	c.cfgMu.Unlock()

	if changed {
		c.writeMu.Lock()
		c.dropPersistentLocked()
		c.writeMu.Unlock()
	}
}

// IsAvailable reports whether the configured path exists and is a named pipe.
func (c *Channel) IsAvailable() bool {
	return IsNamedPipe(c.Path())
}

// Open establishes the persistent write handle. It is a no-op unless the
// channel was configured as Persistent. Failure leaves the channel in
// one-shot mode.
func (c *Channel) Open() error {
	cfg := c.config()
	if !cfg.Persistent {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.openLocked(cfg)
}

// Reopen replaces the persistent handle with a fresh one. A server restart
// recreates the pipe at the same path, which leaves an old handle attached
// to the unlinked node. It is a no-op unless the channel is Persistent.
func (c *Channel) Reopen() error {
	cfg := c.config()
	if !cfg.Persistent {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.dropPersistentLocked()
	return c.openLocked(cfg)
}

// Release closes the persistent handle, if any. Later sends are one-shot
// until Open or Reopen succeeds.
func (c *Channel) Release() {
	c.writeMu.Lock()
	c.dropPersistentLocked()
	c.writeMu.Unlock()
}

func (c *Channel) openLocked(cfg Config) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.persistent != nil {
		return nil
	}
	p, err := c.open(cfg.Path, cfg.NonBlocking, cfg.WriteTimeout)
	if err != nil {
		return classifyOpenError(cfg.Path, err)
	}
	c.persistent = p
	c.log().Debug("persistent fifo handle opened", "path", cfg.Path)
	return nil
}

// SendRaw writes one arbitrary line.
func (c *Channel) SendRaw(text string) Result {
	return c.Send(RawCommand(text))
}

// Send writes cmd synchronously and updates the counters.
func (c *Channel) Send(cmd Command) Result {
	start := time.Now()

	var err error
	if cmd.Kind == KindRestart {
		err = c.deliver(StopCommand(cmd.Binary))
		if err == nil {
			time.Sleep(RestartSettleDelay)
			err = c.deliver(StartCommand(cmd.Binary, cmd.Skeleton))
		}
	} else {
		err = c.deliver(cmd)
	}

	res := Result{Success: err == nil, Err: err, Duration: time.Since(start)}
	if err != nil {
		c.failed.Add(1)
		c.log().Warn("fifo command failed",
			"command", cmd.String(),
			"error", err,
			"duration", res.Duration,
		)
		return res
	}

	c.sent.Add(1)
	c.log().Debug("fifo command sent", "command", cmd.String(), "duration", res.Duration)
	return res
}

func (c *Channel) deliver(cmd Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	data := []byte(cmd.Build())
	cfg := c.config()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.persistent != nil {
		err := writeWithRetry(c.persistent, data, cfg)
		var we *WriteError
		if errors.As(err, &we) && we.Kind == Fatal {
			c.log().Warn("dropping persistent fifo handle", "path", cfg.Path, "error", err)
			c.dropPersistentLocked()
		}
		return err
	}

	p, err := c.open(cfg.Path, cfg.NonBlocking, cfg.WriteTimeout)
	if err != nil {
		return classifyOpenError(cfg.Path, err)
	}
	defer p.Close()

	return writeWithRetry(p, data, cfg)
}

// writeWithRetry makes exactly cfg.RetryCount attempts, sleeping RetryDelay
// between them. A partial write continues from where it stopped.
func writeWithRetry(p pipe, data []byte, cfg Config) error {
	attempts := max(cfg.RetryCount, 1)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		n, err := p.Write(data)
		if n > 0 {
			data = data[n:]
		}
		if err == nil && len(data) == 0 {
			return nil
		}
		if err != nil && !isWouldBlock(err) {
			return &WriteError{Kind: Fatal, Op: "write", Path: cfg.Path, Attempts: i, Err: err}
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		lastErr = err

		if i < attempts && cfg.RetryDelay > 0 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	return &WriteError{Kind: Transient, Op: "write", Path: cfg.Path, Attempts: attempts, Err: lastErr}
}

func classifyOpenError(path string, err error) error {
	kind := Fatal
	if isNoReader(err) {
		kind = NoReader
	}
	return &WriteError{Kind: kind, Op: "open", Path: path, Attempts: 1, Err: err}
}

func (c *Channel) dropPersistentLocked() {
	if c.persistent == nil {
		return
	}
	if err := c.persistent.Close(); err != nil {
		c.log().Debug("closing fifo handle", "error", err)
	}
	c.persistent = nil
}

// TotalCommandsSent returns the number of successful sends.
func (c *Channel) TotalCommandsSent() uint64 {
	return c.sent.Load()
}

// TotalErrors returns the number of failed sends.
func (c *Channel) TotalErrors() uint64 {
	return c.failed.Load()
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		CommandsSent: c.sent.Load(),
		Errors:       c.failed.Load(),
		Queued:       c.QueueLen(),
		Paused:       c.paused.Load(),
		Path:         c.Path(),
	}
}

// Close stops the queue worker, fails any queued commands with ErrClosed and
// releases the persistent handle. A closed channel cannot be reopened.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.qmu.Lock()
		c.closed.Store(true)
		c.qmu.Unlock()
		c.tasks.Stop(closeGrace)
		if err := c.tasks.Wait(); err != nil {
			c.log().Warn("fifo worker exited with error", "error", err)
		}

		c.qmu.Lock()
		orphans := c.queue
		c.queue = nil
		c.qmu.Unlock()
		for _, item := range orphans {
			c.complete(item.cb, Result{Err: ErrClosed})
		}

		c.writeMu.Lock()
		c.dropPersistentLocked()
		c.writeMu.Unlock()
	})
	return nil
}
