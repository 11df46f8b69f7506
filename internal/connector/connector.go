package connector

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

// defaultDrainTimeout bounds how long StopServer waits for queued commands.
const defaultDrainTimeout = 5 * time.Second

// Supervisor is the part of indiserver.Manager the connector drives.
type Supervisor interface {
	Start() bool
	Stop(force bool) bool
	Restart() bool
	IsRunning() bool
	State() indiserver.State
	Uptime() (time.Duration, bool)
	LastError() string
	FifoPath() string
	Stats() indiserver.Stats
	SetEventHandler(h indiserver.EventHandler)
}

// Channel is the part of fifo.Channel the connector drives.
type Channel interface {
	Send(cmd fifo.Command) fifo.Result
	SendAsync(cmd fifo.Command, cb fifo.Callback)
	SetPath(path string)
	Reopen() error
	Release()
	Pause()
	Resume()
	WaitForPending(timeout time.Duration) bool
	Stats() fifo.Stats
	Close() error
}

// Runner executes a short external command and returns its combined output.
// process.CommandRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Logger defines the logging interface used by the connector.
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

// Driver describes an INDI driver the server can load.
type Driver struct {
	// Label identifies the driver in the registry. Defaults to Binary.
	Label string `json:"label" yaml:"label"`

	// Binary is the driver executable name, e.g. indi_simulator_ccd.
	Binary string `json:"binary" yaml:"binary"`

	// Skeleton is an optional skeleton XML file passed with -s.
	Skeleton string `json:"skeleton,omitempty" yaml:"skeleton,omitempty"`
}

// key returns the registry key for d.
func (d Driver) key() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Binary
}

// DriverEventHandler is notified when a driver is started or stopped.
type DriverEventHandler func(label string, started bool)

// Options configures a Connector.
type Options struct {
	Server  Supervisor
	Channel Channel

	// Props runs indi_getprop and indi_setprop. Required for property access.
	Props Runner

	// StatePath, when set, persists the driver registry after every change.
	StatePath string

	// DrainTimeout bounds the queue drain in StopServer.
	DrainTimeout time.Duration

	Logger Logger
}

// Connector composes the server supervisor with its control channel.
//
// The driver registry is guarded by its own lock, independent of the
// supervisor and channel locks. Driver commands are refused while the server
// is not running; a server that dies between that check and the write shows
// up as an ordinary channel failure.
type Connector struct {
	server       Supervisor
	ch           Channel
	props        Runner
	logger       Logger
	statePath    string
	drainTimeout time.Duration

	mu      sync.RWMutex
	drivers map[string]Driver

	evMu     sync.RWMutex
	onDriver DriverEventHandler
}

// New creates a Connector. Server and Channel are required.
func New(opts Options) *Connector {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	return &Connector{
		server:       opts.Server,
		ch:           opts.Channel,
		props:        opts.Props,
		logger:       logger,
		statePath:    opts.StatePath,
		drainTimeout: drain,
		drivers:      make(map[string]Driver),
	}
}

// SetDriverEventHandler installs the single driver event handler.
func (c *Connector) SetDriverEventHandler(h DriverEventHandler) {
	c.evMu.Lock()
	c.onDriver = h
	c.evMu.Unlock()
}

// SetServerEventHandler forwards h to the supervisor.
func (c *Connector) SetServerEventHandler(h indiserver.EventHandler) {
	c.server.SetEventHandler(h)
}

func (c *Connector) notify(label string, started bool) {
	c.evMu.RLock()
	h := c.onDriver
	c.evMu.RUnlock()
	if h != nil {
		h(label, started)
	}
}

// ==================== Server lifecycle ====================

// StartServer starts indiserver unless it is already running and points the
// channel at its FIFO.
func (c *Connector) StartServer() bool {
	if c.server.IsRunning() {
		c.logger.Info("indiserver already running")
		return true
	}

	if !c.server.Start() {
		c.logger.Error("failed to start indiserver", "error", c.server.LastError())
		return false
	}
	c.repointChannel()
	c.reopenChannel()
	c.logger.Info("indiserver started")
	return true
}

// StopServer unloads every registered driver, drains queued commands and
// stops indiserver, forcing it if the graceful stop is refused.
func (c *Connector) StopServer() bool {
	c.mu.Lock()
	drivers := slices.Collect(maps.Values(c.drivers))
	clear(c.drivers)
	c.mu.Unlock()

	for _, d := range drivers {
		if res := c.ch.Send(fifo.StopCommand(d.Binary)); !res.Success {
			c.logger.Warn("stop command failed during server shutdown", "driver", d.key(), "error", res.Err)
		}
		c.notify(d.key(), false)
	}
	c.persist()

	if !c.ch.WaitForPending(c.drainTimeout) {
		c.logger.Warn("control queue did not drain before shutdown", "timeout", c.drainTimeout)
	}
	c.ch.Release()

	if c.server.Stop(false) {
		c.logger.Info("indiserver stopped")
		return true
	}
	c.logger.Error("graceful stop refused, forcing")
	return c.server.Stop(true)
}

// RestartServer restarts indiserver and reloads every driver that was
// registered beforehand. Queued async commands are held until the new
// server's FIFO is in place.
func (c *Connector) RestartServer() bool {
	c.mu.Lock()
	prior := slices.Collect(maps.Values(c.drivers))
	clear(c.drivers)
	c.mu.Unlock()
	slices.SortFunc(prior, func(a, b Driver) int { return cmp.Compare(a.key(), b.key()) })

	c.ch.Pause()
	c.ch.Release()
	ok := c.server.Restart()
	if ok {
		c.repointChannel()
		c.reopenChannel()
	}
	c.ch.Resume()

	if !ok {
		c.logger.Error("indiserver restart failed", "error", c.server.LastError())
		for _, d := range prior {
			c.notify(d.key(), false)
		}
		c.persist()
		return false
	}

	for _, d := range prior {
		if !c.StartDriver(d) {
			c.notify(d.key(), false)
		}
	}
	c.persist()
	return true
}

func (c *Connector) repointChannel() {
	if path := c.server.FifoPath(); path != "" {
		c.ch.SetPath(path)
	}
}

// reopenChannel attaches a persistent handle to the freshly created pipe.
// On failure the channel keeps writing one-shot.
func (c *Connector) reopenChannel() {
	if err := c.ch.Reopen(); err != nil {
		c.logger.Warn("persistent fifo handle unavailable, using one-shot writes", "error", err)
	}
}

// IsRunning reports whether indiserver is up.
func (c *Connector) IsRunning() bool {
	return c.server.IsRunning()
}

// ServerState returns the supervisor state.
func (c *Connector) ServerState() indiserver.State {
	return c.server.State()
}

// ServerUptime returns the server uptime when running.
func (c *Connector) ServerUptime() (time.Duration, bool) {
	return c.server.Uptime()
}

// ServerStats returns the supervisor's current statistics.
func (c *Connector) ServerStats() indiserver.Stats {
	return c.server.Stats()
}

// LastError returns the supervisor's last error message.
func (c *Connector) LastError() string {
	return c.server.LastError()
}

// IsInstalled reports whether binary resolves to an executable.
func (c *Connector) IsInstalled(binary string) bool {
	return indiserver.IsInstalled(binary)
}

// ==================== Drivers ====================

// StartDriver loads d and registers it under its label.
func (c *Connector) StartDriver(d Driver) bool {
	if !c.server.IsRunning() {
		c.logger.Error("cannot start driver: server not running", "driver", d.key())
		return false
	}
	if d.Label == "" {
		d.Label = d.Binary
	}

	c.logger.Info("starting INDI driver", "driver", d.Label, "binary", d.Binary)
	res := c.ch.Send(fifo.StartCommand(d.Binary, d.Skeleton))
	if !res.Success {
		c.logger.Error("failed to start driver", "driver", d.Label, "error", res.Err)
		return false
	}

	c.mu.Lock()
	c.drivers[d.Label] = d
	c.mu.Unlock()
	c.persist()

	c.notify(d.Label, true)
	return true
}

// StopDriver unloads d. The registry entry is removed whether or not the
// stop command was delivered, since the FIFO offers no acknowledgement.
func (c *Connector) StopDriver(d Driver) bool {
	if !c.server.IsRunning() {
		c.logger.Error("cannot stop driver: server not running", "driver", d.key())
		return false
	}
	label := d.key()

	c.logger.Info("stopping INDI driver", "driver", label)
	res := c.ch.Send(fifo.StopCommand(d.Binary))

	c.mu.Lock()
	delete(c.drivers, label)
	c.mu.Unlock()
	c.persist()

	if !res.Success {
		c.logger.Warn("stop command sent but may have failed", "driver", label, "error", res.Err)
		return true
	}
	c.notify(label, false)
	return true
}

// RestartDriver reloads d. The registry is not changed.
func (c *Connector) RestartDriver(d Driver) bool {
	if !c.server.IsRunning() {
		c.logger.Error("cannot restart driver: server not running", "driver", d.key())
		return false
	}
	c.logger.Info("restarting INDI driver", "driver", d.key())
	res := c.ch.Send(fifo.RestartCommand(d.Binary, d.Skeleton))
	if !res.Success {
		c.logger.Error("failed to restart driver", "driver", d.key(), "error", res.Err)
	}
	return res.Success
}

// StartDriverByName loads binary and registers it with the binary as label.
func (c *Connector) StartDriverByName(binary, skeleton string) bool {
	return c.StartDriver(Driver{Label: binary, Binary: binary, Skeleton: skeleton})
}

// StopDriverByName unloads binary. Unlike StopDriver the event fires even if
// the command failed, and the result reflects delivery.
func (c *Connector) StopDriverByName(binary string) bool {
	if !c.server.IsRunning() {
		c.logger.Error("cannot stop driver: server not running", "driver", binary)
		return false
	}

	res := c.ch.Send(fifo.StopCommand(binary))

	c.mu.Lock()
	delete(c.drivers, binary)
	c.mu.Unlock()
	c.persist()

	c.notify(binary, false)
	return res.Success
}

// IsDriverRunning reports whether label is registered.
func (c *Connector) IsDriverRunning(label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.drivers[label]
	return ok
}

// RunningDrivers returns a copy of the registry.
func (c *Connector) RunningDrivers() map[string]Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.drivers)
}

// RunningDriverCount returns the number of registered drivers.
func (c *Connector) RunningDriverCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drivers)
}

// ==================== Channel pass-through ====================

// SendCommand writes an arbitrary line to the FIFO.
func (c *Connector) SendCommand(text string) fifo.Result {
	return c.ch.Send(fifo.RawCommand(text))
}

// SendCommandAsync queues an arbitrary line.
func (c *Connector) SendCommandAsync(text string, cb fifo.Callback) {
	c.ch.SendAsync(fifo.RawCommand(text), cb)
}

// FifoStats returns the channel counters.
func (c *Connector) FifoStats() fifo.Stats {
	return c.ch.Stats()
}

// Close releases the channel. The server is left as it is.
func (c *Connector) Close() error {
	return c.ch.Close()
}
