package indiserver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/process"
)

// Timeouts and intervals for indiserver supervision.
const (
	// probeInterval is the liveness sampling period during startup.
	probeInterval = 100 * time.Millisecond

	// stableSamples is how many consecutive live samples make a start successful.
	stableSamples = 2

	// killWait bounds the wait for the kernel to reap a SIGKILLed process.
	killWait = 5 * time.Second
)

// State is the supervisor's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventHandler is notified of every state transition. It runs synchronously
// on the goroutine making the transition, which may hold the supervisor lock,
// so it must not call Start, Stop, Restart or SetConfig.
type EventHandler func(state State, message string)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises a single indiserver process.
//
// Start, Stop, Restart and SetConfig serialise on one lock. State, PID and
// liveness are also published through atomics so IsRunning and PID never
// wait on that lock.
type Manager struct {
	mu sync.Mutex

	cfgMu  sync.RWMutex
	cfg    Config
	logger Logger

	state     atomic.Int32
	pid       atomic.Int64
	startedAt atomic.Int64
	restarts  atomic.Int64
	handle    atomic.Pointer[process.Handle]

	errMu   sync.RWMutex
	lastErr error

	evMu    sync.RWMutex
	onEvent EventHandler

	monMu           sync.Mutex
	monitor         *monitorTask
	monitorDisabled atomic.Bool
	failures        atomic.Int32

	// activePIDFile is the PID file this manager created, guarded by mu.
	activePIDFile string
}

// NewManager creates a supervisor in the Stopped state. The configuration is
// validated on Start, not here, so an invalid config can still be corrected
// with SetConfig.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg.clone(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.cfgMu.Lock()
	m.logger = logger
	m.cfgMu.Unlock()
}

func (m *Manager) log() Logger {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.logger
}

// SetEventHandler installs the single state-transition handler, replacing any
// previous one. Pass nil to remove it.
func (m *Manager) SetEventHandler(h EventHandler) {
	m.evMu.Lock()
	m.onEvent = h
	m.evMu.Unlock()
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg.clone()
}

// SetConfig replaces the configuration. It is refused unless the server is
// Stopped or the new config fails validation. A successful change also
// re-arms a health monitor that gave up.
func (m *Manager) SetConfig(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.State(); s != StateStopped {
		m.setLastError(fmt.Errorf("%w (state %s)", ErrNotStopped, s))
		return false
	}
	if err := cfg.Validate(); err != nil {
		m.setLastError(err)
		return false
	}

	m.cfgMu.Lock()
	m.cfg = cfg.clone()
	m.cfgMu.Unlock()

	m.monitorDisabled.Store(false)
	m.failures.Store(0)
	m.log().Info("indiserver configuration updated", "address", cfg.Address())
	return true
}

// FifoPath returns the control pipe path, or "" when the FIFO is disabled.
func (m *Manager) FifoPath() string {
	cfg := m.Config()
	if !cfg.EnableFifo {
		return ""
	}
	return cfg.FifoPath
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsRunning reports whether the server is Running and its process is alive.
func (m *Manager) IsRunning() bool {
	if m.State() != StateRunning {
		return false
	}
	h := m.handle.Load()
	return h != nil && h.Alive()
}

// PID returns the server's process id, or 0 when not running.
func (m *Manager) PID() int {
	return int(m.pid.Load())
}

// Uptime returns how long the server has been running. The second result is
// false unless the state is Running.
func (m *Manager) Uptime() (time.Duration, bool) {
	if m.State() != StateRunning {
		return 0, false
	}
	started := m.startedAt.Load()
	if started == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, started)), true
}

// RestartCount returns how many restarts have been performed, manual and
// automatic.
func (m *Manager) RestartCount() int64 {
	return m.restarts.Load()
}

// LastError returns the message of the most recent failure, or "".
func (m *Manager) LastError() string {
	if err := m.LastErr(); err != nil {
		return err.Error()
	}
	return ""
}

// LastErr returns the most recent failure for errors.Is inspection.
func (m *Manager) LastErr() error {
	m.errMu.RLock()
	defer m.errMu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
}

// setState publishes a transition and notifies the handler.
func (m *Manager) setState(s State, msg string) {
	m.state.Store(int32(s))

	m.evMu.RLock()
	h := m.onEvent
	m.evMu.RUnlock()
	if h != nil {
		h(s, msg)
	}
}

// fail records err and moves to StateError.
func (m *Manager) fail(err error) {
	m.setLastError(err)
	m.log().Error("indiserver failure", "error", err)
	m.setState(StateError, err.Error())
}

// Start launches indiserver and blocks until it is stable or StartupTimeout
// elapses. It returns true if the server is running afterwards.
func (m *Manager) Start() bool {
	if s := m.State(); s == StateStarting || s == StateStopping {
		m.setLastError(fmt.Errorf("%w (state %s)", ErrBusy, s))
		m.log().Warn("indiserver start refused", "state", s)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.startLocked() {
		return false
	}
	if m.Config().AutoRestart {
		m.launchMonitor()
	}
	return true
}

func (m *Manager) startLocked() bool {
	if m.State() == StateRunning {
		if h := m.handle.Load(); h != nil && h.Alive() {
			return true
		}
		m.log().Warn("indiserver marked running but process is gone, respawning")
		m.clearProcess()
	}

	cfg := m.Config()
	if err := cfg.Validate(); err != nil {
		m.fail(err)
		return false
	}

	m.setState(StateStarting, "starting indiserver")

	if cfg.EnableFifo {
		if err := fifo.MakeNode(cfg.FifoPath); err != nil {
			m.fail(fmt.Errorf("%w: %s: %v", ErrPipeCreate, cfg.FifoPath, err))
			return false
		}
	}

	spec := process.Spec{
		Name: "indiserver",
		Argv: cfg.BuildArgs(),
		Env:  cfg.Environ(),
	}
	if cfg.EnableLogging {
		spec.LogPath = cfg.LogPath
	}

	h, err := process.Spawn(spec)
	if err != nil {
		m.removeNode(cfg)
		m.fail(fmt.Errorf("%w: %v", ErrSpawn, err))
		return false
	}
	m.handle.Store(h)
	m.pid.Store(int64(h.PID()))
	m.log().Info("indiserver spawned", "pid", h.PID(), "args", spec.Argv)

	if err := waitForStable(h, cfg.StartupTimeout); err != nil {
		m.terminate(h, true, 0)
		m.clearProcess()
		m.removeNode(cfg)
		m.fail(err)
		return false
	}

	if cfg.PIDFile != "" {
		if err := m.acquirePIDFile(cfg.PIDFile, h.PID(), cfg.Binary); err != nil {
			m.terminate(h, true, 0)
			m.clearProcess()
			m.removeNode(cfg)
			m.fail(err)
			return false
		}
	}

	m.startedAt.Store(time.Now().UnixNano())
	m.setLastError(nil)
	m.setState(StateRunning, fmt.Sprintf("indiserver running on %s (pid %d)", cfg.Address(), h.PID()))
	return true
}

// waitForStable samples liveness every probeInterval until stableSamples
// consecutive samples succeed or timeout elapses. A sample taken after the
// deadline does not count.
func waitForStable(h *process.Handle, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	consecutive := 0

	for {
		select {
		case <-h.Done():
			return fmt.Errorf("%w: process exited during startup: %v", ErrStartupTimeout, h.ExitErr())
		case <-time.After(probeInterval):
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrStartupTimeout, timeout)
		}
		if h.Alive() {
			consecutive++
		} else {
			consecutive = 0
		}
		if consecutive >= stableSamples {
			return nil
		}
	}
}

// Stop terminates indiserver. Without force it sends SIGTERM and escalates
// to SIGKILL after ShutdownTimeout. It returns false only when another stop
// is already in progress.
func (m *Manager) Stop(force bool) bool {
	if m.State() == StateStopping {
		m.setLastError(fmt.Errorf("%w (state %s)", ErrBusy, StateStopping))
		m.log().Warn("indiserver stop refused, already stopping")
		return false
	}

	// Join the monitor before taking the lock; it may itself be waiting on
	// the lock to restart the server.
	m.haltMonitor()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(force)
}

func (m *Manager) stopLocked(force bool) bool {
	if m.State() == StateStopped {
		return true
	}
	cfg := m.Config()

	m.setState(StateStopping, "stopping indiserver")

	if h := m.handle.Load(); h != nil {
		m.terminate(h, force, cfg.ShutdownTimeout)
	}
	m.clearProcess()
	m.removeNode(cfg)
	m.releasePIDFile()

	m.setState(StateStopped, "indiserver stopped")
	return true
}

// terminate ends h, escalating to SIGKILL when a graceful stop times out.
func (m *Manager) terminate(h *process.Handle, force bool, timeout time.Duration) {
	if !force {
		if err := h.Terminate(process.Graceful); err != nil {
			m.log().Warn("sending SIGTERM to indiserver", "pid", h.PID(), "error", err)
		}
		if timeout > 0 && h.Wait(timeout) {
			m.log().Info("indiserver exited gracefully", "pid", h.PID())
			return
		}
		m.log().Warn("escalating to SIGKILL", "pid", h.PID(), "error", ErrShutdownTimeout, "timeout", timeout)
	}

	if err := h.Terminate(process.Kill); err != nil {
		m.log().Warn("sending SIGKILL to indiserver", "pid", h.PID(), "error", err)
	}
	if !h.Wait(killWait) {
		m.log().Error("indiserver did not exit after SIGKILL", "pid", h.PID())
	}
}

func (m *Manager) clearProcess() {
	m.handle.Store(nil)
	m.pid.Store(0)
	m.startedAt.Store(0)
}

func (m *Manager) removeNode(cfg Config) {
	if !cfg.EnableFifo || cfg.FifoPath == "" {
		return
	}
	if err := fifo.RemoveNode(cfg.FifoPath); err != nil {
		m.log().Warn("removing control pipe", "path", cfg.FifoPath, "error", err)
	}
}

// Restart stops the server (gracefully, then forcibly if refused), waits
// RestartDelay and starts it again. The restart counter always advances by one.
func (m *Manager) Restart() bool {
	m.log().Info("restarting indiserver")

	if !m.Stop(false) {
		m.Stop(true)
	}
	time.Sleep(m.Config().RestartDelay)
	m.restarts.Add(1)

	return m.Start()
}

// CheckHealth verifies the process is alive and, on Linux, that it is not
// stopped or a zombie.
func (m *Manager) CheckHealth() error {
	h := m.handle.Load()
	if h == nil || !h.Alive() {
		return process.ErrNoProcess
	}
	return process.CheckState(h.PID())
}

// Stats holds a snapshot of supervisor status.
type Stats struct {
	State           State         `json:"state"`
	Address         string        `json:"address"`
	FifoPath        string        `json:"fifo_path,omitempty"`
	PID             int           `json:"pid,omitempty"`
	Uptime          time.Duration `json:"uptime,omitempty"`
	RestartCount    int64         `json:"restart_count"`
	MonitorFailures int           `json:"monitor_failures"`
	MonitorDisabled bool          `json:"monitor_disabled"`
	LastError       string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the server.
func (m *Manager) Stats() Stats {
	cfg := m.Config()
	uptime, _ := m.Uptime()
	return Stats{
		State:           m.State(),
		Address:         cfg.Address(),
		FifoPath:        m.FifoPath(),
		PID:             m.PID(),
		Uptime:          uptime,
		RestartCount:    m.RestartCount(),
		MonitorFailures: int(m.failures.Load()),
		MonitorDisabled: m.monitorDisabled.Load(),
		LastError:       m.LastError(),
	}
}
