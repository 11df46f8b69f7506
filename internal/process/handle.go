package process

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

// logFileMode is the permission mode for a redirected output log.
const logFileMode = 0644

// Signal selects how Terminate asks a process to exit.
type Signal int

const (
	// Graceful asks the process to shut down (SIGTERM on unix).
	Graceful Signal = iota

	// Kill ends the process immediately (SIGKILL on unix).
	Kill
)

// String returns the signal name used in log output.
func (s Signal) String() string {
	switch s {
	case Graceful:
		return "graceful"
	case Kill:
		return "kill"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Spec describes a process to spawn.
type Spec struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Argv is the full argument vector. Argv[0] is the executable.
	Argv []string

	// Env holds extra KEY=value pairs appended to the parent environment.
	Env []string

	// LogPath receives stdout and stderr when set. The file is truncated
	// on every spawn. When empty, output is discarded.
	LogPath string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string
}

// Handle is an exclusively owned child process.
//
// The child runs in its own session so that Terminate reaches every process
// it forks. A background goroutine reaps the child as soon as it exits, which
// means a zombie is never reported as alive.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done    chan struct{}
	exitErr error
}

// Spawn starts the process described by spec.
//
// Returns:
//   - *Handle: running process, reaped automatically on exit
//   - error: if the log file cannot be opened or the exec fails
func Spawn(spec Spec) (*Handle, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, ErrNoBinary
	}

	name := spec.Name
	if name == "" {
		name = spec.Argv[0]
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...) //nolint:gosec // argv is built from validated config
	cmd.SysProcAttr = sysProcAttr()
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	var logFile *os.File
	if spec.LogPath != "" {
		f, err := os.OpenFile(spec.LogPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, logFileMode)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", spec.LogPath, err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		logFile = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	// The child holds its own copy of the descriptor now.
	if logFile != nil {
		logFile.Close()
	}

	h := &Handle{
		name:      name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.reap()

	return h, nil
}

func (h *Handle) reap() {
	h.exitErr = h.cmd.Wait()
	close(h.done)
}

// Name returns the process name used for logging.
func (h *Handle) Name() string {
	return h.name
}

// PID returns the operating system process id.
func (h *Handle) PID() int {
	return h.pid
}

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the error from the reap, or nil while the process is alive
// or if it exited with status 0.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Terminate delivers sig to the process and everything in its session.
// A process that has already exited is not an error.
func (h *Handle) Terminate(sig Signal) error {
	if !h.Alive() {
		return nil
	}
	return terminate(h, sig)
}

// Wait blocks until the process exits or timeout elapses. A timeout of zero
// or less waits indefinitely.
//
// Returns:
//   - bool: true if the process has exited
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-h.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}
