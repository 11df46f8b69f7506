package indiserver

import "errors"

// Sentinel errors for supervisor operations.
// LastError() carries the message; these allow errors.Is checks on the
// underlying cause via LastErr().
var (
	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("indiserver: invalid configuration")

	// ErrSpawn means the process could not be started.
	ErrSpawn = errors.New("indiserver: failed to spawn process")

	// ErrStartupTimeout means the process did not stay alive long enough.
	ErrStartupTimeout = errors.New("indiserver: startup timed out")

	// ErrShutdownTimeout means a graceful stop had to be escalated to SIGKILL.
	ErrShutdownTimeout = errors.New("indiserver: graceful shutdown timed out")

	// ErrPipeCreate means the control FIFO could not be created.
	ErrPipeCreate = errors.New("indiserver: failed to create control pipe")

	// ErrBusy is recorded when an operation is refused because another is in progress.
	ErrBusy = errors.New("indiserver: operation already in progress")

	// ErrNotStopped is returned by SetConfig while the server is active.
	ErrNotStopped = errors.New("indiserver: configuration can only change while stopped")

	// ErrAlreadyRunning means the PID file names a live indiserver.
	ErrAlreadyRunning = errors.New("indiserver: another instance is already running")
)
