package process

import "errors"

var (
	// ErrNoBinary is returned by Spawn when the argument vector is empty.
	ErrNoBinary = errors.New("process: no binary in argv")

	// ErrNoProcess means the process does not exist or is dead.
	ErrNoProcess = errors.New("process: not running")

	// ErrStopped means the process is suspended (SIGSTOP or traced).
	ErrStopped = errors.New("process: stopped")

	// ErrZombie means the process exited but was never reaped.
	ErrZombie = errors.New("process: zombie")

	// ErrUnsupported is returned on platforms without /proc.
	ErrUnsupported = errors.New("process: not supported on this platform")
)
