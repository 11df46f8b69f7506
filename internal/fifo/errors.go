package fifo

import (
	"errors"
	"fmt"
)

// Sentinel errors for control channel operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoReader means the pipe exists but nothing has it open for reading,
	// usually because the server is not running.
	ErrNoReader = errors.New("fifo: no reader on pipe")

	// ErrWouldBlock means every write attempt found the pipe full.
	ErrWouldBlock = errors.New("fifo: write would block")

	// ErrWriteFailed matches every *WriteError regardless of kind.
	ErrWriteFailed = errors.New("fifo: write failed")

	// ErrNotPipe means the configured path is not a named pipe.
	ErrNotPipe = errors.New("fifo: path is not a named pipe")

	// ErrQueueFull is reported when an async command exceeds MaxQueueSize.
	ErrQueueFull = errors.New("fifo: command queue full")

	// ErrInvalidCommand is returned for commands that cannot be rendered safely.
	ErrInvalidCommand = errors.New("fifo: invalid command")

	// ErrClosed is reported for async commands after Close.
	ErrClosed = errors.New("fifo: channel closed")

	// ErrUnsupported is returned on platforms without named pipes.
	ErrUnsupported = errors.New("fifo: named pipes not supported on this platform")
)

// WriteErrorKind classifies a pipe failure.
type WriteErrorKind int

const (
	// NoReader: opening for write failed because no process is reading.
	NoReader WriteErrorKind = iota

	// Transient: the pipe stayed full for every retry.
	Transient

	// Fatal: any other open or write failure.
	Fatal
)

// String returns the kind name.
func (k WriteErrorKind) String() string {
	switch k {
	case NoReader:
		return "no reader"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// WriteError describes a failed delivery to the pipe.
type WriteError struct {
	Kind     WriteErrorKind
	Op       string // "open" or "write"
	Path     string
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	switch e.Kind {
	case NoReader:
		return fmt.Sprintf("fifo: %s %s: no reader (is the server listening?)", e.Op, e.Path)
	case Transient:
		return fmt.Sprintf("fifo: %s %s: pipe busy after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fifo: %s %s: %v", e.Op, e.Path, e.Err)
	}
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrWriteFailed:
		return true
	case ErrNoReader:
		return e.Kind == NoReader
	case ErrWouldBlock:
		return e.Kind == Transient
	default:
		return false
	}
}
