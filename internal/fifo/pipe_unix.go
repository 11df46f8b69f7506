//go:build unix

package fifo

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// readerPollInterval is how often a blocking-mode open retries while waiting
// for the server to open its end.
const readerPollInterval = 20 * time.Millisecond

// rawPipe writes through a bare descriptor. os.File would register the FIFO
// with the runtime poller, which turns EAGAIN into an indefinite park.
type rawPipe struct {
	fd int
}

func (p *rawPipe) Write(b []byte) (int, error) {
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *rawPipe) Close() error {
	return unix.Close(p.fd)
}

// openPipe opens the write end of path. In blocking mode it waits up to wait
// for a reader and then clears O_NONBLOCK on the descriptor.
func openPipe(path string, nonBlocking bool, wait time.Duration) (pipe, error) {
	const flags = unix.O_WRONLY | unix.O_NONBLOCK | unix.O_CLOEXEC

	fd, err := unix.Open(path, flags, 0)
	if !nonBlocking {
		deadline := time.Now().Add(wait)
		for errors.Is(err, unix.ENXIO) && time.Now().Before(deadline) {
			time.Sleep(readerPollInterval)
			fd, err = unix.Open(path, flags, 0)
		}
	}
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s", ErrNotPipe, path)
	}

	if !nonBlocking {
		if err := unix.SetNonblock(fd, false); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	return &rawPipe{fd: fd}, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func isNoReader(err error) bool {
	return errors.Is(err, unix.ENXIO)
}

// MakeNode creates a fresh FIFO at path, replacing whatever was there.
func MakeNode(path string) error {
	if err := RemoveNode(path); err != nil {
		return err
	}
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return &os.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}
