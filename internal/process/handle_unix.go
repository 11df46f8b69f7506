//go:build unix

package process

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in a new session, making it a process group
// leader so the whole group can be signalled at once.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func terminate(h *Handle, sig Signal) error {
	s := unix.SIGTERM
	if sig == Kill {
		s = unix.SIGKILL
	}

	// Negative pid signals the process group created by Setsid.
	err := unix.Kill(-h.pid, s)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; the leader may still be waiting to be reaped.
		err = unix.Kill(h.pid, s)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending %s to %s (pid %d): %w", sig, h.name, h.pid, err)
	}
	return nil
}

// Exists reports whether a process with the given pid exists and can be
// signalled by this user.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
