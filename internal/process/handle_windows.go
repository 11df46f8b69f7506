//go:build windows

package process

import (
	"fmt"
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// terminate has no graceful variant on Windows; both kinds end the process.
func terminate(h *Handle, sig Signal) error {
	if err := h.cmd.Process.Kill(); err != nil && h.Alive() {
		return fmt.Errorf("sending %s to %s (pid %d): %w", sig, h.name, h.pid, err)
	}
	return nil
}

// Exists reports whether a process with the given pid exists.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
