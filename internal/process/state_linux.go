//go:build linux

package process

import (
	"fmt"
	"os"
	"strings"
)

// CheckState reads /proc/PID/stat and returns an error if the process is
// stopped (T), traced (t), zombie (Z) or dead (X/x).
func CheckState(pid int) error {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoProcess, err)
	}

	// Format: pid (comm) state ... where comm may itself contain spaces or
	// parentheses, so locate the last closing paren.
	stat := string(data)
	idx := strings.LastIndex(stat, ")")
	if idx == -1 || idx+2 >= len(stat) {
		return fmt.Errorf("invalid /proc/%d/stat format", pid)
	}

	fields := strings.Fields(stat[idx+2:])
	if len(fields) == 0 {
		return fmt.Errorf("invalid /proc/%d/stat format: no state field", pid)
	}

	switch state := fields[0]; state {
	case "T", "t":
		return fmt.Errorf("%w (state=%s)", ErrStopped, state)
	case "Z":
		return fmt.Errorf("%w (state=%s)", ErrZombie, state)
	case "X", "x":
		return fmt.Errorf("%w (state=%s)", ErrNoProcess, state)
	default:
		return nil
	}
}

// Comm returns the command name of a running process from /proc/PID/comm.
func Comm(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
