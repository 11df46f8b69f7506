package indiserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nerrad567/starport-core/internal/process"
)

// pidFileMode is the permission mode for the PID file.
const pidFileMode = 0644

// maxPIDFileRetries limits stale-file removal attempts.
const maxPIDFileRetries = 3

// commLen is the kernel's limit on /proc/<pid>/comm, excluding the NUL.
const commLen = 15

// acquirePIDFile atomically creates path containing pid. An existing file is
// replaced only when the process it names is gone or is not binary.
// Called with m.mu held.
func (m *Manager) acquirePIDFile(path string, pid int, binary string) error {
	content := fmt.Sprintf("%d\n", pid)

	for attempt := 0; attempt < maxPIDFileRetries; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, pidFileMode)
		if err == nil {
			_, writeErr := f.WriteString(content)
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(path)
				return fmt.Errorf("writing PID file %s: %w", path, errors.Join(writeErr, closeErr))
			}
			m.activePIDFile = path
			m.log().Debug("acquired PID file", "path", path, "pid", pid)
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating PID file %s: %w", path, err)
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			os.Remove(path)
			continue
		}

		existing, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			m.log().Warn("removing invalid PID file", "path", path, "content", strings.TrimSpace(string(data)))
			os.Remove(path)
			continue
		}

		if existing != pid && isServerProcess(existing, binary) {
			return fmt.Errorf("%w (PID %d, file %s)", ErrAlreadyRunning, existing, path)
		}

		m.log().Info("removing stale PID file", "path", path, "stale_pid", existing)
		os.Remove(path)
	}

	return fmt.Errorf("failed to acquire PID file %s after %d attempts", path, maxPIDFileRetries)
}

// isServerProcess reports whether pid is alive and its command name matches
// binary. A process whose name cannot be read is treated as foreign.
func isServerProcess(pid int, binary string) bool {
	if !process.Exists(pid) {
		return false
	}
	comm, err := process.Comm(pid)
	if err != nil {
		return false
	}

	want := filepath.Base(binary)
	if len(want) > commLen {
		want = want[:commLen]
	}
	return comm == want
}

// releasePIDFile removes the PID file this manager created, if any.
// Called with m.mu held.
func (m *Manager) releasePIDFile() {
	path := m.activePIDFile
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.log().Warn("failed to remove PID file", "path", path, "error", err)
	} else if err == nil {
		m.log().Debug("removed PID file", "path", path)
	}
	m.activePIDFile = ""
}
