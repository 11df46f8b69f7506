package indiserver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nerrad567/starport-core/internal/process"
)

// Runner executes a short external command and returns its combined output.
// process.CommandRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// IsInstalled reports whether the indiserver binary can be found.
func IsInstalled(binary string) bool {
	return process.Installed(binary)
}

// Version returns the first line of `<binary> --version`.
func Version(ctx context.Context, r Runner, binary string) (string, error) {
	out, err := r.Run(ctx, binary, "--version")
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if err != nil && line == "" {
		return "", err
	}
	if line == "" {
		return "", fmt.Errorf("%s --version produced no output", binary)
	}
	return line, nil
}

// KillExisting terminates stray processes named name (for example an
// indiserver left over from a previous run) and returns how many matched.
func KillExisting(ctx context.Context, r Runner, name string) (int, error) {
	out, err := r.Run(ctx, "pkill", "-c", "-x", name)
	if err != nil {
		// pkill exits 1 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return 0, nil
		}
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing pkill output %q: %w", strings.TrimSpace(out), err)
	}
	return n, nil
}
