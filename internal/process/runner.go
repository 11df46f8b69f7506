package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// defaultRunTimeout bounds a single command when the caller's context has
// no deadline of its own.
const defaultRunTimeout = 10 * time.Second

// CommandRunner executes short-lived external tools and returns their
// combined output.
type CommandRunner struct {
	// Timeout overrides defaultRunTimeout when positive.
	Timeout time.Duration
}

// Run executes name with args and returns stdout and stderr combined.
//
// A non-zero exit status is returned as an error together with whatever
// output the tool produced.
func (r CommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec // tool names are fixed by callers
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return string(out), fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return string(out), fmt.Errorf("running %s: %w", name, err)
	}
	return string(out), nil
}

// Installed reports whether binary resolves to an executable, either as a
// path or through PATH lookup.
func Installed(binary string) bool {
	if binary == "" {
		return false
	}
	_, err := exec.LookPath(binary)
	return err == nil
}
