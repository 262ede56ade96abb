package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/remedystack/remedy-engine/internal/models"
)

// ErrUnreachable marks a target that could not be contacted at all, as
// opposed to a command that ran and failed. Unreachable attempts are
// retryable; command failures are not.
var ErrUnreachable = errors.New("target unreachable")

// RunResult is the raw outcome of one command invocation.
type RunResult struct {
	Output   string
	ExitCode int
}

// TargetRunner executes a shell command against a target host. The context
// carries the per-attempt deadline.
type TargetRunner interface {
	Run(ctx context.Context, target models.Target, command string) (RunResult, error)
}

// LocalRunner executes commands on the controller host itself. Used for
// targets that resolve to the local machine and in development setups.
type LocalRunner struct {
	Shell string
}

// NewLocalRunner defaults the shell to /bin/sh.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{Shell: "/bin/sh"}
}

func (r *LocalRunner) Run(ctx context.Context, _ models.Target, command string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	result := RunResult{Output: buf.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		return result, err
	}
}
