package workflow

import (
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Action is the opaque work a task performs. Describe and Fingerprint must be
// side-effect free; Fingerprint feeds the cache key, so two actions with the
// same fingerprint must produce the same outputs from the same inputs.
type Action interface {
	Describe() string
	Fingerprint() string
	Run(ctx context.Context, dir string, stdout, stderr io.Writer) error
}

// ShellAction runs a single command line through sh -c.
type ShellAction struct {
	Script string
}

func (a ShellAction) Describe() string { return a.Script }

func (a ShellAction) Fingerprint() string { return "sh\x00" + a.Script }

func (a ShellAction) Run(ctx context.Context, dir string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", a.Script)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// ExecAction invokes an argv vector directly, without a shell.
type ExecAction struct {
	Argv []string
}

func (a ExecAction) Describe() string { return strings.Join(a.Argv, " ") }

func (a ExecAction) Fingerprint() string { return "exec\x00" + strings.Join(a.Argv, "\x00") }

func (a ExecAction) Run(ctx context.Context, dir string, stdout, stderr io.Writer) error {
	if len(a.Argv) == 0 {
		return errors.New("exec action has an empty argv")
	}
	cmd := exec.CommandContext(ctx, a.Argv[0], a.Argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// CommandExitCode extracts the process exit code from a Run error. It returns
// -1 when the action never produced one (startup failure, kill signal).
func CommandExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
