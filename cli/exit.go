package cli

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// Exit codes. Scripts branch on these, so they are part of the interface.
const (
	exitOK           = 0
	exitRunFailed    = 1
	exitConfig       = 2
	exitMissingInput = 3
	exitCache        = 4
)

// runFailedError marks a run whose summary is already on screen, so Execute
// does not print it again. It unwraps to the run's root cause.
type runFailedError struct {
	cause error
}

func (e *runFailedError) Error() string {
	if e.cause != nil {
		return "run failed: " + e.cause.Error()
	}
	return "run failed"
}

func (e *runFailedError) Unwrap() error { return e.cause }

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, workflow.ErrMissingInput):
		return exitMissingInput
	case errors.Is(err, workflow.ErrConfig):
		return exitConfig
	case errors.Is(err, workflow.ErrCache):
		return exitCache
	case errors.Is(err, context.Canceled):
		return exitRunFailed
	default:
		return exitRunFailed
	}
}
