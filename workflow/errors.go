package workflow

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds, checkable with errors.Is. Every failure the pipeline reports
// unwraps to exactly one of these.
var (
	ErrConfig       = errors.New("invalid pipeline configuration")
	ErrMissingInput = errors.New("missing input")
	ErrActionFailed = errors.New("action failed")
	ErrCache        = errors.New("cache failure")
)

// ConfigError reports a problem with the manifest or the derived graph:
// duplicate producers, cycles, malformed declarations. Nothing runs once one
// is found.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }
func (e *ConfigError) Unwrap() error { return ErrConfig }

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// MissingInputError reports an input that no task produces and that does not
// exist on disk. It fails the task and its dependents; independent branches
// keep running.
type MissingInputError struct {
	Task string
	Path string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("task %s: input %s does not exist and no task produces it", e.Task, e.Path)
}
func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// ActionFailure reports an action that ran and did not succeed, or completed
// without producing a declared output. ExitCode is -1 when no process exit
// code applies.
type ActionFailure struct {
	Task     string
	ExitCode int
	Err      error
}

func (e *ActionFailure) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("task %s: action exited with code %d", e.Task, e.ExitCode)
	}
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}
func (e *ActionFailure) Unwrap() error { return ErrActionFailed }

// CacheError reports a cache tier problem. Cache errors never fail a run; the
// executor logs one warning, disables the cache and keeps executing actions.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}
func (e *CacheError) Unwrap() error { return ErrCache }
