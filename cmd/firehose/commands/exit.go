package commands

import (
	"errors"
	"fmt"

	"github.com/florianilch/firehose/internal/stream"
)

// Exit statuses reported by the binary.
const (
	ExitFailure = 1
	ExitDead    = 2
)

// ExitError carries a non-default exit status for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status the process should terminate with.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// withExitCode maps a dead stream onto its dedicated exit status.
func withExitCode(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stream.ErrDead) {
		return &ExitError{Code: ExitDead, Err: err}
	}
	return err
}
