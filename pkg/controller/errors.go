package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchTimeout means the control loop did not signal readiness
	// within the launch timeout. Fatal to the start attempt; the loop may
	// still be alive and should be stopped.
	ErrLaunchTimeout = errors.New("controller: launch timeout")

	// ErrNotRunning means a command was issued outside the Running state.
	ErrNotRunning = errors.New("controller: not running")

	// ErrAlreadyStarted means Start was called more than once.
	ErrAlreadyStarted = errors.New("controller: already started")
)

// CommandError reports a command rejected before enqueue. Invalid arguments
// are never silently clamped.
type CommandError struct {
	Op     string
	Reason string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("controller: %s: invalid argument: %s", e.Op, e.Reason)
}

func invalidArgument(op, format string, args ...any) error {
	return &CommandError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// fatalError marks the unrecoverable failure that forced the loop into
// Failed. Retrieved through Err after the loop exits.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return fmt.Sprintf("controller: fatal: %v", e.err) }
func (e *fatalError) Unwrap() error { return e.err }
