package runner

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrConfiguration covers malformed schedules and invalid task wiring.
	// Parse failures also match cron.ErrSyntax.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotScheduled is returned by RunForeground before SetSchedule succeeded.
	ErrNotScheduled = fmt.Errorf("%w: schedule not set", ErrConfiguration)

	// ErrRunning is returned when an entry point is invoked while another one is active.
	ErrRunning = errors.New("runner already running")
)

// Phase names one of the three task phases.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseRun      Phase = "run"
	PhaseTeardown Phase = "teardown"
)

// PhaseError wraps a failure returned (or panicked) by a task phase.
// It unwraps to the task's own error.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("%s failed: %v", e.Phase, e.Err) }
func (e *PhaseError) Unwrap() error { return e.Err }

// PanicError is produced when a phase panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// callPhase runs fn and converts a panic into a *PanicError.
func callPhase(phase Phase, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PhaseError{Phase: phase, Err: &PanicError{Value: p, Stack: string(debug.Stack())}}
		}
	}()
	if err := fn(); err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}
	return nil
}
