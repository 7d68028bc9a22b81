package runner

import (
	"context"
	"fmt"
	"time"

	"tinycron/internal/metrics"
	logx "tinycron/pkg/logx"
)

// Task is the unit of work driven by a Runner.
//
// Each phase may block; the runner never interrupts a phase that is running.
type Task interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// PhaseFunc is one task phase supplied as a plain function.
type PhaseFunc func(ctx context.Context) error

// Funcs builds a Task from three functions. All three are required.
type Funcs struct {
	SetupFunc    PhaseFunc
	RunFunc      PhaseFunc
	TeardownFunc PhaseFunc
}

// Validate rejects a Funcs with any nil phase.
func (f Funcs) Validate() error {
	switch {
	case f.SetupFunc == nil:
		return fmt.Errorf("%w: setup function not registered", ErrConfiguration)
	case f.RunFunc == nil:
		return fmt.Errorf("%w: run function not registered", ErrConfiguration)
	case f.TeardownFunc == nil:
		return fmt.Errorf("%w: teardown function not registered", ErrConfiguration)
	}
	return nil
}

func (f Funcs) Setup(ctx context.Context) error    { return f.SetupFunc(ctx) }
func (f Funcs) Run(ctx context.Context) error      { return f.RunFunc(ctx) }
func (f Funcs) Teardown(ctx context.Context) error { return f.TeardownFunc(ctx) }

// Options are fixed at construction.
type Options struct {
	Name            string
	AllowConcurrent bool
	// CrashOnError makes a failed scheduled run stop the loop.
	CrashOnError bool

	Log     logx.Logger
	Metrics *metrics.Registry
	Hooks   Hooks

	// Clock defaults to the wall clock.
	Clock Clock
}

// Hooks observe lifecycle transitions. All hooks run on the loop goroutine
// and must not block for long.
type Hooks struct {
	// OnPolling fires once setup completed and polling begins.
	OnPolling func()
	// OnDraining fires when shutdown is detected, before waiting for in-flight runs.
	OnDraining func(inFlight int)
	// OnRunDone fires for every finished run, including drained and one-shot runs.
	OnRunDone func(Result)
}

// Mode tells how a run was launched or observed.
type Mode string

const (
	ModeScheduled Mode = "scheduled"
	ModeDrained   Mode = "drained"
	ModeOnce      Mode = "once"
)

// Result describes one finished run.
type Result struct {
	ID          uint64
	Task        string
	Mode        Mode
	TriggeredAt time.Time
	StartedAt   time.Time
	Duration    time.Duration
	Err         error
}

// State is the runner lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StatePolling
	StateDraining
	StateFinalizing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateFinalizing:
		return "finalizing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
