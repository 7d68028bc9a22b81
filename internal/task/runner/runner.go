package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tinycron/internal/runtime/shutdown"
	"tinycron/internal/task/cron"
	logx "tinycron/pkg/logx"
)

// signalSource is the part of shutdown.Latch the loop depends on.
type signalSource interface {
	Triggered() bool
	Stop()
}

// tick is reported to the test observer after each trigger evaluation.
type tick struct {
	at       time.Time
	matched  bool
	launched bool
	skipped  bool
	inFlight int
}

// Runner drives one Task on a cron schedule.
type Runner struct {
	task Task
	opts Options
	log  logx.Logger

	clock    Clock
	schedule *cron.Schedule

	state   atomic.Int32
	running atomic.Bool

	skipLog *rate.Limiter

	// test seams
	listen func() signalSource
	onTick func(tick)
}

// New builds a Runner for task. A task that can validate itself (such as
// Funcs) is validated here.
func New(task Task, opts Options) (*Runner, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: task is nil", ErrConfiguration)
	}
	if v, ok := task.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Name != "" {
		log = log.With(logx.String("task", opts.Name))
	}
	clock := opts.Clock
	if clock == nil {
		clock = wallClock{}
	}

	return &Runner{
		task:    task,
		opts:    opts,
		log:     log,
		clock:   clock,
		skipLog: rate.NewLimiter(rate.Every(time.Minute), 1),
		listen:  func() signalSource { return shutdown.Listen() },
	}, nil
}

// SetSchedule parses and installs the schedule. It must be called before RunForeground.
func (r *Runner) SetSchedule(spec cron.Spec) error {
	s, err := cron.NewSchedule(spec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	r.schedule = s
	return nil
}

// Schedule returns the installed schedule, or nil.
func (r *Runner) Schedule() *cron.Schedule { return r.schedule }

// Name returns the task label.
func (r *Runner) Name() string { return r.opts.Name }

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.log.Debug("state changed", logx.String("state", s.String()))
}

// RunForeground runs setup, polls the schedule once per second until a
// shutdown signal arrives or ctx is done, drains in-flight runs and finally
// runs teardown.
//
// Teardown runs on every path once setup has been attempted. A teardown
// failure is joined with any earlier fatal error.
func (r *Runner) RunForeground(ctx context.Context) (err error) {
	if r.schedule == nil {
		return ErrNotScheduled
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	r.logTaskInfo()
	r.setState(StateInitializing)
	defer func() { err = r.finalize(ctx, err) }()

	if err := r.setup(ctx); err != nil {
		return err
	}

	sig := r.listen()
	defer sig.Stop()

	r.setState(StatePolling)
	if r.opts.Hooks.OnPolling != nil {
		r.opts.Hooks.OnPolling()
	}
	return r.poll(ctx, sig)
}

// RunOnce runs setup, exactly one run (ignoring the schedule) and teardown.
// A run failure is returned; teardown still runs.
func (r *Runner) RunOnce(ctx context.Context) (err error) {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	r.logTaskInfo()
	r.log.Info("starting task once immediately")
	r.setState(StateInitializing)
	defer func() { err = r.finalize(ctx, err) }()

	if err := r.setup(ctx); err != nil {
		return err
	}

	now := r.clock.Now()
	r.opts.Metrics.ObserveLaunch(r.opts.Name)
	started := time.Now()
	runErr := callPhase(PhaseRun, func() error { return r.task.Run(ctx) })
	res := Result{
		ID:          1,
		Task:        r.opts.Name,
		Mode:        ModeOnce,
		TriggeredAt: now,
		StartedAt:   started,
		Duration:    time.Since(started),
		Err:         runErr,
	}
	r.finish(res)
	return runErr
}

func (r *Runner) setup(ctx context.Context) error {
	r.log.Info("running setup")
	started := time.Now()
	if err := callPhase(PhaseSetup, func() error { return r.task.Setup(ctx) }); err != nil {
		r.opts.Metrics.ObservePhaseFailure(r.opts.Name, string(PhaseSetup))
		r.log.Error("setup failed", logx.Err(err))
		return err
	}
	r.log.Info("setup complete", logx.Duration("took", time.Since(started)))
	return nil
}

// finalize runs teardown with a context that survives cancellation of ctx.
func (r *Runner) finalize(ctx context.Context, prev error) error {
	r.setState(StateFinalizing)
	defer r.setState(StateStopped)

	r.log.Info("running teardown")
	tctx := context.WithoutCancel(ctx)
	started := time.Now()
	err := callPhase(PhaseTeardown, func() error { return r.task.Teardown(tctx) })
	if err != nil {
		r.opts.Metrics.ObservePhaseFailure(r.opts.Name, string(PhaseTeardown))
		r.log.Error("teardown failed", logx.Err(err))
		return errors.Join(prev, err)
	}
	r.log.Info("teardown complete", logx.Duration("took", time.Since(started)))
	return prev
}

func (r *Runner) poll(ctx context.Context, sig signalSource) error {
	fl := newFlights()
	// Runs are never cancelled by shutdown; they only see ctx's values.
	runCtx := context.WithoutCancel(ctx)

	var fatal error
	for {
		if sig.Triggered() || ctx.Err() != nil {
			r.log.Info("shutdown requested, exiting",
				logx.Bool("signal", sig.Triggered()), logx.Bool("ctx_done", ctx.Err() != nil))
			break
		}

		now := r.clock.Now()
		sec := now.Truncate(time.Second)
		t := tick{at: sec}
		if r.schedule.Matches(sec) {
			t.matched = true
			r.opts.Metrics.ObserveTrigger(r.opts.Name)
			r.log.Info("task triggered", logx.Time("at", sec))
			if fl.len() == 0 || r.opts.AllowConcurrent {
				r.launch(runCtx, fl, sec)
				t.launched = true
			} else {
				t.skipped = true
				r.skipped(sec, fl.len())
			}
		}
		t.inFlight = fl.len()
		if r.onTick != nil {
			r.onTick(t)
		}

		_ = r.clock.Sleep(ctx, untilNextSecond(now))

		if err := r.reap(fl); err != nil {
			fatal = err
			break
		}
	}

	r.drain(fl)
	return fatal
}

func (r *Runner) launch(ctx context.Context, fl *flights, triggeredAt time.Time) {
	id := fl.add(triggeredAt)
	r.opts.Metrics.ObserveLaunch(r.opts.Name)
	r.opts.Metrics.SetInFlight(r.opts.Name, fl.len())
	r.log.Debug("run launched", logx.Uint64("run_id", id), logx.Int("in_flight", fl.len()))

	go func() {
		started := time.Now()
		err := callPhase(PhaseRun, func() error { return r.task.Run(ctx) })
		fl.done <- completion{id: id, started: started, duration: time.Since(started), err: err}
	}()
}

func (r *Runner) skipped(at time.Time, inFlight int) {
	r.opts.Metrics.ObserveSkip(r.opts.Name)
	fields := []logx.Field{logx.Time("at", at), logx.Int("in_flight", inFlight)}
	if r.skipLog.Allow() {
		r.log.Info("task already running, skipped", fields...)
		return
	}
	r.log.Debug("task already running, skipped", fields...)
}

// reap collects every completion that has arrived since the last tick.
// With CrashOnError the first failure is returned and stops polling.
func (r *Runner) reap(fl *flights) error {
	for {
		select {
		case c := <-fl.done:
			res := r.complete(fl, c, ModeScheduled)
			if res.Err == nil {
				continue
			}
			if r.opts.CrashOnError {
				r.log.Error("run failed, stopping", logx.Uint64("run_id", res.ID), logx.Err(res.Err))
				return res.Err
			}
			r.log.Error("run failed", logx.Uint64("run_id", res.ID), logx.Err(res.Err), r.panicStack(res.Err))
		default:
			return nil
		}
	}
}

// drain waits for every in-flight run. Failures are logged, never returned.
func (r *Runner) drain(fl *flights) {
	r.setState(StateDraining)
	n := fl.len()
	if r.opts.Hooks.OnDraining != nil {
		r.opts.Hooks.OnDraining(n)
	}
	if n == 0 {
		r.log.Info("all runs done")
		return
	}
	r.log.Info("waiting for in-flight runs to finish", logx.Int("in_flight", n), logx.Any("run_ids", fl.ids()))

	var failed int
	for fl.len() > 0 {
		res := r.complete(fl, <-fl.done, ModeDrained)
		if res.Err != nil {
			failed++
			r.log.Error("run failed during drain", logx.Uint64("run_id", res.ID), logx.Err(res.Err), r.panicStack(res.Err))
		}
	}
	r.log.Info("all runs done", logx.Int("drained", n), logx.Int("failed", failed))
}

func (r *Runner) complete(fl *flights, c completion, mode Mode) Result {
	f, _ := fl.remove(c.id)
	r.opts.Metrics.SetInFlight(r.opts.Name, fl.len())
	res := Result{
		ID:          c.id,
		Task:        r.opts.Name,
		Mode:        mode,
		TriggeredAt: f.triggeredAt,
		StartedAt:   c.started,
		Duration:    c.duration,
		Err:         c.err,
	}
	r.finish(res)
	return res
}

// finish records metrics and hooks for a finished run.
func (r *Runner) finish(res Result) {
	r.opts.Metrics.ObserveRun(res.Task, res.Duration, res.Err)
	if res.Err == nil {
		r.log.Info("run complete", logx.Uint64("run_id", res.ID), logx.Duration("took", res.Duration))
	}
	if r.opts.Hooks.OnRunDone != nil {
		r.opts.Hooks.OnRunDone(res)
	}
}

func (r *Runner) panicStack(err error) logx.Field {
	var pe *PanicError
	if errors.As(err, &pe) {
		return logx.Stack(pe.Stack)
	}
	return nil
}

func (r *Runner) logTaskInfo() {
	r.log.Info("task info",
		logx.String("name", r.opts.Name),
		logx.Bool("allow_concurrent", r.opts.AllowConcurrent),
		logx.Bool("crash_on_error", r.opts.CrashOnError),
	)
	if r.schedule == nil {
		return
	}
	spec := r.schedule.Spec()
	r.log.Info("cron config",
		logx.String("month", spec.Month),
		logx.String("day", spec.Day),
		logx.String("hour", spec.Hour),
		logx.String("minute", spec.Minute),
		logx.String("second", spec.Second),
		logx.String("weekday", spec.Weekday),
	)
	if next, ok := r.schedule.Next(r.clock.Now()); ok {
		r.log.Info("next trigger", logx.Time("at", next))
	}
}
