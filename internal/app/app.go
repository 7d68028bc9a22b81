package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tinycron/internal/config"
	"tinycron/internal/metrics"
	"tinycron/internal/observability/httpserver"
	"tinycron/internal/runtime/supervisor"
	"tinycron/internal/shelltask"
	"tinycron/internal/storage"
	"tinycron/internal/task/runner"
	logx "tinycron/pkg/logx"
)

// journalTimeout bounds a single journal append so a slow disk never stalls the loop.
const journalTimeout = 2 * time.Second

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	reg     *prometheus.Registry
	metrics *metrics.Registry
	http    *httpserver.Server

	runner *runner.Runner
	sup    *supervisor.Supervisor

	// notify sends sd_notify states; replaced in tests.
	notify func(state string)
}

// New loads the config file and builds every component. Nothing runs yet.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(cfg.Logging.Logx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
	}
	a.notify = a.sdNotify

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, a.closeOnError(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, a.closeOnError(err)
		}
		a.store = st
		a.log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewRegistry(a.reg)

	if hc, enabled, err := mapMetricsConfig(cfg); err != nil {
		return nil, a.closeOnError(err)
	} else if enabled {
		a.http = httpserver.New(hc, a.reg, log.With(logx.String("comp", "metrics")))
	}

	spec, err := cfg.Schedule.Spec()
	if err != nil {
		return nil, a.closeOnError(err)
	}
	task := shelltask.New(mapTaskConfig(cfg), log.With(logx.String("comp", "task"), logx.String("task", cfg.Task.Name)))
	r, err := runner.New(task, runner.Options{
		Name:            cfg.Task.Name,
		AllowConcurrent: cfg.Task.AllowConcurrent,
		CrashOnError:    cfg.Task.Crashes(),
		Log:             log.With(logx.String("comp", "runner")),
		Metrics:         a.metrics,
		Hooks: runner.Hooks{
			OnPolling:  a.onPolling,
			OnDraining: a.onDraining,
			OnRunDone:  a.onRunDone,
		},
	})
	if err != nil {
		return nil, a.closeOnError(err)
	}
	if !spec.IsZero() {
		if err := r.SetSchedule(spec); err != nil {
			return nil, a.closeOnError(err)
		}
	}
	a.runner = r
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Runner() *runner.Runner { return a.runner }

func (a *App) Store() storage.Store { return a.store }

// Run polls the schedule until ctx is done or a shutdown signal arrives.
// Background services (metrics endpoint, config watcher) live for the
// duration of the call.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if a.http != nil {
		a.sup.GoRestart("metrics.http", a.http.Serve, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}
	a.startConfigReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	err := a.runner.RunForeground(ctx)
	a.stop()
	return err
}

// RunOnce runs setup, one run and teardown without polling.
func (a *App) RunOnce(ctx context.Context) error {
	err := a.runner.RunOnce(ctx)
	a.stop()
	return err
}

func (a *App) onPolling() {
	a.notify(daemon.SdNotifyReady)
}

func (a *App) onDraining(inFlight int) {
	a.notify(daemon.SdNotifyStopping)
	if inFlight > 0 {
		a.notify(fmt.Sprintf("STATUS=draining %d run(s)", inFlight))
	}
}

func (a *App) onRunDone(res runner.Result) {
	if a.store == nil {
		return
	}
	rec := storage.RunRecord{
		At:          time.Now(),
		RunID:       res.ID,
		Task:        res.Task,
		Mode:        string(res.Mode),
		TriggeredAt: res.TriggeredAt,
		StartedAt:   res.StartedAt,
		TookMS:      res.Duration.Milliseconds(),
		OK:          res.Err == nil,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
		var pe *runner.PhaseError
		if errors.As(res.Err, &pe) {
			rec.Phase = string(pe.Phase)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := a.store.AppendRun(ctx, rec); err != nil {
		a.log.Warn("run journal append failed", logx.Uint64("run_id", res.ID), logx.Err(err))
	}
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startConfigReload applies logging changes live and reports everything
// else as requiring a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.Strings("sections", restart))
	}
	a.logs.Apply(next.Logging.Logx())
}

// stop tears down background services in order, each step bounded.
func (a *App) stop() {
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), max)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.sup != nil {
		step("supervisor", 3*time.Second, a.sup.Stop)
		a.log.Debug("background goroutines stopped", logx.Any("counters", a.sup.Counters()))
	}
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	a.log.Info("app stopped")
	_ = a.logs.Close()
}

func (a *App) closeOnError(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
