// Package metrics provides Prometheus instrumentation for the task runner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tinycron"

// Registry holds all metric instances for the runner.
//
// All methods are safe on a nil *Registry, which disables collection.
type Registry struct {
	Triggers    *prometheus.CounterVec
	Launched    *prometheus.CounterVec
	Skipped     *prometheus.CounterVec
	Completed   *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	InFlight    *prometheus.GaugeVec
	RunDuration *prometheus.HistogramVec
}

// NewRegistry creates the runner metrics on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		Triggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "triggers_total",
				Help:      "Number of seconds at which the schedule matched",
			},
			[]string{"task"},
		),
		Launched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "runs_launched_total",
				Help:      "Number of run-phase invocations started",
			},
			[]string{"task"},
		),
		Skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "runs_skipped_total",
				Help:      "Triggers skipped because a run was still in flight",
			},
			[]string{"task"},
		),
		Completed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "runs_completed_total",
				Help:      "Number of run-phase invocations that returned without error",
			},
			[]string{"task"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "phase_failures_total",
				Help:      "Number of failed task phases",
			},
			[]string{"task", "phase"},
		),
		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "runs_in_flight",
				Help:      "Run-phase invocations currently tracked as in flight",
			},
			[]string{"task"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "run_duration_seconds",
				Help:      "Time spent in the run phase",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}
}

func (m *Registry) ObserveTrigger(task string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(task).Inc()
}

func (m *Registry) ObserveLaunch(task string) {
	if m == nil {
		return
	}
	m.Launched.WithLabelValues(task).Inc()
}

func (m *Registry) ObserveSkip(task string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(task).Inc()
}

func (m *Registry) SetInFlight(task string, n int) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(task).Set(float64(n))
}

// ObservePhaseFailure counts a failed phase ("setup", "run", "teardown").
func (m *Registry) ObservePhaseFailure(task, phase string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(task, phase).Inc()
}

// ObserveRun records the duration and outcome of one run phase.
func (m *Registry) ObserveRun(task string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(task).Observe(took.Seconds())
	if err != nil {
		m.Failures.WithLabelValues(task, "run").Inc()
		return
	}
	m.Completed.WithLabelValues(task).Inc()
}
