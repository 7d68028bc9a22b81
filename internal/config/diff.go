package config

import (
	"reflect"
	"strings"

	logx "tinycron/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Env values are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Task, newCfg.Task
	if ot.Name != nt.Name ||
		ot.AllowConcurrent != nt.AllowConcurrent ||
		ot.Crashes() != nt.Crashes() ||
		!reflect.DeepEqual(ot.Setup, nt.Setup) ||
		!reflect.DeepEqual(ot.Run, nt.Run) ||
		!reflect.DeepEqual(ot.Teardown, nt.Teardown) ||
		strings.TrimSpace(ot.Workdir) != strings.TrimSpace(nt.Workdir) ||
		!reflect.DeepEqual(ot.Env, nt.Env) {
		changed = append(changed, "task")
		attrs = append(attrs,
			logx.String("task.name", nt.Name),
			logx.Bool("task.allow_concurrent", nt.AllowConcurrent),
			logx.Bool("task.crash_on_error", nt.Crashes()),
			logx.Int("task.env_count", len(nt.Env)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		if spec, err := newCfg.Schedule.Spec(); err == nil {
			attrs = append(attrs, logx.String("schedule", spec.String()))
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)) {
		changed = append(changed, "storage")
		st := derefStorage(newCfg.Storage)
		attrs = append(attrs, logx.String("storage.driver", st.Driver))
	}

	if !reflect.DeepEqual(derefMetrics(oldCfg.Metrics), derefMetrics(newCfg.Metrics)) {
		changed = append(changed, "metrics")
		m := derefMetrics(newCfg.Metrics)
		attrs = append(attrs, logx.Bool("metrics.enabled", m.Enabled), logx.String("metrics.addr", m.Addr))
	}

	return changed, attrs
}

// RestartRequired lists the changed sections that only take effect after a
// restart. Only logging is applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefMetrics(m *MetricsConfig) MetricsConfig {
	if m == nil {
		return MetricsConfig{}
	}
	return *m
}
