package config

import (
	"fmt"
	"strings"
	"time"

	"tinycron/internal/task/cron"
	logx "tinycron/pkg/logx"
)

// Config is the tinycron config file.
//
// Example (YAML):
//
//	task:
//	  name: backup
//	  run: ["/usr/local/bin/backup.sh"]
//	schedule:
//	  expr: "0 */15 * * * *"
//	logging:
//	  level: info
//	  console: true
type Config struct {
	Task     TaskConfig     `json:"task"`
	Schedule ScheduleConfig `json:"schedule"`
	Logging  LoggingConfig  `json:"logging"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

// TaskConfig describes the three task phases as argv commands.
// Setup and teardown may be omitted; run is required.
type TaskConfig struct {
	Name            string `json:"name,omitempty"`
	AllowConcurrent bool   `json:"allow_concurrent,omitempty"`
	CrashOnError    *bool  `json:"crash_on_error,omitempty"`

	Setup    []string `json:"setup,omitempty"`
	Run      []string `json:"run"`
	Teardown []string `json:"teardown,omitempty"`

	Workdir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Crashes reports whether a failed run stops the loop. Unset means true.
func (t TaskConfig) Crashes() bool {
	if t.CrashOnError == nil {
		return true
	}
	return *t.CrashOnError
}

// ScheduleConfig is either a one-line expr or the six individual fields.
// Omitted fields default to "*" as long as at least one is given.
type ScheduleConfig struct {
	Expr string `json:"expr,omitempty"`

	Month   string `json:"month,omitempty"`
	Day     string `json:"day,omitempty"`
	Hour    string `json:"hour,omitempty"`
	Minute  string `json:"minute,omitempty"`
	Second  string `json:"second,omitempty"`
	Weekday string `json:"weekday,omitempty"`
}

func (s ScheduleConfig) fields() cron.Spec {
	return cron.Spec{
		Month:   strings.TrimSpace(s.Month),
		Day:     strings.TrimSpace(s.Day),
		Hour:    strings.TrimSpace(s.Hour),
		Minute:  strings.TrimSpace(s.Minute),
		Second:  strings.TrimSpace(s.Second),
		Weekday: strings.TrimSpace(s.Weekday),
	}
}

// Spec resolves the section into a cron.Spec. It does not validate the
// field grammar; cron.NewSchedule does.
func (s ScheduleConfig) Spec() (cron.Spec, error) {
	fields := s.fields()
	if strings.TrimSpace(s.Expr) != "" {
		if !fields.IsZero() {
			return cron.Spec{}, errExprAndFields
		}
		return cron.ParseExpr(s.Expr)
	}
	if fields.IsZero() {
		return fields, nil
	}
	def := cron.DefaultSpec()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&fields.Month, def.Month)
	fill(&fields.Day, def.Day)
	fill(&fields.Hour, def.Hour)
	fill(&fields.Minute, def.Minute)
	fill(&fields.Second, def.Second)
	fill(&fields.Weekday, def.Weekday)
	return fields, nil
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx converts the section to the logger's config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// StorageConfig controls the optional run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tinycron.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// BusyTimeoutOr parses busy_timeout; blank or zero yields def.
func (s StorageConfig) BusyTimeoutOr(def time.Duration) (time.Duration, error) {
	return durationOr("storage.busy_timeout", s.BusyTimeout, def)
}

// MetricsConfig controls the Prometheus endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Path          string `json:"path,omitempty"`  // default: "/metrics"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`

	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
}

const (
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"
)

// ReadHeaderTimeoutOr parses read_header_timeout; blank or zero yields def.
func (m MetricsConfig) ReadHeaderTimeoutOr(def time.Duration) (time.Duration, error) {
	return durationOr("metrics.read_header_timeout", m.ReadHeaderTimeout, def)
}

func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
