package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"tinycron/internal/task/cron"
)

const sampleYAML = `
task:
  name: backup
  allow_concurrent: false
  crash_on_error: true
  setup: ["mkdir", "-p", "/tmp/backup"]
  run: ["/usr/local/bin/backup.sh", "--quick"]
  env:
    MODE: quick
schedule:
  second: "0"
  minute: "*/15"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./journal.db
  busy_timeout: 5s
metrics:
  enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "tinycron.yaml", sampleYAML))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Task.Name != "backup" || !cfg.Task.Crashes() || cfg.Task.AllowConcurrent {
		t.Fatalf("task = %+v", cfg.Task)
	}
	if !slices.Equal(cfg.Task.Run, []string{"/usr/local/bin/backup.sh", "--quick"}) {
		t.Fatalf("run = %v", cfg.Task.Run)
	}
	if cfg.Task.Env["MODE"] != "quick" {
		t.Fatalf("env = %v", cfg.Task.Env)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the config")
	}

	spec, err := cfg.Schedule.Spec()
	if err != nil {
		t.Fatalf("Spec error: %v", err)
	}
	want := cron.Spec{Month: "*", Day: "*", Hour: "*", Minute: "*/15", Second: "0", Weekday: "*"}
	if spec != want {
		t.Fatalf("spec = %+v, want %+v", spec, want)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{"task":{"run":["true"]},"schedule":{"expr":"*/2 * * * * *"},"logging":{"level":"info"}}`
	m := NewConfigManager(writeFile(t, "tinycron.json", body))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	spec, _ := cfg.Schedule.Spec()
	if spec.Second != "*/2" || spec.Weekday != "*" {
		t.Fatalf("spec = %+v", spec)
	}
}

func TestCrashOnErrorDefaultsToTrue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "omitted", body: "task:\n  run: [\"true\"]\n", want: true},
		{name: "explicit true", body: "task:\n  run: [\"true\"]\n  crash_on_error: true\n", want: true},
		{name: "explicit false", body: "task:\n  run: [\"true\"]\n  crash_on_error: false\n", want: false},
	}
	const schedule = "schedule:\n  second: \"0\"\n"
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfigManager(writeFile(t, "tinycron.yaml", tt.body+schedule)).Load(context.Background())
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if got := cfg.Task.Crashes(); got != tt.want {
				t.Fatalf("Crashes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadYAMLNonStringKeys(t *testing.T) {
	t.Parallel()
	body := "task:\n  run: [\"true\"]\n  env:\n    1: one\n    true: yes\nschedule:\n  second: \"0\"\n"
	cfg, err := NewConfigManager(writeFile(t, "tinycron.yml", body)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Task.Env["1"] != "one" || cfg.Task.Env["true"] != "yes" {
		t.Fatalf("env = %v", cfg.Task.Env)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field json", file: "c.json", body: `{"task":{"run":["true"],"timeout":"1s"}}`},
		{name: "unknown field yaml", file: "c.yml", body: "task:\n  run: [\"true\"]\nplugins: {}\n"},
		{name: "trailing data", file: "c.json", body: `{"task":{"run":["true"]}}{}`},
		{name: "bad yaml", file: "c.yaml", body: "task: [\n"},
	}
	for _, tt := range tests {
		if _, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Parse(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	body := "task:\n  run: [\"true\"]\nschedule:\n  month: \"0-5\"\n"
	_, err := NewConfigManager(writeFile(t, "c.yaml", body)).Load(context.Background())
	if !errors.Is(err, cron.ErrSyntax) {
		t.Fatalf("err = %v, want cron.ErrSyntax", err)
	}
}

func TestScheduleSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      ScheduleConfig
		want    cron.Spec
		wantErr bool
	}{
		{name: "empty", in: ScheduleConfig{}, want: cron.Spec{}},
		{name: "one field", in: ScheduleConfig{Hour: " 3 "}, want: cron.Spec{Month: "*", Day: "*", Hour: "3", Minute: "*", Second: "*", Weekday: "*"}},
		{name: "five field expr", in: ScheduleConfig{Expr: "30 2 * * 1-5"}, want: cron.Spec{Second: "0", Minute: "30", Hour: "2", Day: "*", Month: "*", Weekday: "1-5"}},
		{name: "descriptor", in: ScheduleConfig{Expr: "@hourly"}, want: cron.Spec{Second: "0", Minute: "0", Hour: "*", Day: "*", Month: "*", Weekday: "*"}},
		{name: "expr and fields", in: ScheduleConfig{Expr: "* * * * * *", Minute: "5"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := tt.in.Spec()
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: error %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		return &Config{
			Task:     TaskConfig{Run: []string{"true"}},
			Schedule: ScheduleConfig{Second: "*/5"},
		}
	}
	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "no run", mutate: func(c *Config) { c.Task.Run = nil }, want: "task.run"},
		{name: "empty teardown program", mutate: func(c *Config) { c.Task.Teardown = []string{""} }, want: "task.teardown"},
		{name: "empty schedule", mutate: func(c *Config) { c.Schedule = ScheduleConfig{} }, want: "schedule"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "file without path", mutate: func(c *Config) { c.Logging.File.Enabled = true }, want: "logging.file.path"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, want: "storage.driver"},
		{name: "bad busy timeout", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite", BusyTimeout: "soon"} }, want: "storage.busy_timeout"},
		{name: "bad metrics path", mutate: func(c *Config) { c.Metrics = &MetricsConfig{Enabled: true, Path: "metrics"} }, want: "metrics.path"},
	}
	for _, tt := range tests {
		c := valid()
		tt.mutate(c)
		err := Validate(c)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Task:     TaskConfig{Run: []string{"true"}},
		Schedule: ScheduleConfig{Second: "*/5"},
		Logging:  LoggingConfig{Level: "info"},
	}
	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"
	newCfg.Schedule.Second = "*/10"
	newCfg.Metrics = &MetricsConfig{Enabled: true}

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	if !slices.Equal(changed, []string{"schedule", "logging", "metrics"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); !slices.Equal(got, []string{"schedule", "metrics"}) {
		t.Fatalf("RestartRequired = %v", got)
	}

	if changed, _ := SummarizeConfigChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: time.Minute},
		{raw: "0s", want: time.Minute},
		{raw: " 5s ", want: 5 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := StorageConfig{BusyTimeout: tt.raw}.BusyTimeoutOr(time.Minute)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("BusyTimeoutOr(%q) = %v, %v", tt.raw, got, err)
		}
		if tt.wantErr && !strings.Contains(err.Error(), "storage.busy_timeout") {
			t.Fatalf("error %q does not name the key", err)
		}
	}
	if _, err := (MetricsConfig{ReadHeaderTimeout: "x"}).ReadHeaderTimeoutOr(0); err == nil ||
		!strings.Contains(err.Error(), "metrics.read_header_timeout") {
		t.Fatalf("ReadHeaderTimeoutOr error = %v", err)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "tinycron.yaml", "task:\n  run: [\"true\"]\nschedule:\n  second: \"*\"\nlogging:\n  level: info\n")
	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	update := "task:\n  run: [\"true\"]\nschedule:\n  second: \"*\"\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(update), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatal("slow subscriber must receive the latest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("Unsubscribe must close the channel")
	}
}
