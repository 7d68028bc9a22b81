package config

import (
	"errors"
	"fmt"
	"strings"

	"tinycron/internal/task/cron"
	logx "tinycron/pkg/logx"
)

var errExprAndFields = errors.New("schedule: expr and individual fields are mutually exclusive")

// Validate checks everything that can be checked without side effects.
// Schedule errors match cron.ErrSyntax.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if len(cfg.Task.Run) == 0 || strings.TrimSpace(cfg.Task.Run[0]) == "" {
		errs = append(errs, errors.New("task.run: command is required"))
	}
	for name, argv := range map[string][]string{"task.setup": cfg.Task.Setup, "task.teardown": cfg.Task.Teardown} {
		if len(argv) > 0 && strings.TrimSpace(argv[0]) == "" {
			errs = append(errs, fmt.Errorf("%s: empty program name", name))
		}
	}

	spec, err := cfg.Schedule.Spec()
	if err != nil {
		errs = append(errs, err)
	} else if _, err := cron.NewSchedule(spec); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if !logx.ValidLevel(lvl) {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "disabled", "off", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := st.BusyTimeoutOr(0); err != nil {
			errs = append(errs, err)
		}
	}

	if m := cfg.Metrics; m != nil {
		if _, err := m.ReadHeaderTimeoutOr(0); err != nil {
			errs = append(errs, err)
		}
		if p := strings.TrimSpace(m.Path); p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("metrics.path: must start with '/': %q", m.Path))
		}
	}

	return errors.Join(errs...)
}
