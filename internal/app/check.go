package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"tinycron/internal/config"
	"tinycron/internal/storage"
	"tinycron/internal/task/cron"
	logx "tinycron/pkg/logx"
)

// Check validates the config file and prints the parsed schedule together
// with the next n trigger instants after now.
func Check(ctx context.Context, cfgPath string, now time.Time, n int, w io.Writer) error {
	cfg, err := config.NewConfigManager(cfgPath).Load(ctx)
	if err != nil {
		return err
	}
	spec, err := cfg.Schedule.Spec()
	if err != nil {
		return err
	}
	sched, err := cron.NewSchedule(spec)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "task\t%s\n", displayName(cfg.Task.Name))
	fmt.Fprintf(tw, "run\t%s\n", strings.Join(cfg.Task.Run, " "))
	fmt.Fprintf(tw, "allow_concurrent\t%t\n", cfg.Task.AllowConcurrent)
	fmt.Fprintf(tw, "crash_on_error\t%t\n", cfg.Task.Crashes())
	fmt.Fprintf(tw, "expression\t%s\n", spec)
	for _, f := range []struct {
		name  string
		text  string
		field cron.Field
	}{
		{"second", spec.Second, sched.Second()},
		{"minute", spec.Minute, sched.Minute()},
		{"hour", spec.Hour, sched.Hour()},
		{"day", spec.Day, sched.Day()},
		{"month", spec.Month, sched.Month()},
		{"weekday", spec.Weekday, sched.Weekday()},
	} {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.name, f.text, f.field)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if n <= 0 {
		return nil
	}
	fmt.Fprintln(w, "next triggers:")
	t := now
	for i := 0; i < n; i++ {
		next, ok := sched.Next(t)
		if !ok {
			fmt.Fprintln(w, "  (none within search window)")
			break
		}
		fmt.Fprintf(w, "  %s\n", next.Format(time.RFC3339))
		t = next
	}
	return nil
}

// History prints the newest journal records for the configured task.
func History(ctx context.Context, cfgPath string, limit int, w io.Writer) error {
	cfg, err := config.NewConfigManager(cfgPath).Load(ctx)
	if err != nil {
		return err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		return storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.RecentRuns(ctx, cfg.Task.Name, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tRUN\tMODE\tTOOK\tSTATUS")
	for _, r := range recs {
		status := "ok"
		if !r.OK {
			status = "failed: " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			r.At.Local().Format(time.RFC3339), r.RunID, r.Mode,
			(time.Duration(r.TookMS) * time.Millisecond).String(), status)
	}
	return tw.Flush()
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(unnamed)"
	}
	return name
}
