// Package shelltask runs configured commands as the three task phases.
package shelltask

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	logx "tinycron/pkg/logx"
)

// Config holds one argv per phase. Empty Setup and Teardown are no-ops.
type Config struct {
	Setup    []string
	Run      []string
	Teardown []string

	Workdir string
	Env     map[string]string
}

// Task implements runner.Task with external commands.
type Task struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{cfg: cfg, log: log}
}

// Validate rejects a Task without a run command.
func (t *Task) Validate() error {
	if len(t.cfg.Run) == 0 || strings.TrimSpace(t.cfg.Run[0]) == "" {
		return errors.New("shelltask: run command is required")
	}
	return nil
}

func (t *Task) Setup(ctx context.Context) error    { return t.exec(ctx, "setup", t.cfg.Setup) }
func (t *Task) Run(ctx context.Context) error      { return t.exec(ctx, "run", t.cfg.Run) }
func (t *Task) Teardown(ctx context.Context) error { return t.exec(ctx, "teardown", t.cfg.Teardown) }

// ExitError reports a command that ran but did not succeed.
type ExitError struct {
	Phase string
	Argv  []string
	Code  int
	// Stderr is the last line the command wrote to stderr, if any.
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s command %q exited with code %d", e.Phase, e.Argv[0], e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

func (t *Task) exec(ctx context.Context, phase string, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	log := t.log.With(logx.String("phase", phase))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = t.cfg.Workdir
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)

	stdout := &lineLogger{log: log, stream: "stdout"}
	stderr := &lineLogger{log: log, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Debug("exec", logx.Strings("argv", argv), logx.String("dir", cmd.Dir))
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err == nil {
		return nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Phase: phase, Argv: argv, Code: ee.ExitCode(), Stderr: stderr.Last(), Err: err}
	}
	return fmt.Errorf("%s command %q: %w", phase, argv[0], err)
}

// mergeEnv appends extra in key order; later entries win in exec.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string(nil), base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// lineLogger logs each complete output line. stderr lines log at warn.
type lineLogger struct {
	log    logx.Logger
	stream string

	mu   sync.Mutex
	buf  []byte
	last string
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line without newline.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineLogger) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.last = line
	if w.stream == "stderr" {
		w.log.Warn(line, logx.String("stream", w.stream))
		return
	}
	w.log.Info(line, logx.String("stream", w.stream))
}
