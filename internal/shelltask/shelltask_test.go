package shelltask

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	logx "tinycron/pkg/logx"
)

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Stream  string `json:"stream"`
	Phase   string `json:"phase"`
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var out []logLine
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var l logLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, l)
	}
	return out
}

func TestEmptyPhasesAreNoops(t *testing.T) {
	t.Parallel()
	task := New(Config{Run: []string{"true"}}, logx.Logger{})
	if err := task.Setup(context.Background()); err != nil {
		t.Fatalf("Setup error: %v", err)
	}
	if err := task.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown error: %v", err)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := New(Config{}, logx.Nop()).Validate(); err == nil {
		t.Fatal("missing run accepted")
	}
	if err := New(Config{Run: []string{" "}}, logx.Nop()).Validate(); err == nil {
		t.Fatal("blank program accepted")
	}
}

func TestOutputIsLogged(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	task := New(Config{Run: []string{"sh", "-c", "echo hello; echo oops >&2; printf tail"}}, logx.New(&buf, "debug"))
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	var msgs []string
	for _, l := range decodeLines(t, &buf) {
		if l.Stream == "" {
			continue
		}
		if l.Phase != "run" {
			t.Fatalf("line %+v missing phase", l)
		}
		if l.Stream == "stderr" && l.Level != "warn" {
			t.Fatalf("stderr line logged at %q", l.Level)
		}
		msgs = append(msgs, l.Stream+":"+l.Message)
	}
	slices.Sort(msgs)
	want := []string{"stderr:oops", "stdout:hello", "stdout:tail"}
	if !slices.Equal(msgs, want) {
		t.Fatalf("logged output = %v, want %v", msgs, want)
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()
	task := New(Config{Run: []string{"sh", "-c", "echo first >&2; echo disk full >&2; exit 3"}}, logx.Nop())
	err := task.Run(context.Background())
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Code != 3 || ee.Phase != "run" || ee.Stderr != "disk full" {
		t.Fatalf("ExitError = %+v", ee)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("message %q lacks stderr", err.Error())
	}
}

func TestMissingProgram(t *testing.T) {
	t.Parallel()
	task := New(Config{Setup: []string{"/nonexistent/tinycron-test-binary"}, Run: []string{"true"}}, logx.Nop())
	err := task.Setup(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		t.Fatal("start failure must not be an ExitError")
	}
}

func TestWorkdirAndEnv(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	task := New(Config{
		Run:     []string{"sh", "-c", `printf '%s' "$GREETING" > out.txt`},
		Workdir: dir,
		Env:     map[string]string{"GREETING": "hi there"},
	}, logx.Nop())
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(b) != "hi there" {
		t.Fatalf("output = %q", b)
	}
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()
	got := mergeEnv([]string{"A=1"}, map[string]string{"C": "3", "B": "2"})
	if !slices.Equal(got, []string{"A=1", "B=2", "C=3"}) {
		t.Fatalf("mergeEnv = %v", got)
	}
	base := []string{"A=1"}
	if got := mergeEnv(base, nil); &got[0] != &base[0] {
		t.Fatal("empty extra should return base")
	}
}
