package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"tinycron/internal/storage"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "tinycron.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func baseConfig(dir string, extra string) string {
	return fmt.Sprintf(`
task:
  name: demo
  run: ["sh", "-c", "echo tick"]
  teardown: ["touch", %q]
schedule:
  second: "*"
logging:
  level: error
storage:
  driver: file
  path: %q
%s`, filepath.Join(dir, "torn-down"), filepath.Join(dir, "journal"), extra)
}

func TestRunOnceWritesJournal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, ""))

	a, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	var states []string
	a.notify = func(s string) { states = append(states, s) }

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "torn-down")); err != nil {
		t.Fatalf("teardown did not run: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("one-shot must not notify systemd, got %v", states)
	}

	var out bytes.Buffer
	if err := History(context.Background(), path, 10, &out); err != nil {
		t.Fatalf("History error: %v", err)
	}
	if !strings.Contains(out.String(), "once") || !strings.Contains(out.String(), "ok") {
		t.Fatalf("history output:\n%s", out.String())
	}
}

func TestRunOnceFailureJournalsPhase(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(baseConfig(dir, ""), `["sh", "-c", "echo tick"]`, `["sh", "-c", "echo broken >&2; exit 4"]`, 1)
	path := writeConfig(t, dir, body)

	a, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.RunOnce(context.Background()); err == nil {
		t.Fatal("expected run failure")
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "journal")}, a.log)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer st.Close()
	recs, err := st.RecentRuns(context.Background(), "demo", 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("RecentRuns = %v, %v", recs, err)
	}
	if recs[0].OK || recs[0].Phase != "run" || !strings.Contains(recs[0].Error, "broken") {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestRunServesMetricsAndStops(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, "metrics:\n  enabled: true\n  addr: \"127.0.0.1:0\"\n"))

	a, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	notified := make(chan string, 16)
	a.notify = func(s string) { notified <- s }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.http.Ready():
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("metrics server not ready")
	}

	want := `tinycron_runner_triggers_total{task="demo"}`
	deadline := time.Now().Add(3 * time.Second)
	for {
		body := fetch(t, "http://"+a.http.Addr()+"/metrics")
		if strings.Contains(body, want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics never reported %s:\n%s", want, body)
		}
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	close(notified)
	var states []string
	for s := range notified {
		states = append(states, s)
	}
	if !slices.Contains(states, "READY=1") || !slices.Contains(states, "STOPPING=1") {
		t.Fatalf("sd_notify states = %v", states)
	}
	if _, err := os.Stat(filepath.Join(dir, "torn-down")); err != nil {
		t.Fatalf("teardown did not run: %v", err)
	}
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "task:\n  run: [\"true\"]\nschedule:\n  minute: \"*/0\"\n")
	if _, err := New(context.Background(), path); err == nil {
		t.Fatal("expected error for step 0")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "task:\n  name: nightly\n  run: [\"true\"]\nschedule:\n  expr: \"0 30 2 * * *\"\n")

	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.Local)
	var out bytes.Buffer
	if err := Check(context.Background(), path, now, 2, &out); err != nil {
		t.Fatalf("Check error: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"nightly",
		"0 30 2 * * *",
		time.Date(2024, time.January, 2, 2, 30, 0, 0, time.Local).Format(time.RFC3339),
		time.Date(2024, time.January, 3, 2, 30, 0, 0, time.Local).Format(time.RFC3339),
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("Check output missing %q:\n%s", want, text)
		}
	}
}

func TestHistoryWithoutStorage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "task:\n  run: [\"true\"]\nschedule:\n  second: \"0\"\n")
	if err := History(context.Background(), path, 5, io.Discard); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("History = %v, want ErrDisabled", err)
	}
}
