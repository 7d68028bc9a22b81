package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "tinycron/pkg/logx"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tinycron_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	return reg
}

func get(t *testing.T, h http.Handler, target string, header http.Header) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	h := New(Config{}, newRegistry(t), logx.Nop()).Handler()

	if code, body := get(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	code, body := get(t, h, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, "tinycron_test_total 3") {
		t.Fatalf("metrics = %d %q", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof without opt-in = %d, want 404", code)
	}
}

func TestHandlerCustomPathAndPprof(t *testing.T) {
	t.Parallel()
	h := New(Config{MetricsPath: "/m", Pprof: true}, newRegistry(t), logx.Nop()).Handler()
	if code, _ := get(t, h, "/m", nil); code != http.StatusOK {
		t.Fatalf("/m = %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/cmdline", nil); code != http.StatusOK {
		t.Fatalf("pprof cmdline = %d", code)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, newRegistry(t), logx.Nop()).Handler()

	if code, _ := get(t, h, "/metrics", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/metrics?token=wrong", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/metrics?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", code)
	}
	hdr := http.Header{"Authorization": []string{"Bearer s3cret"}}
	if code, _ := get(t, h, "/healthz", hdr); code != http.StatusOK {
		t.Fatalf("bearer token = %d, want 200", code)
	}
}

func TestServeLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, newRegistry(t), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("Serve exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server not ready")
	}

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "tinycron_test_total") {
		t.Fatalf("GET = %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve after cancel = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, newRegistry(t), logx.Nop())
	if err := s.Serve(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("Serve = %v, want insecure bind error", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		":9464":          false,
		"10.0.0.1:9464":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
