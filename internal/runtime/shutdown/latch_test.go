package shutdown

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func waitTriggered(t *testing.T, l *Latch) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !l.Triggered() {
		if time.Now().After(deadline) {
			t.Fatal("latch was not triggered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLatchRecordsMonitoredSignals(t *testing.T) {
	l := newLatch()
	if l.Triggered() {
		t.Fatal("fresh latch must not be triggered")
	}

	l.record(syscall.SIGHUP)
	if l.Triggered() {
		t.Fatal("SIGHUP is not a shutdown signal")
	}

	l.record(syscall.SIGTERM)
	if !l.Triggered() {
		t.Fatal("SIGTERM should trigger the latch")
	}

	got := l.Signals()
	if len(got) != 2 || got[0] != syscall.SIGHUP || got[1] != syscall.SIGTERM {
		t.Fatalf("Signals = %v", got)
	}
}

func TestLatchReceivesProcessSignal(t *testing.T) {
	l := Listen()
	defer l.Stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGQUIT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitTriggered(t, l)
}

func TestLatchReRegisters(t *testing.T) {
	first := Listen()
	first.Stop()
	first.Stop()

	second := Listen()
	defer second.Stop()
	if second.Triggered() {
		t.Fatal("new latch must start untriggered")
	}
	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitTriggered(t, second)
	if first.Triggered() {
		t.Fatal("stopped latch must not observe later signals")
	}
}

func TestNilLatch(t *testing.T) {
	var l *Latch
	if l.Triggered() {
		t.Fatal("nil latch must not be triggered")
	}
	l.Stop()
}
