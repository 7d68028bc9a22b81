// Package shutdown records termination signals for the scheduling loop.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Monitored are the signals that request a shutdown.
var Monitored = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// Latch is an append-only record of received signals.
//
// Only the delivery goroutine appends; readers never mutate. Triggered never
// blocks on signal delivery.
type Latch struct {
	ch   chan os.Signal
	done chan struct{}
	stop sync.Once

	mu       sync.RWMutex
	received []os.Signal
}

// Listen registers the latch for Monitored signals. Call Stop to unregister;
// a new Latch can then be registered by the next loop invocation.
func Listen() *Latch {
	l := newLatch()
	signal.Notify(l.ch, Monitored...)
	go l.deliver()
	return l
}

func newLatch() *Latch {
	return &Latch{
		ch:   make(chan os.Signal, len(Monitored)),
		done: make(chan struct{}),
	}
}

func (l *Latch) deliver() {
	for {
		select {
		case sig := <-l.ch:
			l.record(sig)
		case <-l.done:
			return
		}
	}
}

func (l *Latch) record(sig os.Signal) {
	l.mu.Lock()
	l.received = append(l.received, sig)
	l.mu.Unlock()
}

// Triggered reports whether any monitored signal has been received.
func (l *Latch) Triggered() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, got := range l.received {
		for _, want := range Monitored {
			if got == want {
				return true
			}
		}
	}
	return false
}

// Signals returns a copy of every signal received so far, in arrival order.
func (l *Latch) Signals() []os.Signal {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]os.Signal(nil), l.received...)
}

// Stop unregisters the latch. Recorded signals stay readable.
func (l *Latch) Stop() {
	if l == nil {
		return
	}
	l.stop.Do(func() {
		signal.Stop(l.ch)
		close(l.done)
	})
}
