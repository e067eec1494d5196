// Package schedule runs periodic jobs tied to a context.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context)

// Timer runs a job on a fixed interval. Runs never overlap: the job executes
// on the timer's own goroutine and ticks that fire while it is busy are
// dropped.
type Timer struct {
	name     string
	interval time.Duration
	job      Job

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTimer(name string, interval time.Duration, job Job) *Timer {
	return &Timer{name: name, interval: interval, job: job}
}

// Start launches the timer. It stops when ctx is done or Stop is called.
// Starting a running timer is a no-op.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

func (t *Timer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	slog.Debug("timer started", "timer", t.name, "interval", t.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("timer stopped", "timer", t.name)
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

func (t *Timer) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("timer job panicked", "timer", t.name, "panic", r)
		}
	}()
	t.job(ctx)
}

// Stop cancels the timer and waits for an in-flight run to finish.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
