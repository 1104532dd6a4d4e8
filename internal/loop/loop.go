// Package loop runs the broker's single-threaded event loop.
//
// Every registry, session and game is mutated only from tasks executed by the
// loop, so none of them need locks. Blocking work (store round-trips, password
// hashing) runs through Go and reports back with Post.
package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the call
	// stopped the task; false means it already ran or was already stopped.
	Stop() bool
}

// Scheduler is the part of the loop that components depend on.
type Scheduler interface {
	// Post queues fn to run on the loop. Safe from any goroutine.
	Post(fn func())
	// Go runs blocking work off the loop.
	Go(work func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Now returns the loop's notion of the current time.
	Now() time.Time
}

// Loop executes posted tasks one at a time on the goroutine that calls Run.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *zap.Logger
}

// New creates a loop with a task queue of the given size.
func New(queueSize int, logger *zap.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	l.logger.Info("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopping")
			return
		case task := <-l.tasks:
			l.execute(task)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recovered panic in loop task", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

// Post queues fn. Tasks posted after the loop has stopped are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Go runs work on its own goroutine.
func (l *Loop) Go(work func()) {
	go work()
}

// AfterFunc schedules fn on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return fmt.Errorf("event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return fmt.Errorf("event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loopTimer fields other than timer are only touched on the loop.
type loopTimer struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
