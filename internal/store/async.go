package store

import (
	"context"
	"time"

	"github.com/chess-broker/internal/loop"
)

// Async runs store calls off the event loop and delivers their results back
// on it.
type Async struct {
	sched   loop.Scheduler
	timeout time.Duration
}

// NewAsync returns an Async whose calls are bounded by timeout. A zero
// timeout means no bound.
func NewAsync(sched loop.Scheduler, timeout time.Duration) *Async {
	return &Async{sched: sched, timeout: timeout}
}

// Call runs work on a worker goroutine and then done on the loop.
func Call[T any](a *Async, work func(ctx context.Context) (T, error), done func(T, error)) {
	a.sched.Go(func() {
		ctx := context.Background()
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		v, err := work(ctx)
		a.sched.Post(func() { done(v, err) })
	})
}

// Exec is Call for work without a result.
func Exec(a *Async, work func(ctx context.Context) error, done func(error)) {
	Call(a, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	}, func(_ struct{}, err error) {
		if done != nil {
			done(err)
		}
	})
}
