// Package future provides a single-assignment promise with resolve, reject
// and finally callbacks. Like everything else on the event loop it is not
// safe for concurrent use.
package future

type state int

const (
	pending state = iota
	resolved
	failed
)

type callbacks[T any] struct {
	onResolve func(T)
	onFail    func(error)
	finally   func()
}

// Promise settles exactly once, with a value or an error.
type Promise[T any] struct {
	state     state
	value     T
	err       error
	callbacks []callbacks[T]
}

// New returns a pending promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{}
}

// Resolved returns a promise already settled with v.
func Resolved[T any](v T) *Promise[T] {
	p := New[T]()
	p.Resolve(v)
	return p
}

// Failed returns a promise already settled with err.
func Failed[T any](err error) *Promise[T] {
	p := New[T]()
	p.Fail(err)
	return p
}

// Then registers callbacks; any of them may be nil. On a settled promise the
// callbacks run immediately.
func (p *Promise[T]) Then(onResolve func(T), onFail func(error), finally func()) *Promise[T] {
	cb := callbacks[T]{onResolve: onResolve, onFail: onFail, finally: finally}
	if p.state == pending {
		p.callbacks = append(p.callbacks, cb)
		return p
	}
	p.dispatch([]callbacks[T]{cb})
	return p
}

// Resolve settles the promise with v. It reports false if the promise had
// already settled.
func (p *Promise[T]) Resolve(v T) bool {
	if p.state != pending {
		return false
	}
	p.state = resolved
	p.value = v
	p.settle()
	return true
}

// Fail settles the promise with err. It reports false if the promise had
// already settled.
func (p *Promise[T]) Fail(err error) bool {
	if p.state != pending {
		return false
	}
	p.state = failed
	p.err = err
	p.settle()
	return true
}

// IsFinished reports whether the promise has settled.
func (p *Promise[T]) IsFinished() bool {
	return p.state != pending
}

// Result returns the settled value or error. ok is false while pending.
func (p *Promise[T]) Result() (value T, err error, ok bool) {
	return p.value, p.err, p.state != pending
}

func (p *Promise[T]) settle() {
	cbs := p.callbacks
	p.callbacks = nil
	p.dispatch(cbs)
}

// dispatch runs every resolve/fail callback before any finally callback.
func (p *Promise[T]) dispatch(cbs []callbacks[T]) {
	for _, cb := range cbs {
		switch p.state {
		case resolved:
			if cb.onResolve != nil {
				cb.onResolve(p.value)
			}
		case failed:
			if cb.onFail != nil {
				cb.onFail(p.err)
			}
		}
	}
	for _, cb := range cbs {
		if cb.finally != nil {
			cb.finally()
		}
	}
}
