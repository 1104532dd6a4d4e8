// Package event provides typed, synchronously dispatched events.
//
// Events are not safe for concurrent use. Every Event in the broker is owned
// by the event loop and fired from it.
package event

import "slices"

// Handler receives the value an Event was fired with.
type Handler[T any] func(T)

// Binding is a handler registration that can be detached and re-attached.
type Binding interface {
	Add()
	Remove()
}

// Event dispatches fired values to its handlers in registration order.
// The zero value is ready to use.
type Event[T any] struct {
	handlers []*Handle[T]
}

// Handle is the registration returned by AddHandler.
type Handle[T any] struct {
	event  *Event[T]
	fn     Handler[T]
	active bool
}

// AddHandler registers fn and returns its handle.
func (e *Event[T]) AddHandler(fn Handler[T]) *Handle[T] {
	h := &Handle[T]{event: e, fn: fn}
	h.Add()
	return h
}

// Fire calls every active handler with v before returning. Handlers removed
// while the event is firing are not called; handlers added while it is firing
// are called from the next Fire.
func (e *Event[T]) Fire(v T) {
	if len(e.handlers) == 0 {
		return
	}
	for _, h := range slices.Clone(e.handlers) {
		if h.active {
			h.fn(v)
		}
	}
}

// Len returns the number of active handlers.
func (e *Event[T]) Len() int {
	return len(e.handlers)
}

// Add re-attaches a removed handler at the end of the dispatch order.
func (h *Handle[T]) Add() {
	if h.active {
		return
	}
	h.active = true
	h.event.handlers = append(h.event.handlers, h)
}

// Remove detaches the handler. It is a no-op on an inactive handle.
func (h *Handle[T]) Remove() {
	if !h.active {
		return
	}
	h.active = false
	h.event.handlers = slices.DeleteFunc(h.event.handlers, func(other *Handle[T]) bool {
		return other == h
	})
}

// RemoveAll detaches every binding in bs.
func RemoveAll(bs []Binding) {
	for _, b := range bs {
		b.Remove()
	}
}
