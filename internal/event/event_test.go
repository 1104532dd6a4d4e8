package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFireRunsHandlersInRegistrationOrder(t *testing.T) {
	var e Event[int]
	var calls []string

	e.AddHandler(func(v int) { calls = append(calls, "first") })
	e.AddHandler(func(v int) { calls = append(calls, "second") })
	e.AddHandler(func(v int) { calls = append(calls, "third") })

	e.Fire(1)

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestRemoveAndAdd(t *testing.T) {
	var e Event[string]
	got := 0

	h := e.AddHandler(func(string) { got++ })
	h.Remove()
	h.Remove()
	e.Fire("x")
	assert.Equal(t, 0, got)
	assert.Equal(t, 0, e.Len())

	h.Add()
	h.Add()
	e.Fire("x")
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, e.Len())
}

func TestHandlerRemovedDuringFireIsSkipped(t *testing.T) {
	var e Event[struct{}]
	var second *Handle[struct{}]
	secondCalled := false

	e.AddHandler(func(struct{}) { second.Remove() })
	second = e.AddHandler(func(struct{}) { secondCalled = true })

	e.Fire(struct{}{})

	assert.False(t, secondCalled)
}

func TestHandlerAddedDuringFireWaitsForNextFire(t *testing.T) {
	var e Event[int]
	var seen []int

	e.AddHandler(func(v int) {
		if v == 1 {
			e.AddHandler(func(v int) { seen = append(seen, v) })
		}
	})

	e.Fire(1)
	assert.Empty(t, seen)

	e.Fire(2)
	assert.Equal(t, []int{2}, seen)
}

func TestRemoveAll(t *testing.T) {
	var a Event[int]
	var b Event[string]
	count := 0

	bindings := []Binding{
		a.AddHandler(func(int) { count++ }),
		b.AddHandler(func(string) { count++ }),
	}
	RemoveAll(bindings)

	a.Fire(1)
	b.Fire("x")
	assert.Zero(t, count)
}
