package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(16, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoopRunsPostedTasksInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopTimerStop(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	var timer Timer
	require.NoError(t, l.Do(context.Background(), func() {
		timer = l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	}))
	var stopped bool
	require.NoError(t, l.Do(context.Background(), func() { stopped = timer.Stop() }))
	assert.True(t, stopped)

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopTimerFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.Post(func() {
		l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestDoHonoursContext(t *testing.T) {
	l := New(1, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	l.tasks <- func() {}
	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManualAdvanceFiresTimersInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string

	m.AfterFunc(2*time.Second, func() { got = append(got, "late") })
	m.AfterFunc(time.Second, func() { got = append(got, "early") })
	stopped := m.AfterFunc(time.Second, func() { got = append(got, "stopped") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"early"}, got)
	assert.Equal(t, 1, m.PendingTimers())

	m.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, got)
	assert.Equal(t, time.Unix(2, 500_000_000), m.Now())
}

func TestManualFlushRunsNestedPosts(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []int

	m.Post(func() {
		got = append(got, 1)
		m.Post(func() { got = append(got, 3) })
	})
	m.Go(func() { got = append(got, 2) })
	m.Flush()

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestManualStepRunsOneTask(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []int

	m.Post(func() {
		got = append(got, 1)
		m.Post(func() { got = append(got, 2) })
	})

	assert.True(t, m.Step())
	assert.Equal(t, []int{1}, got)
	assert.True(t, m.Step())
	assert.False(t, m.Step())
	assert.Equal(t, []int{1, 2}, got)
}
