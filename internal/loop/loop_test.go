package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := newStartedLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Call(func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromInsideTask(t *testing.T) {
	l := newStartedLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestPostDelayed(t *testing.T) {
	l := newStartedLoop(t)

	ran := make(chan struct{})
	id := l.PostDelayed(20*time.Millisecond, func() { close(ran) })
	require.NotZero(t, id)
	assert.True(t, l.HasPending(id))
	assert.Equal(t, 1, l.Pending())

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}
	require.NoError(t, l.Call(func() {}))
	assert.False(t, l.HasPending(id))
	assert.Zero(t, l.Pending())
}

func TestCancel(t *testing.T) {
	l := newStartedLoop(t)

	ran := make(chan struct{}, 1)
	id := l.PostDelayed(30*time.Millisecond, func() { ran <- struct{}{} })
	assert.True(t, l.Cancel(id))
	assert.False(t, l.Cancel(id))
	assert.False(t, l.HasPending(id))

	select {
	case <-ran:
		t.Fatal("cancelled task ran")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestStopDropsPendingWork(t *testing.T) {
	l := New(nil)
	l.Start()

	ran := make(chan struct{}, 1)
	l.PostDelayed(20*time.Millisecond, func() { ran <- struct{}{} })
	l.Stop()

	assert.Zero(t, l.Pending())
	assert.False(t, l.Post(func() {}))
	assert.Zero(t, l.PostDelayed(time.Millisecond, func() {}))
	assert.ErrorIs(t, l.Call(func() {}), ErrStopped)

	select {
	case <-ran:
		t.Fatal("task ran after stop")
	case <-time.After(60 * time.Millisecond):
	}

	// Stop is idempotent.
	l.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	l := New(nil)
	l.Stop()
	assert.False(t, l.Post(func() {}))
}

func TestPanickingTaskKeepsLoopAlive(t *testing.T) {
	l := newStartedLoop(t)

	l.Post(func() { panic("boom") })
	called := false
	require.NoError(t, l.Call(func() { called = true }))
	assert.True(t, called)
}
