// Package loop provides a single-threaded task executor.
//
// Every state mutation in the detector and the indicator controller runs on
// one Loop goroutine, so those components need no locking of their own.
// Work from other goroutines (probe completions, HTTP handlers, timers) is
// marshalled onto the loop with Post, PostDelayed or Call.
package loop

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("loop stopped")

// TaskID identifies a delayed task. The zero value is never issued.
type TaskID uint64

type delayedTask struct {
	timer *time.Timer
	fn    func()
}

// Loop runs posted tasks one at a time in FIFO order.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	delayed map[TaskID]*delayedTask
	nextID  TaskID
	started bool
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a loop. Call Start before posting work that must run.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger:  logger.Named("loop"),
		delayed: make(map[TaskID]*delayedTask),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Stop terminates the loop and drops every queued and delayed task.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.doneCh
		return
	}
	l.stopped = true
	for id, task := range l.delayed {
		task.timer.Stop()
		delete(l.delayed, id)
	}
	l.queue = nil
	started := l.started
	l.mu.Unlock()

	close(l.stopCh)
	if !started {
		close(l.doneCh)
		return
	}
	<-l.doneCh
}

// Post enqueues fn. It reports false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayed schedules fn to be posted after d. It returns 0 once the loop
// has been stopped.
func (l *Loop) PostDelayed(d time.Duration, fn func()) TaskID {
	if d < 0 {
		d = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0
	}
	l.nextID++
	id := l.nextID
	l.delayed[id] = &delayedTask{
		fn:    fn,
		timer: time.AfterFunc(d, func() { l.fire(id) }),
	}
	return id
}

// Cancel removes a delayed task that has not run yet.
func (l *Loop) Cancel(id TaskID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.delayed[id]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(l.delayed, id)
	return true
}

// HasPending reports whether the delayed task is still waiting to run.
func (l *Loop) HasPending(id TaskID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.delayed[id]
	return ok
}

// Pending returns the number of delayed tasks waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.delayed)
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from the loop goroutine itself.
func (l *Loop) Call(fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-l.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) fire(id TaskID) {
	l.mu.Lock()
	_, ok := l.delayed[id]
	l.mu.Unlock()
	if !ok {
		return
	}

	l.Post(func() {
		l.mu.Lock()
		task, ok := l.delayed[id]
		if ok {
			delete(l.delayed, id)
		}
		l.mu.Unlock()
		if ok {
			task.fn()
		}
	})
}

func (l *Loop) run() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wake:
		}

		for {
			task := l.next()
			if task == nil {
				break
			}
			l.runTask(task)
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
