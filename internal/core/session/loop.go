package session

import (
	"sync"

	"github.com/gammazero/workerpool"
)

// eventLoop runs tasks one at a time in submission order. All session state
// is owned by the loop, so handlers need no locks, but a handler must not
// assume nothing ran between two of its tasks.
type eventLoop struct {
	mu     sync.RWMutex
	closed bool
	pool   *workerpool.WorkerPool
}

func newEventLoop() *eventLoop {
	return &eventLoop{pool: workerpool.New(1)}
}

// post queues fn and returns immediately. It reports false once the loop is stopped.
func (l *eventLoop) post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.pool.Submit(fn)
	return true
}

// do runs fn on the loop and waits for it. Never call it from a loop task.
func (l *eventLoop) do(fn func()) bool {
	done := make(chan struct{})
	if !l.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// stop drains queued tasks and stops the worker.
func (l *eventLoop) stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.pool.StopWait()
}
