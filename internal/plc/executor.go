package plc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Executor delivers a callback into the context that owns it.
//
// The dispatcher never calls subscriber code directly from the link goroutine
// unless the executor says so. UI toolkits, worker pools or plain goroutines can
// all be plugged in here.
type Executor interface {
	Post(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Post implements Executor.
func (f ExecutorFunc) Post(fn func()) {
	f(fn)
}

// Inline runs callbacks immediately on the caller's goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Queue is a bounded single-worker executor.
//
// Callbacks run one at a time in the order they were posted. When the buffer
// is full new callbacks are dropped and counted, so a slow consumer can never
// stall the link goroutine.
type Queue struct {
	jobs    chan func()
	dropped atomic.Uint64
	logger  Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue with the given buffer size and starts its worker.
// Call Close to stop it.
func NewQueue(size int, logger Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		jobs:   make(chan func(), size),
		logger: orNop(logger),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Post implements Executor.
func (q *Queue) Post(fn func()) {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return
	default:
	}

	select {
	case q.jobs <- fn:
	default:
		q.dropped.Add(1)
		q.logger.Warn("executor queue full, dropping callback", "dropped_total", q.dropped.Load())
	}
}

// Dropped returns the number of callbacks discarded so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Flush blocks until every callback posted before the call has run,
// or the context is done.
func (q *Queue) Flush(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	default:
	}

	marker := make(chan struct{})
	select {
	case q.jobs <- func() { close(marker) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return nil
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after the callbacks already queued have run.
// Safe to call multiple times.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.jobs:
			q.run(fn)
		case <-q.done:
			for {
				select {
				case fn := <-q.jobs:
					q.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("executor callback panic", "error", fmt.Errorf("%v", r))
		}
	}()
	fn()
}
