// Package async runs operations as independently scheduled units of work
// and hands their results back through futures.
package async

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Future holds the eventual result of a submitted operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Wait blocks until the operation completes or ctx is done. Giving up on
// a future does not stop the operation behind it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Executor runs submitted operations on their own goroutines, at most
// maxInFlight at a time when bounded.
type Executor struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewExecutor returns an executor; maxInFlight <= 0 means unbounded.
func NewExecutor(maxInFlight int) *Executor {
	e := &Executor{}
	if maxInFlight > 0 {
		e.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return e
}

// Submit schedules fn on e and returns its future without blocking.
func Submit[T any](e *Executor, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.sem != nil {
			// Acquire only fails on a cancelled context.
			_ = e.sem.Acquire(context.Background(), 1)
			defer e.sem.Release(1)
		}
		f.complete(fn())
	}()
	return f
}

// Wait blocks until every submitted operation has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
