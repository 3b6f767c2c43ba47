package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// dispatcher runs log records off the response path. At most max records
// are in flight; a record that finds no free slot is dropped.
type dispatcher struct {
	sem      *semaphore.Weighted
	capacity int
	pending  atomic.Int64
	onDrop   func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(max int, onDrop func()) *dispatcher {
	if max <= 0 {
		max = DefaultMaxPendingLogs
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	return &dispatcher{
		sem:      semaphore.NewWeighted(int64(max)),
		capacity: max,
		onDrop:   onDrop,
	}
}

// dispatch runs fn in its own goroutine and reports whether it was
// scheduled. After close, fn runs on the caller's goroutine.
func (d *dispatcher) dispatch(fn func()) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		fn()
		return true
	}
	if !d.sem.TryAcquire(1) {
		d.mu.RUnlock()
		d.onDrop()
		return false
	}
	d.wg.Add(1)
	d.pending.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.pending.Add(-1)
		fn()
	}()
	return true
}

// backlog reports the records in flight and the most that may be.
func (d *dispatcher) backlog() (int, int) {
	return int(d.pending.Load()), d.capacity
}

// close stops scheduling and waits for in-flight records or ctx.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
