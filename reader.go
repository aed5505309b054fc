package leftright

import (
	"sync/atomic"

	"github.com/cornelk/leftright/internal/epoch"
)

// cell wraps a value of type T so it can be the pointee of an
// atomic.Pointer. Needed because T is typically already a pointer
// type (e.g. *Counter), and atomic.Pointer[T] would otherwise manage
// storage of *T rather than T itself.
type cell[T any] struct {
	v T
}

// ReadHandle gives wait-free read access to the foreground copy of a
// left-right guarded value. A ReadHandle is not safe for concurrent
// use by multiple goroutines: each goroutine that wants to read
// independently should call Clone to obtain its own epoch slot over
// the same shared foreground cell.
type ReadHandle[T any] struct {
	inner   *atomic.Pointer[cell[T]]
	epochs  *epoch.Registry
	slot    int
	counter *atomic.Uint64
}

// newReadHandle registers a new epoch slot in epochs and returns a
// ReadHandle sharing inner.
func newReadHandle[T any](inner *atomic.Pointer[cell[T]], epochs *epoch.Registry) *ReadHandle[T] {
	counter := new(atomic.Uint64)
	slot := epochs.Insert(counter)
	return &ReadHandle[T]{
		inner:   inner,
		epochs:  epochs,
		slot:    slot,
		counter: counter,
	}
}

// Clone returns a new ReadHandle over the same foreground cell and
// epoch registry, with its own independent epoch slot. Use this to
// hand a separate handle to each goroutine that reads concurrently.
func (r *ReadHandle[T]) Clone() *ReadHandle[T] {
	return newReadHandle(r.inner, r.epochs)
}

// Close removes this handle's slot from the epoch registry, allowing
// it to be reused by a future reader. A ReadHandle must not be used
// after Close.
func (r *ReadHandle[T]) Close() {
	r.epochs.Remove(r.slot)
}

// ReadGuard borrows the foreground value for the duration of a read
// critical section. It must be released with Leave.
type ReadGuard[T any] struct {
	value *T
	rh    *ReadHandle[T]
}

// Enter begins a read critical section: it fetch-adds the reader's
// epoch to odd parity, acquire-loads the foreground pointer, and
// returns a guard wrapping it. It returns ErrReaderDeparted if the
// writer has taken the structure apart (the foreground pointer is
// nil); in that case the epoch is restored to even parity before
// returning so the writer never sees a stuck odd epoch for a reader
// that never entered a critical section.
//
// Callers should not hold a ReadGuard across a call that may block on
// the corresponding writer's Publish — doing so stalls that writer
// indefinitely, by design.
func (r *ReadHandle[T]) Enter() (*ReadGuard[T], error) {
	r.counter.Add(1)
	p := r.inner.Load()
	if p == nil {
		r.counter.Add(1)
		return nil, ErrReaderDeparted
	}
	return &ReadGuard[T]{value: &p.v, rh: r}, nil
}

// Value returns the guarded value. The returned pointer must not be
// used after Leave.
func (g *ReadGuard[T]) Value() *T {
	return g.value
}

// Leave ends the read critical section, fetch-adding the reader's
// epoch back to even parity. Go's atomic operations are already
// sequentially consistent, which is at least as strong as the release
// ordering this needs.
func (g *ReadGuard[T]) Leave() {
	g.rh.counter.Add(1)
}
