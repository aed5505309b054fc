package leftright

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cornelk/leftright/internal/epoch"
)

const messageMultipleWriters = "leftright: multiple writers detected"

// State describes the lifecycle stage of a WriteHandle.
type State int32

const (
	// StateFresh is the state of a WriteHandle that has never published.
	// Readers only ever see the original foreground value in this state.
	StateFresh State = iota
	// StateSteady is the state after at least one successful Publish.
	StateSteady
	// StateTaken is the state after Take has dismantled the structure.
	// No further Publish or Flush calls are meaningful.
	StateTaken
)

// Stats is a snapshot of a WriteHandle's publish history, useful for
// logging and tests.
type Stats struct {
	Publishes uint64
	State     State
}

// WriteHandle is the single-writer side of a left-right guarded value.
// It embeds *ReadHandle[T] so a writer can also read its own
// just-published data through the ordinary wait-free read path,
// exactly as the writer's own epoch slot counts toward quiescence.
//
// A WriteHandle must not be used from more than one goroutine
// concurrently; doing so panics rather than corrupting state.
type WriteHandle[T Absorb[O], O Ops] struct {
	*ReadHandle[T]

	epochs *epoch.Registry

	// background is the copy only the writer can see: operations are
	// queued against it in pending/partial and applied on the next
	// two publish cycles.
	background T

	// pending holds operations not yet applied to either copy.
	// partial holds operations applied to the current foreground
	// copy (by reference, via AbsorbFirst) but not yet to the
	// current background copy.
	pending O
	partial O

	// needsSync is true until the first Publish, at which point
	// SyncWith initializes the background copy from the foreground
	// one built by the caller (or by NewFromClone).
	needsSync bool

	// lastEpochs is indexed by epoch registry slot and holds each
	// reader's epoch as observed at the end of the previous publish
	// cycle, resized to the registry's capacity as readers are added.
	lastEpochs []uint64

	taken        atomic.Bool
	publishCount atomic.Uint64
	waiting      atomic.Bool

	writerGuard sync.Mutex

	opts *options
}

// AbsorbCloner is the constraint NewFromClone needs: a type that both
// absorbs operations and can produce an independent second copy of
// itself, standing in for the trait default sync_with/AbsorbFirst
// bodies Go generics cannot express.
type AbsorbCloner[T any, O Ops] interface {
	Absorb[O]
	Cloner[T]
}

// New constructs a left-right guarded value from two already-distinct
// physical copies: background, which the writer owns outright, and
// foreground, which becomes visible to readers immediately. It returns
// the WriteHandle and a ReadHandle usable from any number of
// goroutines (via ReadHandle.Clone) independent of the writer.
//
// background and foreground must not alias any shared mutable state:
// AbsorbFirst/AbsorbSecond assume the two copies are free to diverge
// until the next SyncWith.
func New[T Absorb[O], O Ops](background, foreground T, opts ...Option) (*WriteHandle[T, O], *ReadHandle[T]) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	registry := epoch.New()
	inner := new(atomic.Pointer[cell[T]])
	inner.Store(&cell[T]{v: foreground})

	w := &WriteHandle[T, O]{
		ReadHandle: newReadHandle(inner, registry),
		epochs:     registry,
		background: background,
		needsSync:  true,
		opts:       o,
	}
	runtime.SetFinalizer(w, finalizeWriteHandle[T, O])

	return w, newReadHandle(inner, registry)
}

// NewFromClone constructs a left-right guarded value from a single
// initial value, cloning it to produce the second physical copy. It is
// a convenience for the common case where T already knows how to copy
// itself, standing in for the generic default sync_with the upstream
// Rust trait provides and Go cannot.
func NewFromClone[T AbsorbCloner[T, O], O Ops](initial T, opts ...Option) (*WriteHandle[T, O], *ReadHandle[T]) {
	return New[T, O](initial, initial.Clone(), opts...)
}

// finalizeWriteHandle is registered with runtime.SetFinalizer so a
// WriteHandle that is garbage collected without an explicit Take still
// releases its background copy, rather than leaking it silently. This
// has no equivalent requirement in a language with deterministic
// destructors; it exists here because Go has none.
func finalizeWriteHandle[T Absorb[O], O Ops](w *WriteHandle[T, O]) {
	if w.taken.Load() {
		return
	}
	taken, err := w.takeInnerLocked()
	if err != nil {
		return
	}
	w.opts.logger.Warn("leftright: writer handle garbage collected without Take; reclaiming via finalizer")
	taken.Close()
}

// lockWriter enforces the single-writer invariant: a second goroutine
// calling any mutating method concurrently panics instead of racing.
func (w *WriteHandle[T, O]) lockWriter() {
	if !w.writerGuard.TryLock() {
		panic(messageMultipleWriters)
	}
}

func (w *WriteHandle[T, O]) unlockWriter() {
	w.writerGuard.Unlock()
}

// HasPending reports whether any operation appended via Pending has not
// yet been made visible to readers by a Publish.
func (w *WriteHandle[T, O]) HasPending() bool {
	return !w.pending.IsEmpty()
}

// Pending returns a pointer to the batch of operations not yet
// applied to either copy, so callers can append to it in place; it is
// up to the caller-defined Ops type to decide what "append" means.
func (w *WriteHandle[T, O]) Pending() *O {
	return &w.pending
}

// RawBackground returns the writer's exclusively-owned copy. T is
// already pointer-shaped by convention in this package, so the
// returned value is itself safe to dereference and mutate directly;
// no separate pointer indirection is needed the way the upstream
// crate's raw_write_handle needs one.
//
// The returned value must only be read or mutated by the writer
// goroutine, and mutating it is only safe before the first Publish:
// after a Publish the background copy is the former foreground, which
// readers that entered before the swap may still be reading. Nothing
// prevents a later mutation. Operations queued via Pending are the
// supported way to mutate consistently across both copies.
func (w *WriteHandle[T, O]) RawBackground() T {
	return w.background
}

// Logger returns the logger this handle was constructed with.
func (w *WriteHandle[T, O]) Logger() *zap.Logger {
	return w.opts.logger
}

// State reports the handle's current lifecycle stage.
func (w *WriteHandle[T, O]) State() State {
	if w.taken.Load() {
		return StateTaken
	}
	if w.publishCount.Load() == 0 {
		return StateFresh
	}
	return StateSteady
}

// Stats returns a snapshot of the handle's publish history.
func (w *WriteHandle[T, O]) Stats() Stats {
	return Stats{Publishes: w.publishCount.Load(), State: w.State()}
}

// Publish applies every pending operation to both copies across two
// cycles (this one and the next) and makes the newly-updated copy
// visible to readers. Before mutating the background copy it blocks
// until every reader that was in a critical section at the previous
// Publish's pointer swap has left it or moved on; readers that entered
// after that swap do not block it. It returns the handle, so publishes
// can be chained after a burst of appends.
func (w *WriteHandle[T, O]) Publish() *WriteHandle[T, O] {
	w.lockWriter()
	defer w.unlockWriter()

	w.publishLocked()
	return w
}

// Flush publishes only if there is a pending operation to apply; it
// is the non-blocking-when-idle variant of Publish used to avoid
// waiting on readers when nothing has changed.
func (w *WriteHandle[T, O]) Flush() {
	w.lockWriter()
	defer w.unlockWriter()

	if !w.pending.IsEmpty() {
		w.publishLocked()
	}
}

// publishLocked runs one full left-right publish cycle. The writer
// lock must already be held by the caller.
func (w *WriteHandle[T, O]) publishLocked() {
	l := w.epochs.Lock()
	defer l.Unlock()

	w.wait(l)

	p := w.ReadHandle.inner.Load()
	if p == nil {
		w.opts.logger.Panic("leftright: nil foreground observed during publish")
	}
	foreground := p.v
	background := w.background

	if w.needsSync {
		background.SyncWith(foreground)
		w.needsSync = false
	}

	// Drain partial (applied to foreground last cycle, not yet to
	// background) into background now that background is about to
	// become foreground.
	background.AbsorbSecond(&w.partial, foreground)
	assertDrained(w.partial, "AbsorbSecond", w.opts.logger)
	w.partial = *new(O)

	// Apply pending to background by reference; the same operations
	// will be drained into the other copy next cycle via AbsorbSecond,
	// so pending is not cleared here, only handed off as next cycle's
	// partial.
	background.AbsorbFirst(&w.pending, foreground)
	w.pending, w.partial = w.partial, w.pending

	newForeground := &cell[T]{v: background}
	oldForeground := w.ReadHandle.inner.Swap(newForeground)
	w.background = oldForeground.v

	// Go's sync/atomic operations are already sequentially consistent,
	// so there is no separate fence to issue here the way a
	// lower-level language needs one between the pointer swap and the
	// epoch snapshot below.

	l.Range(func(slot int, counter *atomic.Uint64) bool {
		w.lastEpochs[slot] = counter.Load()
		return true
	})

	w.publishCount.Add(1)
}

// wait blocks until every reader whose epoch was odd (in a critical
// section) in the snapshot taken at the end of the previous publish
// cycle has either left that critical section or moved on to a later
// one. l must be the currently-held epoch
// registry lock.
func (w *WriteHandle[T, O]) wait(l *epoch.Locked) {
	if capNow := l.Capacity(); capNow > len(w.lastEpochs) {
		grown := make([]uint64, capNow)
		copy(grown, w.lastEpochs)
		w.lastEpochs = grown
	}

	w.waiting.Store(true)
	defer w.waiting.Store(false)

	iter := 0
	resumeFrom := 0
	for {
		stalled := -1
		l.Range(func(slot int, counter *atomic.Uint64) bool {
			if slot < resumeFrom {
				return true
			}
			if w.lastEpochs[slot]%2 == 0 {
				return true
			}
			if counter.Load() != w.lastEpochs[slot] {
				return true
			}
			stalled = slot
			return false
		})
		if stalled < 0 {
			return
		}

		resumeFrom = stalled
		if iter != w.opts.spinLimit {
			iter++
		} else {
			runtime.Gosched()
		}
	}
}

// Taken holds the physical copy recovered by Take (the former
// foreground); the other copy has already been torn down by Take via
// DropFirst. Value returns the recovered copy; Close (normally
// deferred) runs DropSecond on it. IntoValue is the escape hatch for
// callers that take over the value themselves: DropSecond runs only if
// Close is called.
type Taken[T Absorb[O], O Ops] struct {
	value T
}

// Value returns the recovered value.
func (t Taken[T, O]) Value() T {
	return t.value
}

// IntoValue returns the recovered value without running any teardown
// itself. It does not mark the Taken: a later Close still runs
// DropSecond on the same value.
func (t Taken[T, O]) IntoValue() T {
	return t.value
}

// Close runs DropSecond on the recovered value, finishing the teardown
// Take started. Safe to call via defer. It runs DropSecond every time
// it is called, whether or not IntoValue was used.
func (t Taken[T, O]) Close() {
	t.value.DropSecond()
}

// Take dismantles the left-right structure: it publishes any
// remaining operations (running up to two extra cycles so both copies
// converge), detaches the foreground copy from readers, waits for any
// reader still mid-critical-section to leave, runs DropFirst on the
// writer's background copy, and returns the former foreground copy
// wrapped in a Taken, whose Close runs DropSecond on it. After Take, the ReadHandle(s) derived from this
// WriteHandle return ErrReaderDeparted from Enter.
//
// Take may be called at most once; subsequent calls return
// ErrAlreadyTaken.
func (w *WriteHandle[T, O]) Take() (Taken[T, O], error) {
	w.lockWriter()
	defer w.unlockWriter()

	return w.takeInnerLocked()
}

// takeInnerLocked implements Take. It does not itself acquire
// writerGuard, so it can also be invoked directly by the finalizer,
// which runs only once the WriteHandle is unreachable and therefore
// cannot race with a concurrent caller.
func (w *WriteHandle[T, O]) takeInnerLocked() (Taken[T, O], error) {
	if w.taken.Load() {
		return Taken[T, O]{}, ErrAlreadyTaken
	}

	if !w.partial.IsEmpty() || !w.pending.IsEmpty() {
		w.publishLocked()
		if !w.partial.IsEmpty() {
			w.publishLocked()
		}
	}

	w.taken.Store(true)
	runtime.SetFinalizer(w, nil)

	old := w.ReadHandle.inner.Swap(nil)
	if old == nil {
		w.opts.logger.Panic("leftright: nil foreground observed during take")
	}

	func() {
		l := w.epochs.Lock()
		defer l.Unlock()
		w.wait(l)
	}()

	w.background.DropFirst()

	return Taken[T, O]{value: old.v}, nil
}
