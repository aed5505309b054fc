// Package leftright implements a concurrency primitive for many
// lock-free readers and one writer, using the left-right pattern: two
// physical copies of a value, one visible to readers (the foreground)
// and one exclusively owned by the writer (the background), with the
// writer swapping which copy is foreground after applying a batch of
// operations to both.
//
// Readers never block; the writer waits for departed readers using a
// parity-based epoch scheme (see internal/epoch) before it may safely
// mutate the copy the readers have just stopped using.
//
// The data type T is not cloned internally: instead, each batch of
// operations is applied once by reference (absorbed into the copy that
// is about to become foreground) and once by value on the following
// publish (absorbed into, and draining, the other copy once it has
// become background), so user operations need not be cheaply
// cloneable.
package leftright

// Ops is the constraint on a writer's operation batch. It must support
// being tested for emptiness and, via its zero value, default
// (empty) construction — the zero value of any Go type already
// satisfies "default construction", so no further constraint is
// needed for that half of the contract.
type Ops interface {
	IsEmpty() bool
}

// Absorb is the capability a user-defined value type must provide to
// be managed by a WriteHandle. T is typically instantiated with a
// pointer type (e.g. *Counter) so that AbsorbFirst/AbsorbSecond can
// mutate the receiver.
//
// AbsorbFirst applies ops to the receiver, which is about to become
// the new foreground copy. It must not drain ops: the same operations
// are needed again by AbsorbSecond on the other copy next cycle.
//
// AbsorbSecond applies ops to the receiver, which is the copy that has
// been background for a full cycle. It owns ops and must drain it —
// after AbsorbSecond returns, ops.IsEmpty() must be true.
//
// Both absorb methods receive other, the data capability of the other
// physical copy, read-only, for cross-referencing (for example, to
// pick up keys materialized in the other copy during a previous
// cycle). Implementations that need the concrete type back can type
// assert it; other is always the same concrete type as the receiver.
//
// SyncWith is called exactly once, on the very first publish, to
// initialize the background copy from the (already-built) foreground
// copy. There is no generic default: Go has no trait default methods,
// so every Absorb implementation must provide one explicitly (see
// NewFromClone for a convenience constructor when T already knows how
// to clone itself).
//
// DropFirst and DropSecond tear down the two copies when the
// structure is dismantled by Take; embed NopDrop for no-op defaults.
type Absorb[O Ops] interface {
	AbsorbFirst(ops *O, other Absorb[O])
	AbsorbSecond(ops *O, other Absorb[O])
	SyncWith(foreground Absorb[O])
	DropFirst()
	DropSecond()
}

// NopDrop is embeddable in a user type to provide no-op
// DropFirst/DropSecond implementations, for types with nothing to
// tear down (e.g. a plain slice or scalar wrapper).
type NopDrop struct{}

// DropFirst does nothing.
func (NopDrop) DropFirst() {}

// DropSecond does nothing.
func (NopDrop) DropSecond() {}

// Cloner is the capability NewFromClone requires in addition to
// Absorb: the ability to produce a second, independent copy of an
// initial value so the caller doesn't have to construct both physical
// copies by hand.
type Cloner[T any] interface {
	Clone() T
}
