package collections

import "sync/atomic"

// Cell is a refcounted shared-ownership cell with strong/weak duality,
// used to anchor long-lived listener callback contexts so that a session
// cannot be freed while a callback is in flight, and so that weak
// references from listeners back to the session can break the reference
// cycle (§9 re-architecture guidance: "manual reference counting with
// strong/weak split" maps to the language's standard shared-ownership
// primitive; here that's an atomic refcount plus a drop callback since Go
// has no destructor hook to piggy-back on).
type Cell[T any] struct {
	value   T
	strong  *int64
	weak    *int64
	dropped *int32
	onDrop  func(T)
}

// NewCell wraps value in a Cell with one outstanding strong reference.
// onDrop, if non-nil, runs exactly once when the last strong reference is
// released.
func NewCell[T any](value T, onDrop func(T)) *Cell[T] {
	strong := int64(1)
	weak := int64(0)
	dropped := int32(0)
	return &Cell[T]{
		value:   value,
		strong:  &strong,
		weak:    &weak,
		dropped: &dropped,
		onDrop:  onDrop,
	}
}

// Strong returns a new handle sharing the same underlying value and
// incrementing the strong refcount.
func (c *Cell[T]) Strong() *Cell[T] {
	atomic.AddInt64(c.strong, 1)
	return &Cell[T]{value: c.value, strong: c.strong, weak: c.weak, dropped: c.dropped, onDrop: c.onDrop}
}

// Weak returns a handle that does not keep the value alive; Upgrade must be
// called before each use.
func (c *Cell[T]) Weak() *Weak[T] {
	atomic.AddInt64(c.weak, 1)
	return &Weak[T]{cell: c}
}

// Release decrements the strong refcount, invoking onDrop exactly once when
// it reaches zero.
func (c *Cell[T]) Release() {
	if atomic.AddInt64(c.strong, -1) == 0 {
		if atomic.CompareAndSwapInt32(c.dropped, 0, 1) && c.onDrop != nil {
			c.onDrop(c.value)
		}
	}
}

// Value returns the wrapped value. Valid as long as at least one strong
// reference is outstanding.
func (c *Cell[T]) Value() T {
	return c.value
}

// IsAlive reports whether the value has not yet been dropped.
func (c *Cell[T]) IsAlive() bool {
	return atomic.LoadInt32(c.dropped) == 0
}

// Weak is a non-owning handle to a Cell's value.
type Weak[T any] struct {
	cell *Cell[T]
}

// Upgrade returns a new strong handle if the value is still alive.
func (w *Weak[T]) Upgrade() (*Cell[T], bool) {
	if w.cell == nil || !w.cell.IsAlive() {
		return nil, false
	}
	atomic.AddInt64(w.cell.strong, 1)
	return &Cell[T]{value: w.cell.value, strong: w.cell.strong, weak: w.cell.weak, dropped: w.cell.dropped, onDrop: w.cell.onDrop}, true
}
