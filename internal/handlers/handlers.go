// Package handlers implements the bounded handler-channel disciplines of
// spec.md §4.6 (C7): a closure (the producer-facing sink fed by the
// session's dispatch path) paired with a receiver (the consumer-facing
// source the application drains). Built directly on
// internal/collections' Fifo and Ring, the way zenoh-pico's z_fifo_handler
// and z_ring_handler sit directly on top of its ring.c/fifo.c collections.
package handlers

import (
	"runtime"
	"sync/atomic"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
)

// ErrDisconnected is returned by Receiver.Recv once the handler's
// producer side has been closed and fully drained (spec.md §4.6
// "CHANNEL_DISCONNECTED").
var ErrDisconnected = disconnectedError{}

type disconnectedError struct{}

func (disconnectedError) Error() string { return "handlers: channel disconnected" }

// Receiver is the consumer-facing half of a handler (spec.md §4.6).
type Receiver[T any] interface {
	// Recv blocks until a value is available or the handler closes.
	Recv() (T, error)
	// TryRecv returns immediately: a value, ErrDisconnected, or
	// (zero, nil) if nothing is currently available.
	TryRecv() (T, error, bool)
}

// Handler pairs a closure (Send) with the matching Receiver.
type Handler[T any] struct {
	Closure  func(T)
	Receiver Receiver[T]
}

// fifoReceiver adapts collections.Fifo to Receiver.
type fifoReceiver[T any] struct {
	q      *collections.Fifo[T]
	closed *atomic.Bool
}

func (r fifoReceiver[T]) Recv() (T, error) {
	v, ok := r.q.Pop()
	if !ok {
		var zero T
		return zero, ErrDisconnected
	}
	return v, nil
}

func (r fifoReceiver[T]) TryRecv() (T, error, bool) {
	v, ok := r.q.TryPop()
	if ok {
		return v, nil, true
	}
	var zero T
	if r.closed.Load() {
		// The queue was closed before the flag was set, so no push can
		// race this second look.
		if v, ok := r.q.TryPop(); ok {
			return v, nil, true
		}
		return zero, ErrDisconnected, true
	}
	return zero, nil, false
}

// NewFIFO builds a bounded FIFO handler (spec.md §4.6 "FIFO: bounded
// capacity N; push blocks the producer when full"). The closure blocks
// the caller (the session's dispatch path) while the receiver is not
// keeping up; Close is monotonic.
func NewFIFO[T any](capacity int) (h Handler[T], closeFn func()) {
	q := collections.NewFifo[T](capacity)
	var closed atomic.Bool
	h = Handler[T]{
		Closure:  func(v T) { q.Push(v) },
		Receiver: fifoReceiver[T]{q: q, closed: &closed},
	}
	return h, func() {
		q.Close()
		closed.Store(true)
	}
}

// ringReceiver adapts collections.Ring to Receiver. A Ring has no
// blocking wait built in (spec.md §4.6 "try_recv is non-blocking"); Recv
// is a tight poll that yields to the scheduler between attempts, since
// the collection itself carries no condition variable.
type ringReceiver[T any] struct {
	r       *collections.Ring[T]
	closed  *atomic.Bool
	onEmpty func()
}

func (r ringReceiver[T]) Recv() (T, error) {
	for {
		if v, ok := r.r.TryPop(); ok {
			return v, nil
		}
		if r.closed.Load() {
			var zero T
			return zero, ErrDisconnected
		}
		r.onEmpty()
	}
}

func (r ringReceiver[T]) TryRecv() (T, error, bool) {
	if v, ok := r.r.TryPop(); ok {
		return v, nil, true
	}
	if r.closed.Load() {
		var zero T
		return zero, ErrDisconnected, true
	}
	var zero T
	return zero, nil, false
}

// NewRing builds a bounded drop-oldest Ring handler (spec.md §4.6
// "Ring: bounded capacity N with drop-oldest-on-overflow semantics").
// A blocking Recv polls TryPop, yielding via runtime.Gosched between
// attempts since the underlying collections.Ring carries no condition
// variable to wait on (unlike Fifo).
func NewRing[T any](capacity int) (h Handler[T], closeFn func()) {
	r := collections.NewRing[T](capacity)
	var closed atomic.Bool
	h = Handler[T]{
		Closure: func(v T) { r.Push(v) },
		Receiver: ringReceiver[T]{
			r:       r,
			closed:  &closed,
			onEmpty: runtime.Gosched,
		},
	}
	return h, func() { closed.Store(true) }
}
