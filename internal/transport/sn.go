package transport

// SNCounter tracks one channel's (reliable or best-effort) sequence
// number under a negotiated resolution (spec.md §4.4 "Sequence numbers
// live in Z/2^r ... arithmetic is modular").
type SNCounter struct {
	resolution uint64
	next       uint64
}

// NewSNCounter starts a counter at the given initial sn under resolution
// (2^r, conventionally wire.DefaultSNResolution from the wire
// package, but kept generic here since it is negotiated per transport).
func NewSNCounter(resolution, initial uint64) SNCounter {
	return SNCounter{resolution: resolution, next: initial % resolution}
}

// Next returns the next sn to use and advances the counter.
func (c *SNCounter) Next() uint64 {
	sn := c.next
	c.next = (c.next + 1) % c.resolution
	return sn
}

// Resolution reports the modulus this counter operates under.
func (c *SNCounter) Resolution() uint64 {
	return c.resolution
}

// ExpectedTracker tracks the receive side: the last delivered sn per
// channel, used to detect gaps (spec.md §4.4 receive path step 4 and the
// reliable-channel monotonicity property in §8).
type ExpectedTracker struct {
	resolution uint64
	last       uint64
	hasLast    bool
}

// NewExpectedTracker constructs a tracker for a channel with the given
// negotiated resolution.
func NewExpectedTracker(resolution uint64) ExpectedTracker {
	return ExpectedTracker{resolution: resolution}
}

// Observe reports whether sn is the expected next value, and records it
// as the new "last delivered" sn regardless (callers on a reliable
// channel should treat a non-ok Observe as cause to close the transport;
// best-effort callers accept any sn and just keep moving).
func (e *ExpectedTracker) Observe(sn uint64) (ok bool) {
	if !e.hasLast {
		e.hasLast = true
		e.last = sn
		return true
	}
	expected := (e.last + 1) % e.resolution
	e.last = sn
	return sn == expected
}

// Expected returns the next sn this tracker expects, valid only once at
// least one sn has been observed.
func (e *ExpectedTracker) Expected() uint64 {
	if !e.hasLast {
		return 0
	}
	return (e.last + 1) % e.resolution
}
