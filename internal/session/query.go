package session

import (
	"sync"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// Reply is delivered to a z_get caller's closure (spec.md §3 "Query").
type Reply struct {
	Sample Sample
	Final  bool
}

// pendingQuery tracks one outstanding z_get (spec.md §4.5 "Query
// dispatch"): replies match by qid until a final marker arrives or the
// caller cancels it. Consolidation buffers replies per keyexpr when the
// mode requires looking at more than the single most recent one. The
// reply closure itself lives in a closureSlot, the same in-flight-gate
// plus drop-exactly-once primitive internal/session/callback.go gives
// subscribers and queryables — spec.md §5's cancellation-token contract
// is just that contract applied to a query instead of a declaration.
type pendingQuery struct {
	mu            sync.Mutex
	consolidation wire.Consolidation
	slot          *closureSlot[Reply]
	finished      bool
	latestTS      map[string]uint64
	buffered      map[string]Sample
	hasTS         map[string]bool
}

func newPendingQuery(consolidation wire.Consolidation, slot *closureSlot[Reply]) *pendingQuery {
	return &pendingQuery{
		consolidation: consolidation,
		slot:          slot,
		latestTS:      make(map[string]uint64),
		buffered:      make(map[string]Sample),
		hasTS:         make(map[string]bool),
	}
}

// shutdown ends this query unconditionally, without delivering a final
// reply: the session-close and explicit-cancellation paths both funnel
// through here, leaving the closure's drop as the only signal the caller
// gets (spec.md §8 S6(a): a cancelled query's reply channel observes
// disconnection, not a late Final reply).
func (q *pendingQuery) shutdown() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.slot.shutdown()
}

// deliver handles one incoming reply sample under this query's
// consolidation mode (spec.md §4.5 consolidation modes list). auto
// resolves to none/latest by resolveAuto at registration time; an
// unresolved auto reaching here is handled as latest.
func (q *pendingQuery) deliver(sample Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished || !q.slot.isLive() {
		return
	}
	key := sample.KeyExpr.String()
	switch q.consolidation {
	case wire.ConsolidationNone:
		q.slot.invoke(Reply{Sample: sample})
	case wire.ConsolidationMonotonic:
		// "latest" with a missing timestamp is treated as "earliest"
		// (spec.md §9 Open Question decision), so an untimestamped reply
		// never supersedes one already delivered for this keyexpr.
		if !sample.HasTimestamp {
			if !q.hasTS[key] {
				q.hasTS[key] = true
				q.slot.invoke(Reply{Sample: sample})
			}
			return
		}
		if prevTS, ok := q.latestTS[key]; !ok || sample.Timestamp > prevTS {
			q.latestTS[key] = sample.Timestamp
			q.hasTS[key] = true
			q.slot.invoke(Reply{Sample: sample})
		}
	case wire.ConsolidationLatest, wire.ConsolidationAuto:
		cur, ok := q.buffered[key]
		if !ok {
			q.buffered[key] = sample
			return
		}
		// A sample without a timestamp is treated as older than any
		// timestamped sample, and ties keep the first seen.
		if !sample.HasTimestamp {
			return
		}
		if !cur.HasTimestamp || sample.Timestamp > cur.Timestamp {
			q.buffered[key] = sample
		}
	}
}

// finish delivers any buffered latest-mode replies, then the final
// marker, then shuts the closure down, running its drop exactly once.
// Safe to call more than once (the timeout timer and an incoming Final
// wire marker can race): only the first call past the finished/isLive
// guard does anything.
func (q *pendingQuery) finish() {
	q.mu.Lock()
	if q.finished || !q.slot.isLive() {
		q.mu.Unlock()
		return
	}
	q.finished = true
	buffered := q.buffered
	q.buffered = nil
	q.mu.Unlock()

	for _, s := range buffered {
		q.slot.invoke(Reply{Sample: s})
	}
	q.slot.invoke(Reply{Final: true})
	q.slot.shutdown()
}

// CancelToken is a caller-owned cancellation handle for z_get (spec.md
// §5 "Cancellation"). The zero value is not usable; build one with
// NewCancelToken. A token may be cancelled before it is ever passed to
// Get, in which case Get short-circuits per spec.md §8 S6: no Query
// message is sent, the reply closure never runs, and drop fires
// immediately.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	slot      *closureSlot[Reply]
}

// NewCancelToken builds an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token cancelled, preventing any new dispatch. If the
// token is already bound to a live query (i.e. Get has been called with
// it), Cancel blocks until the reply closure invocation currently in
// flight, if any, returns, then runs the closure's drop exactly once
// (spec.md §5(b), §5(c)). Cancel is idempotent. Called from within the
// reply closure of a bound query it never returns, since it waits for
// that same invocation to finish.
func (c *CancelToken) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	slot := c.slot
	c.mu.Unlock()
	if slot != nil {
		slot.shutdown()
	}
}

// bind attaches slot to the token and reports whether the token was
// still live at that moment. Get calls this immediately after
// registering the query: if it returns false the token was already
// cancelled and Get must short-circuit without touching the wire; if it
// returns true, a concurrent Cancel from here on observes slot and runs
// the usual shutdown.
func (c *CancelToken) bind(slot *closureSlot[Reply]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return false
	}
	c.slot = slot
	return true
}

// queryRegistry tracks pending queries by qid (spec.md §3 "PendingQuery").
type queryRegistry struct {
	mu      sync.Mutex
	pending map[uint64]*pendingQuery
	nextQid uint64
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{pending: make(map[uint64]*pendingQuery), nextQid: 1}
}

func (r *queryRegistry) register(pq *pendingQuery) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	qid := r.nextQid
	r.nextQid++
	r.pending[qid] = pq
	return qid
}

func (r *queryRegistry) get(qid uint64) (*pendingQuery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pq, ok := r.pending[qid]
	return pq, ok
}

func (r *queryRegistry) drop(qid uint64) {
	r.mu.Lock()
	delete(r.pending, qid)
	r.mu.Unlock()
}

func (r *queryRegistry) cancelAll() {
	r.mu.Lock()
	all := make([]*pendingQuery, 0, len(r.pending))
	for _, pq := range r.pending {
		all = append(all, pq)
	}
	r.pending = make(map[uint64]*pendingQuery)
	r.mu.Unlock()
	for _, pq := range all {
		pq.shutdown()
	}
}

// resolveAuto implements spec.md §4.5's `auto` consolidation rule:
// "if the parameters string contains time-range tokens, use none;
// otherwise latest." zenoh-pico's time-range tokens are the `_time`
// query parameter key.
func resolveAuto(consolidation wire.Consolidation, parameters string) wire.Consolidation {
	if consolidation != wire.ConsolidationAuto {
		return consolidation
	}
	if hasTimeRangeToken(parameters) {
		return wire.ConsolidationNone
	}
	return wire.ConsolidationLatest
}

func hasTimeRangeToken(parameters string) bool {
	const needle = "_time"
	for i := 0; i+len(needle) <= len(parameters); i++ {
		if parameters[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
