package session

import (
	"sync"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// Query is delivered to a queryable's closure (spec.md §4.5 "Query
// dispatch"). Reply may be called zero or more times before the closure
// returns; the session sends the Reply-final marker automatically once
// it does.
type Query struct {
	KeyExpr    keyexpr.KeyExpr
	Parameters string
	Payload    []byte
	HasPayload bool

	reply func(sample Sample)
}

// Reply sends one reply sample for this query.
func (q Query) Reply(sample Sample) {
	if q.reply != nil {
		q.reply(sample)
	}
}

type queryableEntry struct {
	ke       keyexpr.KeyExpr
	complete bool
	cb       *closureSlot[Query]
}

// queryableTable is the per-session queryable registry. Dispatch matches
// by intersection since both the query and the queryable's keyexpr may
// carry wildcards (spec.md §3 "Query"; the admin space queryable is the
// concrete example of answering "queries whose keyexpr intersects").
type queryableTable struct {
	mu      sync.RWMutex
	entries map[uint64]*queryableEntry
	nextID  uint64
}

func newQueryableTable() *queryableTable {
	return &queryableTable{entries: make(map[uint64]*queryableEntry), nextID: 1}
}

func (t *queryableTable) declare(ke keyexpr.KeyExpr, complete bool, cb func(Query), drop func()) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.entries[id] = &queryableEntry{ke: ke, complete: complete, cb: newClosureSlot[Query](cb, drop)}
	return id
}

func (t *queryableTable) undeclare(id uint64) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		entry.cb.shutdown()
	}
}

// matching returns every queryable closure whose keyexpr intersects ke,
// honoring TargetAllComplete by excluding non-complete queryables.
func (t *queryableTable) matching(ke keyexpr.KeyExpr, target wire.QueryTarget) []*closureSlot[Query] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*closureSlot[Query]
	for _, entry := range t.entries {
		if !keyexpr.Intersects(entry.ke, ke) {
			continue
		}
		if target == wire.TargetAllComplete && !entry.complete {
			continue
		}
		out = append(out, entry.cb)
		if target == wire.TargetBestMatching && len(out) == 1 {
			break
		}
	}
	return out
}

func (t *queryableTable) closeAll() {
	t.mu.Lock()
	all := make([]*closureSlot[Query], 0, len(t.entries))
	for _, entry := range t.entries {
		all = append(all, entry.cb)
	}
	t.entries = make(map[uint64]*queryableEntry)
	t.mu.Unlock()
	for _, cb := range all {
		cb.shutdown()
	}
}
