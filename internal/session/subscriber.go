package session

import (
	"sync"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
)

type subscriberEntry struct {
	rid uint64
	ke  keyexpr.KeyExpr
	cb  *closureSlot[Sample]
}

// subscriberTable is the per-session subscriber registry and dispatch
// matcher (spec.md §4.5 "Subscriber dispatch"): declare/undeclare assign
// and free a resource-scoped id, dispatch iterates by inclusion.
type subscriberTable struct {
	mu      sync.RWMutex
	entries map[uint64]*subscriberEntry
	nextID  uint64
}

func newSubscriberTable() *subscriberTable {
	return &subscriberTable{entries: make(map[uint64]*subscriberEntry), nextID: 1}
}

func (t *subscriberTable) declare(rid uint64, ke keyexpr.KeyExpr, cb func(Sample), drop func()) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.entries[id] = &subscriberEntry{rid: rid, ke: ke, cb: newClosureSlot[Sample](cb, drop)}
	return id
}

// undeclare removes id from dispatch and runs its closure's shutdown
// outside the table lock, since shutdown may block on an in-flight
// invocation and the closure may re-enter the session (spec.md §4.5
// "Re-entrancy is permitted").
func (t *subscriberTable) undeclare(id uint64) {
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

// dispatch hands sample to every subscriber whose keyexpr includes ke
// (spec.md §4.5: "iterates the subscriber table matching by inclusion").
func (t *subscriberTable) dispatch(ke keyexpr.KeyExpr, sample Sample) {
	t.mu.RLock()
	var matched []*closureSlot[Sample]
	for _, entry := range t.entries {
		if keyexpr.Includes(entry.ke, ke) {
			matched = append(matched, entry.cb)
		}
	}
	t.mu.RUnlock()
	for _, cb := range matched {
		cb.invoke(sample)
	}
}

func (t *subscriberTable) closeAll() {
	t.mu.Lock()
	all := make([]*closureSlot[Sample], 0, len(t.entries))
	for _, entry := range t.entries {
		all = append(all, entry.cb)
	}
	t.entries = make(map[uint64]*subscriberEntry)
	t.mu.Unlock()
	for _, cb := range all {
		cb.shutdown()
	}
}
