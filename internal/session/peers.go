package session

import (
	"sync"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/metrics"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
)

// peerTable is the live connectivity state the admin space (spec.md §4.9)
// answers queries from and fans PeerEvents out to registered listeners
// for. Grounded on the same IntMap-backed registry style the rest of the
// session's declaration tables use.
type peerTable struct {
	mu        sync.RWMutex
	known     map[string]transport.PeerEvent
	listeners *collections.IntMap[func(transport.PeerEvent)]
}

func newPeerTable() *peerTable {
	return &peerTable{
		known:     make(map[string]transport.PeerEvent),
		listeners: collections.NewIntMap[func(transport.PeerEvent)](),
	}
}

func peerKey(ev transport.PeerEvent) string {
	return string(ev.ZID[:])
}

// apply updates the live peer table from one connectivity event and fans
// it out to every registered listener (spec.md §4.9 "Events are
// delivered under the session mutex snapshot and fan out to every
// registered listener").
func (t *peerTable) apply(ev transport.PeerEvent) {
	t.mu.Lock()
	switch ev.Kind {
	case transport.PeerUp:
		t.known[peerKey(ev)] = ev
	case transport.PeerDown:
		delete(t.known, peerKey(ev))
	}
	count := len(t.known)
	listeners := t.listeners.Snapshot()
	t.mu.Unlock()
	metrics.PeersConnected.Set(float64(count))

	for _, cb := range listeners {
		cb(ev)
	}
}

// snapshot returns every currently known peer.
func (t *peerTable) snapshot() []transport.PeerEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]transport.PeerEvent, 0, len(t.known))
	for _, ev := range t.known {
		out = append(out, ev)
	}
	return out
}

// addListener registers cb and, if history is true, immediately replays
// a PeerUp for every currently known peer before returning (spec.md §4.9
// "an optional history flag that synthesizes PUT events for all current
// peers ... at registration time").
func (t *peerTable) addListener(cb func(transport.PeerEvent), history bool) uint64 {
	t.mu.Lock()
	id := t.listeners.Insert(cb)
	var replay []transport.PeerEvent
	if history {
		replay = make([]transport.PeerEvent, 0, len(t.known))
		for _, ev := range t.known {
			replay = append(replay, ev)
		}
	}
	t.mu.Unlock()

	for _, ev := range replay {
		cb(ev)
	}
	return id
}

func (t *peerTable) removeListener(id uint64) {
	t.listeners.Remove(id)
}
