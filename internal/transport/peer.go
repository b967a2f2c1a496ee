package transport

import (
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// PeerUnicast is a TransportPeerUnicast (spec.md §3): the state kept for
// one remote endpoint of a unicast transport, guarded by the owning
// Transport's mutex (spec.md §5 "per-peer state is not separately
// locked, it is always accessed under the transport mutex").
type PeerUnicast struct {
	RemoteZID      wire.ZID
	RemoteWhatAmI  wire.WhatAmI
	Link           link.Link
	LeaseMs        uint64
	BatchSize      int
	SNResolution   uint64
	SNReliable     SNCounter
	SNBestEffort   SNCounter
	ExpReliable    ExpectedTracker
	ExpBestEffort  ExpectedTracker
	DefragReliable wire.DefragBuffer
	DefragBest     wire.DefragBuffer
	LastReceived   time.Time
	LastSent       time.Time
}

// PeerMulticast is a TransportPeerMulticast (spec.md §3): a remote peer
// discovered via Join on a multicast transport, evicted on lease
// expiry.
type PeerMulticast struct {
	RemoteZID      wire.ZID
	RemoteWhatAmI  wire.WhatAmI
	LeaseMs        uint64
	BatchSize      int
	SNResolution   uint64
	SNReliable     SNCounter
	SNBestEffort   SNCounter
	ExpReliable    ExpectedTracker
	ExpBestEffort  ExpectedTracker
	DefragReliable wire.DefragBuffer
	DefragBest     wire.DefragBuffer
	LastReceived   time.Time
	RemoteAddr     string
}

// Expired reports whether this multicast peer's lease has lapsed relative
// to now (spec.md §4.4 "now - last_received_ms > remote_lease *
// Z_TRANSPORT_LEASE_EXPIRE_FACTOR").
func (p *PeerMulticast) Expired(now time.Time) bool {
	deadline := time.Duration(float64(p.LeaseMs)*LeaseExpireFactor) * time.Millisecond
	return now.Sub(p.LastReceived) > deadline
}
