// Package transport implements the unicast and multicast transport core
// (spec.md §4.4, C5): session/peer tables, sequence-number arithmetic,
// fragmentation/defragmentation, batching, and the read/lease loops. It is
// grounded on the teacher's core/transport.go and core/peer.go: a
// background poll loop feeding a producer channel, plus a context/cancel
// pair for shutdown, generalized from go-mcast's single reliable-broadcast
// channel to zenoh-pico's per-peer reliable/best-effort conduits.
package transport

import "time"

// Default tunables (spec.md §6 "Default tunables").
const (
	ZIDLength              = 16
	ProtocolVersion        = 0x06
	DefaultLeaseMs         = 10_000
	LeaseExpireFactor      = 3.5
	MulticastJoinInterval  = 2_500 * time.Millisecond
	SocketTimeout          = 2_000 * time.Millisecond
	DefaultBatchSize       = 65_535
	MaxFragmentSize        = 300_000
)

// leaseTickFactor divides lease_ms to derive the keep-alive/lease-check
// interval (spec.md §4.4 "every lease_ms / Z_TRANSPORT_LEASE_EXPIRE_FACTOR ms").
const leaseTickFactor = LeaseExpireFactor
