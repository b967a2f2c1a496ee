package transport

import (
	"context"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// Delivery is one Network Message handed up to the Session, in the order
// it was received on its channel (spec.md §4.4 receive path step 3).
type Delivery struct {
	PeerZID wire.ZID
	Msg     wire.NetworkMessage
}

// PeerEventKind discriminates connectivity events (spec.md §4.9).
type PeerEventKind int

const (
	PeerUp PeerEventKind = iota
	PeerDown
)

// PeerEvent is emitted on peer attach/loss, consumed by the admin space
// and by TransportEventsListener registrations (spec.md §4.9).
type PeerEvent struct {
	Kind       PeerEventKind
	ZID        wire.ZID
	WhatAmI    wire.WhatAmI
	Multicast  bool
	Capability link.Capability
}

// Transport is the narrow interface the Session depends on, generalizing
// the teacher's core.Transport (Broadcast/Unicast/Listen/Close) from a
// single reliable-broadcast channel to zenoh-pico's per-peer
// reliable/best-effort conduits with connectivity eventing.
type Transport interface {
	// Send serializes msg, fragmenting or batching as needed, and writes
	// it to every currently attached peer on the named channel.
	Send(ctx context.Context, msg wire.NetworkMessage, reliable bool) error
	// Incoming yields Network Messages dispatched from any peer, in
	// per-peer-per-channel order.
	Incoming() <-chan Delivery
	// PeerEvents yields connectivity attach/loss notifications.
	PeerEvents() <-chan PeerEvent
	// Closed is closed once the transport has fully shut down.
	Closed() <-chan struct{}
	// Close initiates a session-wide close with reason, idempotent.
	Close(reason wire.CloseReason) error
}
