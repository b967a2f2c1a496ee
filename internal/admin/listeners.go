package admin

import (
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
)

// TransportEvent reports a peer's transport coming up or going down
// (spec.md §4.9). Up is true for transport.PeerUp; Peer is the JSON
// body the admin queryable would also report for this peer.
type TransportEvent struct {
	Up   bool
	Peer PeerDescriptor
}

// TransportEventsListener registers a callback for every peer-up/down
// transition, with an optional history replay of currently connected
// peers at registration time (spec.md §4.9 "an optional history flag").
type TransportEventsListener struct {
	sess *session.Session
	id   uint64
}

// ListenTransportEvents wraps Session.AddPeerListener, translating raw
// transport.PeerEvent values into the admin space's TransportEvent shape
// so a caller of this package never needs to import internal/transport.
func ListenTransportEvents(sess *session.Session, history bool, cb func(TransportEvent)) *TransportEventsListener {
	id := sess.AddPeerListener(func(ev transport.PeerEvent) {
		cb(TransportEvent{Up: ev.Kind == transport.PeerUp, Peer: newPeerDescriptor(ev)})
	}, history)
	return &TransportEventsListener{sess: sess, id: id}
}

// Close stops delivering events to this listener.
func (l *TransportEventsListener) Close() {
	l.sess.RemovePeerListener(l.id)
}

// LinkEvent reports a link coming up or going down alongside its parent
// peer transition, since this engine tracks exactly one link per peer
// connection (see LinkDescriptor).
type LinkEvent struct {
	Up   bool
	Link LinkDescriptor
}

// LinkEventsListener is LinkEvent's counterpart to
// TransportEventsListener, built on the same underlying peer table.
type LinkEventsListener struct {
	sess *session.Session
	id   uint64
}

// ListenLinkEvents registers cb for every link up/down transition.
func ListenLinkEvents(sess *session.Session, history bool, cb func(LinkEvent)) *LinkEventsListener {
	id := sess.AddPeerListener(func(ev transport.PeerEvent) {
		cb(LinkEvent{Up: ev.Kind == transport.PeerUp, Link: newLinkDescriptor(ev)})
	}, history)
	return &LinkEventsListener{sess: sess, id: id}
}

// Close stops delivering events to this listener.
func (l *LinkEventsListener) Close() {
	l.sess.RemovePeerListener(l.id)
}
