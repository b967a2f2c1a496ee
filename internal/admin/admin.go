// Package admin implements the admin space and connectivity listeners of
// spec.md §4.9 (C10): a queryable answering JSON descriptions of the
// session's live peers under "@/<zid>/pico/session/**", plus
// TransportEventsListener/LinkEventsListener registrations built on
// internal/session's peer table. Grounded on the same
// declare-a-queryable-under-a-reserved-prefix idiom liveliness tokens
// (C6) and the advanced layer's presence markers (C9) already establish.
package admin

import (
	"context"
	"encoding/json"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// Space is one running admin space instance (spec.md §4.9). Construct
// with Start; Stop retracts its queryable.
type Space struct {
	sess        *session.Session
	queryableID uint64
}

// Start declares the admin queryable at "@/<local_zid>/pico/session/**"
// (spec.md §4.9). Matches zp_start_admin_space / auto_start_admin_space.
func Start(ctx context.Context, sess *session.Session) (*Space, error) {
	root := adminRootKeyExpr(sess.ZID())
	sp := &Space{sess: sess}
	id, err := sess.DeclareQueryable(ctx, root.String(), true, sp.answer, nil)
	if err != nil {
		return nil, err
	}
	sp.queryableID = id
	return sp, nil
}

// Stop retracts the admin queryable.
func (sp *Space) Stop() {
	sp.sess.UndeclareQueryable(sp.queryableID)
}

func adminRootKeyExpr(zid wire.ZID) keyexpr.KeyExpr {
	return keyexpr.MustCanonicalize(adminRoot(zid) + "/**")
}

func adminRoot(zid wire.ZID) string {
	return "@/" + zidHex(zid) + "/pico/session"
}

func zidHex(zid wire.ZID) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, len(zid)*2)
	for _, b := range zid {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}

// answer replies with one Sample per connected peer (and, for each, one
// per link) under ".../transport/{unicast|multicast}/<peer_zid>" and
// ".../transport/*/<peer_zid>/link/<link_id>" (spec.md §4.9), computed
// from Session.Peers() — itself guarded by the peer table's own mutex,
// matching "computed from the live peer/link tables under the transport
// peer mutex". Any query under the admin root is answered this same way
// regardless of which concrete sub-path it targets; matching is left to
// keyexpr intersection against each candidate reply's keyexpr.
func (sp *Space) answer(q session.Query) {
	root := adminRoot(sp.sess.ZID())
	for _, peer := range sp.sess.Peers() {
		desc := newPeerDescriptor(peer)
		kind := "unicast"
		if peer.Multicast {
			kind = "multicast"
		}
		peerKEStr := root + "/transport/" + kind + "/" + zidHex(peer.ZID)
		if ke, status := keyexpr.Canonicalize(peerKEStr); status == keyexpr.StatusOK && keyexpr.Intersects(ke, q.KeyExpr) {
			if payload, err := json.Marshal(desc); err == nil {
				q.Reply(session.Sample{KeyExpr: ke, Payload: payload, Encoding: "application/json", Kind: wire.KindPut})
			}
		}

		linkKEStr := peerKEStr + "/link/" + linkID(peer.ZID)
		if ke, status := keyexpr.Canonicalize(linkKEStr); status == keyexpr.StatusOK && keyexpr.Intersects(ke, q.KeyExpr) {
			link := newLinkDescriptor(peer)
			if payload, err := json.Marshal(link); err == nil {
				q.Reply(session.Sample{KeyExpr: ke, Payload: payload, Encoding: "application/json", Kind: wire.KindPut})
			}
		}
	}
}
