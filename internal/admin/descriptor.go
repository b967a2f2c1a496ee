package admin

import (
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// linkIDNamespace roots the deterministic v5 link ids below — any fixed
// UUID works since it only needs to be stable across this process's
// admin-space responses, not globally registered.
var linkIDNamespace = uuid.MustParse("b36c7b0a-5b3e-4f8e-9f1a-6f2a7c9d1e10")

// linkID derives a stable link_id label for a peer's (sole) link from its
// zid, so the same peer reports the same link_id across every admin
// query and listener event without needing a stateful id registry.
func linkID(zid wire.ZID) string {
	return uuid.NewSHA1(linkIDNamespace, zid[:]).String()
}

// PeerDescriptor is the JSON body returned for one connected peer under
// "@/<zid>/pico/session/transport/{unicast|multicast}/<peer_zid>"
// (spec.md §4.9).
type PeerDescriptor struct {
	ZID       string `json:"zid"`
	WhatAmI   string `json:"whatami"`
	Multicast bool   `json:"multicast"`
	Reliable  bool   `json:"reliable"`
	LinkCount int    `json:"link_count"`
}

func newPeerDescriptor(ev transport.PeerEvent) PeerDescriptor {
	return PeerDescriptor{
		ZID:       hex.EncodeToString(ev.ZID[:]),
		WhatAmI:   whatAmIString(ev.WhatAmI),
		Multicast: ev.Multicast,
		Reliable:  ev.Capability.IsReliable,
		LinkCount: 1,
	}
}

// LinkDescriptor is the JSON body returned for one link under
// ".../transport/*/<peer_zid>/link/<link_id>" (spec.md §4.9). This
// engine's transport.Transport interface exposes no per-physical-link
// enumeration below the peer connection itself, so exactly one synthetic
// link is reported per peer, keyed by a uuid derived from the peer's
// zid rather than a locally counted integer — a scope reduction from
// per-link granularity, not a per-peer/per-link distinction the
// underlying transport actually tracks.
type LinkDescriptor struct {
	ID        string `json:"id"`
	Multicast bool   `json:"multicast"`
	Reliable  bool   `json:"reliable"`
}

func newLinkDescriptor(ev transport.PeerEvent) LinkDescriptor {
	return LinkDescriptor{ID: linkID(ev.ZID), Multicast: ev.Multicast, Reliable: ev.Capability.IsReliable}
}

func whatAmIString(w wire.WhatAmI) string {
	switch w {
	case wire.WhatAmIRouter:
		return "router"
	case wire.WhatAmIPeer:
		return "peer"
	case wire.WhatAmIClient:
		return "client"
	default:
		return "unknown"
	}
}
