package transport

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestMulticast_JoinDiscoversPeerAndDeliversData(t *testing.T) {
	capTuple := link.Capability{Transport: link.TransportMulticast, Flow: link.FlowDatagram, IsReliable: false}
	a, b := link.NewMemLinkPair(capTuple, 2048)

	var zidA, zidB wire.ZID
	zidA[0] = 0x0a
	zidB[0] = 0x0b

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ta := OpenMulticastPeer(ctx, a, Config{LocalZID: zidA, WhatAmI: wire.WhatAmIPeer, BatchSize: 2048, SNResolution: wire.DefaultSNResolution, LeaseMs: 2000})
	tb := OpenMulticastPeer(ctx, b, Config{LocalZID: zidB, WhatAmI: wire.WhatAmIPeer, BatchSize: 2048, SNResolution: wire.DefaultSNResolution, LeaseMs: 2000})
	defer ta.Close(wire.CloseGeneric)
	defer tb.Close(wire.CloseGeneric)

	select {
	case ev := <-ta.PeerEvents():
		require.Equal(t, PeerUp, ev.Kind)
		require.Equal(t, zidB, ev.ZID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer discovery on a")
	}
	select {
	case ev := <-tb.PeerEvents():
		require.Equal(t, PeerUp, ev.Kind)
		require.Equal(t, zidA, ev.ZID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer discovery on b")
	}

	nm := wire.NetworkMessage{
		Kind:     wire.NMData,
		KeyExpr:  wire.WireKeyExpr{Suffix: "mc/topic"},
		DataInfo: wire.DataInfo{Encoding: "text/plain", Kind: wire.KindPut},
		Payload:  []byte("hello-mc"),
	}
	sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Second)
	defer sendCancel()
	require.NoError(t, ta.Send(sendCtx, nm, false))

	select {
	case d := <-tb.Incoming():
		require.Equal(t, zidA, d.PeerZID)
		require.Equal(t, nm, d.Msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for multicast delivery")
	}
}
