package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain fails the package if any test leaks a reader/lease goroutine
// past its own Close (UnicastTransport and MulticastTransport each start
// one of each in Open*).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pairConfigs() (Config, Config) {
	var clientZID, routerZID wire.ZID
	clientZID[0] = 0x01
	routerZID[0] = 0x02
	return Config{
			LocalZID:     clientZID,
			WhatAmI:      wire.WhatAmIClient,
			BatchSize:    2048,
			SNResolution: wire.DefaultSNResolution,
			LeaseMs:      2000,
		}, Config{
			LocalZID:     routerZID,
			WhatAmI:      wire.WhatAmIRouter,
			BatchSize:    2048,
			SNResolution: wire.DefaultSNResolution,
			LeaseMs:      2000,
		}
}

func openPair(t *testing.T) (*UnicastTransport, *UnicastTransport) {
	t.Helper()
	clientLink, routerLink := link.NewMemLinkPair(link.Capability{Transport: link.TransportUnicast, Flow: link.FlowStream, IsReliable: true}, 65535)
	clientCfg, routerCfg := pairConfigs()

	type result struct {
		tr  *UnicastTransport
		err error
	}
	clientCh := make(chan result, 1)
	routerCh := make(chan result, 1)
	go func() {
		tr, err := OpenUnicastClient(context.Background(), clientLink, clientCfg)
		clientCh <- result{tr, err}
	}()
	go func() {
		tr, err := AcceptUnicastPeer(context.Background(), routerLink, routerCfg)
		routerCh <- result{tr, err}
	}()

	cr := <-clientCh
	rr := <-routerCh
	require.NoError(t, cr.err)
	require.NoError(t, rr.err)
	return cr.tr, rr.tr
}

func TestHandshake_NegotiatesAndDeliversPeerUpEvent(t *testing.T) {
	client, router := openPair(t)
	defer client.Close(wire.CloseGeneric)
	defer router.Close(wire.CloseGeneric)

	ev := <-client.PeerEvents()
	require.Equal(t, PeerUp, ev.Kind)
	ev2 := <-router.PeerEvents()
	require.Equal(t, PeerUp, ev2.Kind)
}

func TestSend_SmallMessageDeliveredAsFrame(t *testing.T) {
	client, router := openPair(t)
	defer client.Close(wire.CloseGeneric)
	defer router.Close(wire.CloseGeneric)
	<-client.PeerEvents()
	<-router.PeerEvents()

	nm := wire.NetworkMessage{
		Kind:     wire.NMData,
		KeyExpr:  wire.WireKeyExpr{Suffix: "a/b"},
		DataInfo: wire.DataInfo{Encoding: "text/plain", Kind: wire.KindPut},
		Payload:  []byte("hi"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, nm, true))

	select {
	case d := <-router.Incoming():
		require.Equal(t, nm, d.Msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSend_LargeMessageReassembledAcrossFragments(t *testing.T) {
	client, router := openPair(t)
	defer client.Close(wire.CloseGeneric)
	defer router.Close(wire.CloseGeneric)
	<-client.PeerEvents()
	<-router.PeerEvents()

	payload := bytes.Repeat([]byte{0x7a}, 5000)
	nm := wire.NetworkMessage{
		Kind:     wire.NMData,
		KeyExpr:  wire.WireKeyExpr{Suffix: "big/one"},
		DataInfo: wire.DataInfo{Encoding: "application/octet-stream", Kind: wire.KindPut},
		Payload:  payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, nm, true))

	select {
	case d := <-router.Incoming():
		require.Equal(t, nm, d.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled delivery")
	}
}

func TestClose_UnblocksIncomingWithChannelClose(t *testing.T) {
	client, router := openPair(t)
	<-client.PeerEvents()
	<-router.PeerEvents()

	require.NoError(t, client.Close(wire.CloseGeneric))

	select {
	case <-client.Closed():
	case <-time.After(time.Second):
		t.Fatal("client did not finalize after Close")
	}
	_, ok := <-client.Incoming()
	require.False(t, ok, "Incoming should be closed after transport close")

	select {
	case <-router.Closed():
	case <-time.After(time.Second):
		t.Fatal("router did not notice peer close")
	}
}

func TestSNCounter_WrapsAtResolution(t *testing.T) {
	c := NewSNCounter(4, 2)
	require.Equal(t, uint64(2), c.Next())
	require.Equal(t, uint64(3), c.Next())
	require.Equal(t, uint64(0), c.Next())
}

func TestExpectedTracker_DetectsGap(t *testing.T) {
	tr := NewExpectedTracker(100)
	require.True(t, tr.Observe(5))
	require.True(t, tr.Observe(6))
	require.False(t, tr.Observe(8))
}
