package zenoh

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/config"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// fakeDialer hands back one pre-wired mem link per Dial call, playing
// the external link driver's role the way the teacher's tests stand in
// a fake Storage/LogicalGlobalClock for NewUnity.
type fakeDialer struct {
	link link.Link
}

func (d fakeDialer) Dial(ctx context.Context, loc link.Locator) (link.Link, error) {
	return d.link, nil
}

func waitForPeers(t *testing.T, sess *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sess.Peers()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d peer(s)", n)
}

func TestOpen_ClientConnectsAndStartsAdminSpace(t *testing.T) {
	clientLink, routerLink := link.NewMemLinkPair(link.Capability{Transport: link.TransportUnicast, Flow: link.FlowStream, IsReliable: true}, 65535)

	var routerZID wire.ZID
	routerZID[0] = 0x99
	routerCfg := transport.Config{LocalZID: routerZID, WhatAmI: wire.WhatAmIRouter, BatchSize: 4096, SNResolution: wire.DefaultSNResolution, LeaseMs: 5000}

	routerDone := make(chan *transport.UnicastTransport, 1)
	go func() {
		tr, err := transport.AcceptUnicastPeer(context.Background(), routerLink, routerCfg)
		require.NoError(t, err)
		routerDone <- tr
	}()

	cfg := config.Default()
	cfg.Mode = "client"
	cfg.Connect = "tcp/127.0.0.1:7447"
	cfg.MulticastScouting = false

	ctx := context.Background()
	sess, err := Open(ctx, cfg, fakeDialer{link: clientLink}, nil, Options{AutoStartAdminSpace: true})
	require.NoError(t, err)
	defer sess.Close()

	waitForPeers(t, sess, 1)

	peers := sess.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, routerZID, peers[0].ZID)

	router := <-routerDone
	defer router.Close(wire.CloseGeneric)

	replies := make(chan struct{}, 4)
	localZID := sess.ZID()
	err = sess.Get(ctx, "@/"+hex.EncodeToString(localZID[:])+"/pico/session/**", "", wire.TargetAll, wire.ConsolidationNone, nil, 2*time.Second, func(r session.Reply) {
		if !r.Final {
			replies <- struct{}{}
		}
	}, nil, nil)
	require.NoError(t, err)

	select {
	case <-replies:
	case <-time.After(2 * time.Second):
		t.Fatal("admin space never answered")
	}
}

func TestOpen_RejectsClientModeWithoutConnect(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "client"

	_, err := Open(context.Background(), cfg, nil, nil, Options{})
	require.Error(t, err)
}

func TestOpen_RejectsConnectWithoutDialer(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "client"
	cfg.Connect = "tcp/127.0.0.1:7447"
	cfg.MulticastScouting = false

	_, err := Open(context.Background(), cfg, nil, nil, Options{})
	require.Error(t, err)
}
