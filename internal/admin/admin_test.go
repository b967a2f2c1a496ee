package admin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

func openSessionPair(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()
	clientLink, routerLink := link.NewMemLinkPair(link.Capability{Transport: link.TransportUnicast, Flow: link.FlowStream, IsReliable: true}, 65535)

	var clientZID, routerZID wire.ZID
	clientZID[0] = 0x55
	routerZID[0] = 0x66
	clientCfg := transport.Config{LocalZID: clientZID, WhatAmI: wire.WhatAmIClient, BatchSize: 4096, SNResolution: wire.DefaultSNResolution, LeaseMs: 5000}
	routerCfg := transport.Config{LocalZID: routerZID, WhatAmI: wire.WhatAmIRouter, BatchSize: 4096, SNResolution: wire.DefaultSNResolution, LeaseMs: 5000}

	type result struct {
		tr  *transport.UnicastTransport
		err error
	}
	clientCh := make(chan result, 1)
	routerCh := make(chan result, 1)
	go func() {
		tr, err := transport.OpenUnicastClient(context.Background(), clientLink, clientCfg)
		clientCh <- result{tr, err}
	}()
	go func() {
		tr, err := transport.AcceptUnicastPeer(context.Background(), routerLink, routerCfg)
		routerCh <- result{tr, err}
	}()
	cr := <-clientCh
	rr := <-routerCh
	require.NoError(t, cr.err)
	require.NoError(t, rr.err)

	// Sessions must be constructed (and their dispatch loops started)
	// before draining PeerEvents, since the one PeerUp event each
	// transport emits on handshake completion is buffered but not
	// replayed: a drain here rather than inside Session.New would starve
	// the session's own peer table of its only attach notification.
	clientSess := session.New(clientZID, session.Options{}, cr.tr)
	routerSess := session.New(routerZID, session.Options{}, rr.tr)
	waitForPeer(t, clientSess)
	waitForPeer(t, routerSess)

	return clientSess, routerSess
}

func waitForPeer(t *testing.T, sess *session.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sess.Peers()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for peer attach")
}

func TestAdminSpace_AnswersPeerAndLinkDescriptors(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	sp, err := Start(context.Background(), client)
	require.NoError(t, err)
	defer sp.Stop()

	replies := make(chan session.Sample, 8)
	token := session.NewCancelToken()
	err = client.Get(context.Background(), "@/"+zidHex(client.ZID())+"/pico/session/**", "", wire.TargetAll, wire.ConsolidationNone, nil, 2*time.Second, func(r session.Reply) {
		if !r.Final {
			replies <- r.Sample
		}
	}, nil, token)
	require.NoError(t, err)
	defer token.Cancel()

	var samples []session.Sample
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case s := <-replies:
			samples = append(samples, s)
		case <-deadline:
			break collect
		}
	}
	require.NotEmpty(t, samples)

	var sawPeer, sawLink bool
	for _, s := range samples {
		chunks := s.KeyExpr.Chunks()
		if len(chunks) >= 6 && chunks[4] == "transport" {
			var desc PeerDescriptor
			if json.Unmarshal(s.Payload, &desc) == nil && desc.ZID == zidHex(router.ZID()) {
				sawPeer = true
			}
		}
		if len(chunks) >= 9 && chunks[7] == "link" {
			var linkDesc LinkDescriptor
			if json.Unmarshal(s.Payload, &linkDesc) == nil {
				sawLink = true
			}
		}
	}
	require.True(t, sawPeer, "expected a peer descriptor reply")
	require.True(t, sawLink, "expected a link descriptor reply")
}

func TestListenTransportEvents_HistoryReplaysCurrentPeer(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	events := make(chan TransportEvent, 4)
	l := ListenTransportEvents(client, true, func(ev TransportEvent) { events <- ev })
	defer l.Close()

	select {
	case ev := <-events:
		require.True(t, ev.Up)
		require.Equal(t, zidHex(router.ZID()), ev.Peer.ZID)
	case <-time.After(time.Second):
		t.Fatal("expected a history replay event")
	}
}

func TestListenLinkEvents_FiresOnPeerUp(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	events := make(chan LinkEvent, 4)
	l := ListenLinkEvents(client, true, func(ev LinkEvent) { events <- ev })
	defer l.Close()

	select {
	case ev := <-events:
		require.True(t, ev.Up)
		require.Equal(t, linkID(router.ZID()), ev.Link.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a link event")
	}
}
