package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// TestMain fails the package if any test leaves a Session's dispatch or
// transport goroutines running past its own Close.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	clientLink, routerLink := link.NewMemLinkPair(link.Capability{Transport: link.TransportUnicast, Flow: link.FlowStream, IsReliable: true}, 65535)

	var clientZID, routerZID wire.ZID
	clientZID[0] = 0x11
	routerZID[0] = 0x22
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
	<-cr.tr.PeerEvents()
	<-rr.tr.PeerEvents()

	return New(clientZID, Options{}, cr.tr), New(routerZID, Options{}, rr.tr)
}

func TestSubscriber_ReceivesMatchingPut(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	received := make(chan Sample, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := router.DeclareSubscriber(ctx, "demo/**", true, func(s Sample) {
		received <- s
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Put(ctx, "demo/a/b", []byte("payload"), "text/plain", true))

	select {
	case s := <-received:
		require.Equal(t, "demo/a/b", s.KeyExpr.String())
		require.Equal(t, []byte("payload"), s.Payload)
		require.Equal(t, wire.KindPut, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestSubscriber_DoesNotMatchDisjointKeyExpr(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	received := make(chan Sample, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := router.DeclareSubscriber(ctx, "demo/one/**", true, func(s Sample) {
		received <- s
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Put(ctx, "demo/two/x", []byte("nope"), "text/plain", true))

	select {
	case <-received:
		t.Fatal("unexpected delivery for disjoint keyexpr")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestUndeclareSubscriber_StopsFurtherDelivery(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	var dropped bool
	received := make(chan Sample, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := router.DeclareSubscriber(ctx, "demo/**", true, func(s Sample) {
		received <- s
	}, func() { dropped = true })
	require.NoError(t, err)

	require.NoError(t, client.Put(ctx, "demo/a", []byte("1"), "", true))
	<-received

	router.UndeclareSubscriber(id)
	require.True(t, dropped)

	require.NoError(t, client.Put(ctx, "demo/a", []byte("2"), "", true))
	select {
	case <-received:
		t.Fatal("delivery after undeclare")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestQueryable_RepliesAndFinalMarkerConcludesQuery(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := router.DeclareQueryable(ctx, "demo/echo", true, func(q Query) {
		q.Reply(Sample{KeyExpr: q.KeyExpr, Payload: []byte("pong")})
	}, nil)
	require.NoError(t, err)

	replies := make(chan Reply, 4)
	err = client.Get(ctx, "demo/echo", "", wire.TargetAll, wire.ConsolidationNone, nil, time.Second, func(r Reply) {
		replies <- r
	}, nil, nil)
	require.NoError(t, err)

	select {
	case r := <-replies:
		require.False(t, r.Final)
		require.Equal(t, []byte("pong"), r.Sample.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
	select {
	case r := <-replies:
		require.True(t, r.Final)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final marker")
	}
}

// S6: a cancellation token already cancelled before Get is called
// short-circuits: no Query is placed on the wire, the reply closure
// never runs, and drop fires immediately (spec.md §8 S6).
func TestGet_TokenCancelledBeforeGet_PlacesNothingOnWire(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	queried := make(chan struct{}, 1)
	_, err := router.DeclareQueryable(ctx, "demo/echo", true, func(q Query) {
		queried <- struct{}{}
		q.Reply(Sample{KeyExpr: q.KeyExpr, Payload: []byte("pong")})
	}, nil)
	require.NoError(t, err)

	token := NewCancelToken()
	token.Cancel()

	var repliesRun int32
	dropped := make(chan struct{}, 1)
	err = client.Get(ctx, "demo/echo", "", wire.TargetAll, wire.ConsolidationNone, nil, time.Second, func(r Reply) {
		atomic.AddInt32(&repliesRun, 1)
	}, func() {
		dropped <- struct{}{}
	}, token)
	require.NoError(t, err)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("drop never ran for a token cancelled before Get")
	}
	select {
	case <-dropped:
		t.Fatal("drop ran more than once")
	default:
	}

	select {
	case <-queried:
		t.Fatal("queryable was invoked despite an already-cancelled token")
	case <-time.After(150 * time.Millisecond):
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&repliesRun))
}

// spec.md §5(b): cancelling while a reply callback is executing blocks
// until that invocation returns.
func TestCancelToken_CancelBlocksUntilInFlightReplyReturns(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := router.DeclareQueryable(ctx, "demo/echo", true, func(q Query) {
		q.Reply(Sample{KeyExpr: q.KeyExpr, Payload: []byte("pong")})
	}, nil)
	require.NoError(t, err)

	inReply := make(chan struct{})
	releaseReply := make(chan struct{})
	token := NewCancelToken()
	err = client.Get(ctx, "demo/echo", "", wire.TargetAll, wire.ConsolidationNone, nil, 2*time.Second, func(r Reply) {
		if r.Final {
			return
		}
		close(inReply)
		<-releaseReply
	}, nil, token)
	require.NoError(t, err)

	select {
	case <-inReply:
	case <-time.After(time.Second):
		t.Fatal("reply callback never started")
	}

	cancelDone := make(chan struct{})
	go func() {
		token.Cancel()
		close(cancelDone)
	}()

	select {
	case <-cancelDone:
		t.Fatal("Cancel returned before the in-flight reply callback did")
	case <-time.After(150 * time.Millisecond):
	}

	close(releaseReply)

	select {
	case <-cancelDone:
	case <-time.After(time.Second):
		t.Fatal("Cancel never returned after the in-flight reply callback finished")
	}
}

func TestLivelinessToken_DeclareEmitsPutAndUndeclareEmitsDelete(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	events := make(chan Sample, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := router.DeclareLivelinessSubscriber(ctx, "alice/**", func(s Sample) {
		events <- s
	}, nil)
	require.NoError(t, err)

	tokID, err := client.DeclareLivelinessToken(ctx, "alice/node1")
	require.NoError(t, err)

	select {
	case s := <-events:
		require.Equal(t, wire.KindPut, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for liveliness PUT")
	}

	require.NoError(t, client.UndeclareLivelinessToken(ctx, tokID))
	select {
	case s := <-events:
		require.Equal(t, wire.KindDelete, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for liveliness DELETE")
	}
}

func TestDeclareResource_DoesNotItselfEmitData(t *testing.T) {
	client, router := openSessionPair(t)
	defer client.Close()
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	received := make(chan Sample, 1)
	_, err := router.DeclareSubscriber(ctx, "r/**", true, func(s Sample) { received <- s }, nil)
	require.NoError(t, err)

	rid, err := client.DeclareResource(ctx, "r/base")
	require.NoError(t, err)
	require.Greater(t, rid, uint64(0))

	select {
	case <-received:
		t.Fatal("unexpected data from a bare resource declaration")
	case <-time.After(100 * time.Millisecond):
	}
}
