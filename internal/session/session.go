package session

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// ErrSessionClosed is returned by any operation issued after Close.
var ErrSessionClosed = errors.New("session: closed")

// Session is the front door of the engine: it fans a set of attached
// transports' Incoming()/PeerEvents() streams into the declaration
// registries and exposes the declare/publish/query operations of
// spec.md §4.5. Grounded on the teacher's PeerUnity, which plays the
// same role atop core.PartitionPeer — a thin coordinator gluing the
// transport-level primitive to per-concern state (there, a commit log
// and conflict table; here, resource/subscriber/queryable/query
// registries).
type Session struct {
	zid  wire.ZID
	opts Options

	mu         sync.RWMutex
	transports []transport.Transport

	resources   *resourceTable
	subscribers *subscriberTable
	queryables  *queryableTable
	queries     *queryRegistry

	livelinessTokens *resourceTable // keyed by declare-order id, value holds the token's own keyexpr

	peers *peerTable

	nextEntityID atomic.Uint32

	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New opens a session over one or more already-established transports
// (spec.md §4.4 produces these; a client session typically holds one
// unicast transport to a router, a peer session may hold several
// unicast links plus one multicast transport).
func New(localZID wire.ZID, opts Options, transports ...transport.Transport) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		zid:              localZID,
		opts:             opts,
		transports:       transports,
		resources:        newResourceTable(),
		subscribers:      newSubscriberTable(),
		queryables:       newQueryableTable(),
		queries:          newQueryRegistry(),
		livelinessTokens: newResourceTable(),
		peers:            newPeerTable(),
		closed:           make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, tr := range transports {
		s.wg.Add(1)
		go s.dispatchLoop(ctx, tr)
	}
	return s
}

// AdoptTransport attaches an already-open transport to a running
// session, the way a peer-role listener folds in each newly accepted
// unicast connection (spec.md §4.4 "Open (peer role, unicast)"). A no-op
// once the session is closing.
func (s *Session) AdoptTransport(tr transport.Transport) {
	select {
	case <-s.closed:
		return
	default:
	}
	s.mu.Lock()
	s.transports = append(s.transports, tr)
	s.mu.Unlock()
	s.wg.Add(1)
	go s.dispatchLoop(s.ctx, tr)
}

// Closed is closed once the session has fully shut down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// ZID returns the session's own peer identifier.
func (s *Session) ZID() wire.ZID { return s.zid }

// Peers returns every currently connected peer (spec.md §4.9 admin
// space transport listing).
func (s *Session) Peers() []transport.PeerEvent { return s.peers.snapshot() }

// AddPeerListener registers cb for every subsequent connectivity event
// (spec.md §4.9 "TransportEventsListener"). If history is true, cb is
// first invoked once per currently connected peer before this call
// returns.
func (s *Session) AddPeerListener(cb func(transport.PeerEvent), history bool) uint64 {
	return s.peers.addListener(cb, history)
}

// RemovePeerListener unregisters a listener added with AddPeerListener.
func (s *Session) RemovePeerListener(id uint64) {
	s.peers.removeListener(id)
}

func (s *Session) handlePeerEvent(ev transport.PeerEvent) {
	s.peers.apply(ev)
	zidHex := hex.EncodeToString(ev.ZID[:])
	if ev.Kind == transport.PeerUp {
		s.opts.logger().Infof("session: peer attached zid=%s whatami=%d multicast=%t", zidHex, ev.WhatAmI, ev.Multicast)
	} else {
		s.opts.logger().Infof("session: peer lost zid=%s", zidHex)
	}
}

func (s *Session) dispatchLoop(ctx context.Context, tr transport.Transport) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-tr.Incoming():
			if !ok {
				return
			}
			s.handleIncoming(d)
		case ev, ok := <-tr.PeerEvents():
			if !ok {
				return
			}
			s.handlePeerEvent(ev)
		}
	}
}

// handleIncoming dispatches one delivered Network Message (spec.md §4.4
// receive path step 3 / §4.5).
func (s *Session) handleIncoming(d transport.Delivery) {
	switch d.Msg.Kind {
	case wire.NMDeclare:
		for _, decl := range d.Msg.Declarations {
			s.applyRemoteDeclaration(decl)
		}
	case wire.NMData:
		ke, ok := s.resources.resolve(d.Msg.KeyExpr.ResKeyID, d.Msg.KeyExpr.Suffix)
		if !ok {
			s.opts.logger().Warnf("session: dropping data for unresolved resource id %d", d.Msg.KeyExpr.ResKeyID)
			return
		}
		sample := sampleFromWire(ke, d.Msg.DataInfo, d.Msg.Payload)
		s.subscribers.dispatch(ke, sample)
	case wire.NMQuery:
		s.handleRemoteQuery(d.Msg)
	case wire.NMReply:
		s.handleReply(d.Msg)
	case wire.NMUnit:
		// A bare Unit outside a ReplyContext carries no actionable
		// payload for the base session.
	case wire.NMPull:
		// Pull-mode draining is a handler-layer (C7) concern; the
		// session itself delivers every matching sample as it arrives.
	}
}

// applyRemoteDeclaration mirrors a peer's Resource declaration into the
// local resource table so subsequent id+suffix Data/Query messages from
// that peer resolve correctly. Subscriber/Queryable/Publisher
// declarations from a remote peer are routing information the pico core
// does not act on directly (routing is out of scope, spec.md §2
// Non-goals), so only Resource/ForgetResource are mirrored.
func (s *Session) applyRemoteDeclaration(d wire.Declaration) {
	switch d.Kind {
	case wire.DeclResource:
		ke, status := keyexpr.Canonicalize(d.KeyExpr.Suffix)
		if status == keyexpr.StatusOK {
			s.resources.byID.Set(d.Rid, ke)
		}
	case wire.DeclForgetResource:
		s.resources.forget(d.Rid)
	}
}

func (s *Session) sendToAll(ctx context.Context, msg wire.NetworkMessage, reliable bool) error {
	s.mu.RLock()
	transports := append([]transport.Transport(nil), s.transports...)
	s.mu.RUnlock()
	var firstErr error
	for _, tr := range transports {
		if err := tr.Send(ctx, msg, reliable); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeclareResource allocates a resource id for ke (spec.md §4.5
// "Declarations") and announces it to every attached peer.
func (s *Session) DeclareResource(ctx context.Context, keStr string) (uint64, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return 0, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	rid := s.resources.declare(ke)
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclResource, Rid: rid, KeyExpr: wire.WireKeyExpr{Suffix: ke.String()}},
	}}
	if err := s.sendToAll(ctx, decl, true); err != nil {
		return 0, err
	}
	return rid, nil
}

// ForgetResource frees rid and announces the Forget (idempotent:
// forgetting an unknown id is a no-op per spec.md §4.5).
func (s *Session) ForgetResource(ctx context.Context, rid uint64) error {
	s.resources.forget(rid)
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclForgetResource, Rid: rid},
	}}
	return s.sendToAll(ctx, decl, true)
}

// DeclareSubscriber registers cb to be invoked for every Data sample
// whose resolved keyexpr is included in keStr (spec.md §4.5 "Subscriber
// dispatch"). drop, if non-nil, runs exactly once when the subscriber is
// undeclared or the session closes.
func (s *Session) DeclareSubscriber(ctx context.Context, keStr string, reliable bool, cb func(Sample), drop func()) (uint64, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return 0, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	id := s.subscribers.declare(0, ke, cb, drop)
	reliability := wire.ReliabilityBestEffort
	if reliable {
		reliability = wire.ReliabilityReliable
	}
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclSubscriber, KeyExpr: wire.WireKeyExpr{Suffix: ke.String()}, Sub: wire.SubInfo{Mode: wire.SubModePush, Reliability: reliability}},
	}}
	if err := s.sendToAll(ctx, decl, true); err != nil {
		s.subscribers.undeclare(id)
		return 0, err
	}
	return id, nil
}

// UndeclareSubscriber runs the callback lifecycle contract (spec.md
// §4.5) for id: removes it from dispatch, waits for any in-flight
// invocation, then runs its drop.
func (s *Session) UndeclareSubscriber(id uint64) {
	s.subscribers.undeclare(id)
}

// DeclareQueryable registers cb to be invoked for every Query whose
// keyexpr intersects keStr (spec.md §4.5 "Query dispatch").
func (s *Session) DeclareQueryable(ctx context.Context, keStr string, complete bool, cb func(Query), drop func()) (uint64, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return 0, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	id := s.queryables.declare(ke, complete, cb, drop)
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclQueryable, KeyExpr: wire.WireKeyExpr{Suffix: ke.String()}, Complete: complete},
	}}
	if err := s.sendToAll(ctx, decl, true); err != nil {
		s.queryables.undeclare(id)
		return 0, err
	}
	return id, nil
}

// UndeclareQueryable undeclares id, following the callback lifecycle
// contract the same way UndeclareSubscriber does.
func (s *Session) UndeclareQueryable(id uint64) {
	s.queryables.undeclare(id)
}

// DeclarePublisher announces a Publisher declaration for keStr (spec.md
// §4.5 "Declarations"). It carries no local registry entry of its own —
// publishing itself needs no local id, since it is the routing layer
// (out of scope, spec.md §2 Non-goals) that uses Publisher declarations
// to prune unmatched routes — but is exposed so a caller that holds a
// Publisher handle can undeclare and stop advertising it.
func (s *Session) DeclarePublisher(ctx context.Context, keStr string) (keyexpr.KeyExpr, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return keyexpr.KeyExpr{}, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclPublisher, KeyExpr: wire.WireKeyExpr{Suffix: ke.String()}},
	}}
	if err := s.sendToAll(ctx, decl, true); err != nil {
		return keyexpr.KeyExpr{}, err
	}
	return ke, nil
}

// UndeclarePublisher announces a ForgetPublisher declaration for ke.
func (s *Session) UndeclarePublisher(ctx context.Context, ke keyexpr.KeyExpr) error {
	decl := wire.NetworkMessage{Kind: wire.NMDeclare, Declarations: []wire.Declaration{
		{Kind: wire.DeclForgetPublisher, KeyExpr: wire.WireKeyExpr{Suffix: ke.String()}},
	}}
	return s.sendToAll(ctx, decl, true)
}

// Put publishes a PUT sample on keStr (spec.md §3 "Network Message"
// Data variant). If LocalSubscriberLoopback is enabled the sample is
// also dispatched to matching local subscribers before it is sent.
func (s *Session) Put(ctx context.Context, keStr string, payload []byte, encoding string, reliable bool) error {
	return s.publish(ctx, keStr, payload, encoding, wire.KindPut, reliable)
}

// Delete publishes a DELETE sample on keStr.
func (s *Session) Delete(ctx context.Context, keStr string, reliable bool) error {
	return s.publish(ctx, keStr, nil, "", wire.KindDelete, reliable)
}

func (s *Session) publish(ctx context.Context, keStr string, payload []byte, encoding string, kind wire.SampleKind, reliable bool) error {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	info := wire.DataInfo{Encoding: encoding, Kind: kind, HasTimestamp: true, Timestamp: nowMillis()}
	return s.PutSample(ctx, sampleFromWire(ke, info, payload), reliable)
}

// PutSample publishes sample exactly as given, letting a caller attach a
// SourceInfo (entity global id + sequence number) that plain Put/Delete
// leave absent — the publication path advanced publishers (spec.md §4.8)
// need for sample-miss detection, alongside their own cache/heartbeat
// bookkeeping.
func (s *Session) PutSample(ctx context.Context, sample Sample, reliable bool) error {
	if s.opts.LocalSubscriberLoopback {
		s.subscribers.dispatch(sample.KeyExpr, sample)
	}
	nm := wire.NetworkMessage{Kind: wire.NMData, KeyExpr: wire.WireKeyExpr{Suffix: sample.KeyExpr.String()}, DataInfo: sample.toDataInfo(), Payload: sample.Payload}
	return s.sendToAll(ctx, nm, reliable)
}

// handleRemoteQuery resolves a received Query against the local
// queryable table and invokes each matching closure (spec.md §4.5
// "Queryables, on receipt of a Query, invoke their user closure... when
// the closure returns, the session automatically sends a Reply-final
// marker").
func (s *Session) handleRemoteQuery(msg wire.NetworkMessage) {
	ke, ok := s.resources.resolve(msg.KeyExpr.ResKeyID, msg.KeyExpr.Suffix)
	if !ok {
		return
	}
	matches := s.queryables.matching(ke, msg.Target)
	replierID := s.replierID()
	for _, cb := range matches {
		query := Query{
			KeyExpr:    ke,
			Parameters: msg.Parameters,
			Payload:    msg.Payload,
			HasPayload: msg.HasPayload,
			reply: func(sample Sample) {
				reply := wire.NetworkMessage{
					Kind:     wire.NMReply,
					Reply:    wire.ReplyContext{Qid: msg.Qid, ReplierID: replierID, Final: false},
					KeyExpr:  wire.WireKeyExpr{Suffix: sample.KeyExpr.String()},
					DataInfo: sample.toDataInfo(),
					Payload:  sample.Payload,
				}
				_ = s.sendToAll(context.Background(), reply, true)
			},
		}
		cb.invoke(query)
	}
	final := wire.NetworkMessage{Kind: wire.NMReply, Reply: wire.ReplyContext{Qid: msg.Qid, ReplierID: replierID, Final: true}, IsUnit: true}
	_ = s.sendToAll(context.Background(), final, true)
}

func (s *Session) replierID() [16]byte {
	var id [16]byte
	copy(id[:], s.zid[:])
	return id
}

func (s *Session) handleReply(msg wire.NetworkMessage) {
	pq, ok := s.queries.get(msg.Reply.Qid)
	if !ok {
		return
	}
	if msg.Reply.Final {
		pq.finish()
		return
	}
	if msg.IsUnit {
		return
	}
	ke, ok := s.resources.resolve(msg.KeyExpr.ResKeyID, msg.KeyExpr.Suffix)
	if !ok {
		return
	}
	pq.deliver(sampleFromWire(ke, msg.DataInfo, msg.Payload))
}

// Get issues a Query (spec.md §4.5 "z_get"): it allocates a qid,
// registers a PendingQuery, sends the Query Network Message, and
// arranges for cb to be called (possibly zero times) followed by a
// final Reply{Final: true} no later than timeout, then drop exactly
// once. token, if non-nil, is the cancellation token of spec.md §5:
// token.Cancel() marks it cancelled, blocks until any reply invocation
// in flight returns, and runs drop exactly once; a token already
// cancelled before Get is called short-circuits per spec.md §8 S6 — no
// Query message is sent, cb never runs, and drop runs immediately.
func (s *Session) Get(ctx context.Context, keStr, parameters string, target wire.QueryTarget, consolidation wire.Consolidation, payload []byte, timeout time.Duration, cb func(Reply), drop func(), token *CancelToken) error {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	resolved := resolveAuto(consolidation, parameters)

	var qid uint64
	var timer *time.Timer
	slot := newClosureSlot[Reply](cb, func() {
		if timer != nil {
			timer.Stop()
		}
		s.queries.drop(qid)
		if drop != nil {
			drop()
		}
	})
	pq := newPendingQuery(resolved, slot)
	qid = s.queries.register(pq)

	if token != nil && !token.bind(slot) {
		slot.shutdown()
		return nil
	}

	nm := wire.NetworkMessage{
		Kind:          wire.NMQuery,
		KeyExpr:       wire.WireKeyExpr{Suffix: ke.String()},
		Parameters:    parameters,
		Qid:           qid,
		Target:        target,
		Consolidation: consolidation,
		HasPayload:    len(payload) > 0,
		Payload:       payload,
	}
	if err := s.sendToAll(ctx, nm, true); err != nil {
		slot.shutdown()
		return err
	}

	timer = time.AfterFunc(timeout, pq.finish)
	return nil
}

// DeclareLivelinessToken declares a token under the reserved
// "@/liveliness" prefix and emits its initial PUT sample (spec.md §4.5
// "Liveliness").
func (s *Session) DeclareLivelinessToken(ctx context.Context, keStr string) (uint64, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return 0, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	full := underLiveliness(ke)
	id := s.livelinessTokens.declare(full)
	if err := s.publish(ctx, full.String(), nil, "", wire.KindPut, true); err != nil {
		s.livelinessTokens.forget(id)
		return 0, err
	}
	return id, nil
}

// UndeclareLivelinessToken emits the token's DELETE sample and frees it.
func (s *Session) UndeclareLivelinessToken(ctx context.Context, id uint64) error {
	ke, ok := s.livelinessTokens.byID.Remove(id)
	if !ok {
		return nil
	}
	return s.publish(ctx, ke.String(), nil, "", wire.KindDelete, true)
}

// DeclareLivelinessSubscriber subscribes to liveliness PUT/DELETE
// samples under keStr, scoped under the reserved prefix the same way
// DeclareLivelinessToken publishes under it.
func (s *Session) DeclareLivelinessSubscriber(ctx context.Context, keStr string, cb func(Sample), drop func()) (uint64, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return 0, errors.Newf("session: invalid keyexpr %q: %s", keStr, status)
	}
	return s.DeclareSubscriber(ctx, underLiveliness(ke).String(), true, cb, drop)
}

// Close implements spec.md §4.5's session-drop path: every declared
// token emits a DELETE, every registered closure is shut down per the
// callback lifecycle contract, every pending query is cancelled, and
// every attached transport is closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for id, ke := range s.livelinessTokens.byID.Snapshot() {
			_ = s.publish(context.Background(), ke.String(), nil, "", wire.KindDelete, true)
			s.livelinessTokens.forget(id)
		}
		s.queries.cancelAll()
		s.subscribers.closeAll()
		s.queryables.closeAll()

		s.mu.RLock()
		transports := append([]transport.Transport(nil), s.transports...)
		s.mu.RUnlock()
		for _, tr := range transports {
			_ = tr.Close(wire.CloseGeneric)
		}
		s.cancel()
		s.wg.Wait()
		close(s.closed)
	})
	return nil
}

// NextEntityID allocates the next local entity id for this session,
// starting at 1. Combined with ZID() this is the entity_global_id
// (spec.md §3 "Source Info") advanced publishers/subscribers (C9) tag
// their samples with.
func (s *Session) NextEntityID() uint32 {
	return s.nextEntityID.Add(1)
}
