package transport

import (
	"context"
	"sync"
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// MulticastTransport is the peer↔peer multicast/raw-Ethernet transport
// (spec.md §4.4 "Open (peer role, multicast)"). Peers are discovered from
// received Join messages correlated to the link's per-datagram source
// address, and evicted on lease expiry. It shares the unicast transport's
// read/lease/finalize shape (grounded on the teacher's
// core.ReliableTransport poll-loop-to-channel pattern) but keeps its own
// local send-side sequence counters, since the wire carries one shared
// multicast send stream rather than a per-peer one.
type MulticastTransport struct {
	cfg Config
	lnk link.Link

	mu         sync.Mutex
	peersByZID map[wire.ZID]*PeerMulticast
	addrToZID  map[string]wire.ZID
	snReliable SNCounter
	snBest     SNCounter

	incoming   chan Delivery
	peerEvents chan PeerEvent
	closed     chan struct{}
	closeOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Transport = (*MulticastTransport)(nil)

// OpenMulticastPeer starts advertising Join on lnk and begins listening
// for peers (spec.md §4.4 "Open (peer role, multicast)").
func OpenMulticastPeer(parent context.Context, lnk link.Link, cfg Config) *MulticastTransport {
	ctx, cancel := context.WithCancel(parent)
	snResolution := cfg.SNResolution
	if snResolution == 0 {
		snResolution = wire.DefaultSNResolution
	}
	t := &MulticastTransport{
		cfg:        cfg,
		lnk:        lnk,
		peersByZID: make(map[wire.ZID]*PeerMulticast),
		addrToZID:  make(map[string]wire.ZID),
		snReliable: NewSNCounter(snResolution, 0),
		snBest:     NewSNCounter(snResolution, 0),
		incoming:   make(chan Delivery, 64),
		peerEvents: make(chan PeerEvent, 16),
		closed:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	t.wg.Add(3)
	go t.joinLoop()
	go t.readLoop()
	go t.evictLoop()
	go t.finalize()
	return t
}

func (t *MulticastTransport) Incoming() <-chan Delivery    { return t.incoming }
func (t *MulticastTransport) PeerEvents() <-chan PeerEvent { return t.peerEvents }
func (t *MulticastTransport) Closed() <-chan struct{}      { return t.closed }

func (t *MulticastTransport) joinLoop() {
	defer t.wg.Done()
	t.sendJoin()
	ticker := time.NewTicker(MulticastJoinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sendJoin()
		}
	}
}

func (t *MulticastTransport) sendJoin() {
	join := wire.TransportMessage{
		Kind:          wire.TMJoin,
		JoinWhat:      t.cfg.WhatAmI,
		JoinZID:       t.cfg.LocalZID,
		JoinLeaseMs:   t.cfg.LeaseMs,
		JoinHasSize:   true,
		JoinBatchSize: t.cfg.BatchSize,
		JoinSNResolution: t.snReliable.Resolution(),
		JoinConduits:     []wire.ConduitSN{{Reliable: 0, BestEffort: 0}},
	}
	if err := writeMessage(t.ctx, t.lnk, join); err != nil && t.ctx.Err() == nil {
		t.cfg.logger().Warnf("multicast transport: join write failed: %v", err)
	}
}

func (t *MulticastTransport) readLoop() {
	defer t.wg.Done()
	for {
		msg, err := readMessage(t.ctx, t.lnk, wire.DecodeTransportMessage)
		if err != nil {
			if t.ctx.Err() == nil {
				t.cfg.logger().Warnf("multicast transport: read failed: %v", err)
			}
			return
		}
		addr := t.lnk.RemoteAddr()

		switch msg.Kind {
		case wire.TMJoin:
			t.onJoin(msg, addr)
		case wire.TMFrame, wire.TMFragment:
			t.dispatchFromAddr(addr, msg)
		default:
			t.cfg.logger().Debugf("multicast transport: ignoring mid %v", msg.Kind)
		}
	}
}

func (t *MulticastTransport) onJoin(msg wire.TransportMessage, addr string) {
	t.mu.Lock()
	peer, known := t.peersByZID[msg.JoinZID]
	if !known {
		snResolution := msg.JoinSNResolution
		if snResolution == 0 {
			snResolution = wire.DefaultSNResolution
		}
		peer = &PeerMulticast{
			RemoteZID:     msg.JoinZID,
			RemoteWhatAmI: msg.JoinWhat,
			LeaseMs:       msg.JoinLeaseMs,
			BatchSize:     int(msg.JoinBatchSize),
			SNResolution:  snResolution,
			SNReliable:    NewSNCounter(snResolution, 0),
			SNBestEffort:  NewSNCounter(snResolution, 0),
			ExpReliable:   NewExpectedTracker(snResolution),
			ExpBestEffort: NewExpectedTracker(snResolution),
			RemoteAddr:    addr,
		}
		t.peersByZID[msg.JoinZID] = peer
		t.addrToZID[addr] = msg.JoinZID
	}
	peer.LastReceived = time.Now()
	t.mu.Unlock()

	if !known {
		select {
		case t.peerEvents <- PeerEvent{Kind: PeerUp, ZID: msg.JoinZID, WhatAmI: msg.JoinWhat, Multicast: true}:
		case <-t.ctx.Done():
		}
	}
}

func (t *MulticastTransport) dispatchFromAddr(addr string, msg wire.TransportMessage) {
	t.mu.Lock()
	zid, ok := t.addrToZID[addr]
	if !ok {
		t.mu.Unlock()
		t.cfg.logger().Debugf("multicast transport: dropping message from unknown peer %s", addr)
		return
	}
	peer := t.peersByZID[zid]
	peer.LastReceived = time.Now()

	var toDeliver []wire.NetworkMessage
	var decodeErr error
	switch msg.Kind {
	case wire.TMFrame:
		tracker := &peer.ExpBestEffort
		if msg.FrameReliable {
			tracker = &peer.ExpReliable
		}
		if !tracker.Observe(msg.FrameSN) && msg.FrameReliable {
			t.mu.Unlock()
			t.cfg.logger().Errorf("multicast transport: reliable sn gap from %s, dropping peer", addr)
			t.dropPeer(zid)
			return
		}
		toDeliver = msg.FrameMessages
	case wire.TMFragment:
		buf := &peer.DefragBest
		if msg.FragReliable {
			buf = &peer.DefragReliable
		}
		reset := buf.Len() == 0
		if msg.FragReliable {
			peer.ExpReliable.Observe(msg.FragSN)
		} else {
			peer.ExpBestEffort.Observe(msg.FragSN)
		}
		if err := buf.Append(msg.FragSN, peer.SNResolution, msg.FragPayload, reset); err != nil {
			if msg.FragReliable {
				t.mu.Unlock()
				t.cfg.logger().Errorf("multicast transport: fragment gap from %s, dropping peer", addr)
				t.dropPeer(zid)
				return
			}
			buf.Clear()
			_ = buf.Append(msg.FragSN, peer.SNResolution, msg.FragPayload, true)
		}
		if !msg.FragMore {
			var nm wire.NetworkMessage
			nm, decodeErr = buf.TryDecode()
			buf.Clear()
			if decodeErr == nil {
				toDeliver = []wire.NetworkMessage{nm}
			}
		}
	}
	t.mu.Unlock()

	if decodeErr != nil {
		t.cfg.logger().Warnf("multicast transport: dropping malformed reassembled message: %v", decodeErr)
		return
	}
	for _, nm := range toDeliver {
		select {
		case t.incoming <- Delivery{PeerZID: zid, Msg: nm}:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *MulticastTransport) dropPeer(zid wire.ZID) {
	t.mu.Lock()
	peer, ok := t.peersByZID[zid]
	if ok {
		delete(t.peersByZID, zid)
		delete(t.addrToZID, peer.RemoteAddr)
	}
	t.mu.Unlock()
	if ok {
		select {
		case t.peerEvents <- PeerEvent{Kind: PeerDown, ZID: zid, WhatAmI: peer.RemoteWhatAmI, Multicast: true}:
		case <-t.ctx.Done():
		}
	}
}

func (t *MulticastTransport) evictLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(MulticastJoinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case now := <-ticker.C:
			var expired []wire.ZID
			t.mu.Lock()
			for zid, p := range t.peersByZID {
				if p.Expired(now) {
					expired = append(expired, zid)
				}
			}
			t.mu.Unlock()
			for _, zid := range expired {
				t.dropPeer(zid)
			}
		}
	}
}

// Send broadcasts msg on the shared multicast link (spec.md §4.4 send
// path); per-recipient reassembly state lives on the receiving end.
func (t *MulticastTransport) Send(ctx context.Context, msg wire.NetworkMessage, reliable bool) error {
	t.mu.Lock()
	var sn uint64
	if reliable {
		sn = t.snReliable.Next()
	} else {
		sn = t.snBest.Next()
	}
	batchSize := int(t.cfg.BatchSize)
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	snResolution := t.snReliable.Resolution()
	t.mu.Unlock()

	frags, _, err := wire.SplitIntoFragments(msg, batchSize, snResolution, reliable, sn)
	if err != nil {
		return err
	}
	if frags == nil {
		frame := wire.TransportMessage{Kind: wire.TMFrame, FrameSN: sn, FrameReliable: reliable, FrameMessages: []wire.NetworkMessage{msg}}
		return writeMessage(ctx, t.lnk, frame)
	}
	for _, f := range frags {
		if err := writeMessage(ctx, t.lnk, f); err != nil {
			return err
		}
	}
	return nil
}

// Close stops advertising and listening; a multicast transport has no
// single-peer session-wide Close message to send (spec.md models
// multicast peer loss purely through lease expiry).
func (t *MulticastTransport) Close(reason wire.CloseReason) error {
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.lnk.Close()
	})
	return nil
}

func (t *MulticastTransport) finalize() {
	t.wg.Wait()
	close(t.peerEvents)
	close(t.incoming)
	close(t.closed)
}
