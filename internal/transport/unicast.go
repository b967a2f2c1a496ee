package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/metrics"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

func channelLabel(reliable bool) string {
	if reliable {
		return "reliable"
	}
	return "best_effort"
}

// ErrTransportClosed is returned by Send once the transport has closed.
var ErrTransportClosed = errors.New("transport: closed")

// UnicastTransport is the client↔router / peer↔peer unicast transport
// (spec.md §4.4, C5). It is grounded on the teacher's
// core.ReliableTransport: a background poll loop feeding a producer
// channel (here Incoming), plus a context/cancel pair driving an orderly
// shutdown, generalized to a real reliable/best-effort conduit pair with
// fragmentation and a lease task.
type UnicastTransport struct {
	cfg Config

	mu   sync.Mutex
	peer *PeerUnicast

	incoming   chan Delivery
	peerEvents chan PeerEvent
	closed     chan struct{}
	closeOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Transport = (*UnicastTransport)(nil)

func newUnicastTransport(parent context.Context, cfg Config, peer *PeerUnicast) *UnicastTransport {
	ctx, cancel := context.WithCancel(parent)
	t := &UnicastTransport{
		cfg:        cfg,
		peer:       peer,
		incoming:   make(chan Delivery, 64),
		peerEvents: make(chan PeerEvent, 4),
		closed:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	now := time.Now()
	peer.LastReceived = now
	peer.LastSent = now
	t.wg.Add(2)
	go t.readLoop()
	go t.leaseLoop()
	go t.finalize()
	return t
}

// OpenUnicastClient runs the client-role handshake (spec.md §4.4) and
// returns a running transport on success; on any failure the link is
// closed and OpenFailed(reason) is reported via the wrapped error.
func OpenUnicastClient(ctx context.Context, lnk link.Link, cfg Config) (*UnicastTransport, error) {
	peer, err := clientHandshake(ctx, lnk, cfg)
	if err != nil {
		_ = lnk.Close()
		return nil, err
	}
	t := newUnicastTransport(ctx, cfg, peer)
	t.peerEvents <- PeerEvent{Kind: PeerUp, ZID: peer.RemoteZID, WhatAmI: peer.RemoteWhatAmI, Capability: lnk.Capability()}
	return t, nil
}

// AcceptUnicastPeer runs the responder-role handshake over an already
// accepted link (the concrete listener/acceptor is an external
// collaborator per spec.md's Link Contract scope).
func AcceptUnicastPeer(ctx context.Context, lnk link.Link, cfg Config) (*UnicastTransport, error) {
	peer, err := acceptHandshake(ctx, lnk, cfg)
	if err != nil {
		_ = lnk.Close()
		return nil, err
	}
	t := newUnicastTransport(ctx, cfg, peer)
	t.peerEvents <- PeerEvent{Kind: PeerUp, ZID: peer.RemoteZID, WhatAmI: peer.RemoteWhatAmI, Capability: lnk.Capability()}
	return t, nil
}

func (t *UnicastTransport) Incoming() <-chan Delivery    { return t.incoming }
func (t *UnicastTransport) PeerEvents() <-chan PeerEvent { return t.peerEvents }
func (t *UnicastTransport) Closed() <-chan struct{}      { return t.closed }

// Send implements spec.md §4.4's send path: fragment if the serialized
// Network Message exceeds the negotiated batch size, otherwise wrap in a
// single-message Frame.
func (t *UnicastTransport) Send(ctx context.Context, msg wire.NetworkMessage, reliable bool) error {
	t.mu.Lock()
	peer := t.peer
	if peer == nil {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	var sn uint64
	if reliable {
		sn = peer.SNReliable.Next()
	} else {
		sn = peer.SNBestEffort.Next()
	}
	batchSize := peer.BatchSize
	snResolution := peer.SNResolution
	lnk := peer.Link
	t.mu.Unlock()

	frags, _, err := wire.SplitIntoFragments(msg, batchSize, snResolution, reliable, sn)
	if err != nil {
		return err
	}
	if frags == nil {
		frame := wire.TransportMessage{Kind: wire.TMFrame, FrameSN: sn, FrameReliable: reliable, FrameMessages: []wire.NetworkMessage{msg}}
		if err := writeMessage(ctx, lnk, frame); err != nil {
			return err
		}
		t.mu.Lock()
		peer.LastSent = time.Now()
		t.mu.Unlock()
		metrics.FramesSentTotal.WithLabelValues(channelLabel(reliable)).Inc()
		return nil
	}
	for _, f := range frags {
		if err := writeMessage(ctx, lnk, f); err != nil {
			return err
		}
	}
	t.mu.Lock()
	peer.LastSent = time.Now()
	t.mu.Unlock()
	metrics.FramesSentTotal.WithLabelValues(channelLabel(reliable)).Inc()
	return nil
}

func (t *UnicastTransport) readLoop() {
	defer t.wg.Done()
	for {
		msg, err := readMessage(t.ctx, t.peer.Link, wire.DecodeTransportMessage)
		if err != nil {
			if t.ctx.Err() == nil {
				t.cfg.logger().Warnf("transport: read failed: %v", err)
			}
			t.Close(wire.CloseGeneric)
			return
		}
		t.mu.Lock()
		t.peer.LastReceived = time.Now()
		t.mu.Unlock()

		switch msg.Kind {
		case wire.TMFrame:
			if !t.trackFrameSN(msg.FrameSN, msg.FrameReliable) {
				t.cfg.logger().Errorf("transport: reliable sn gap, closing")
				t.Close(wire.CloseInvalid)
				return
			}
			metrics.FramesReceivedTotal.WithLabelValues(channelLabel(msg.FrameReliable)).Inc()
			for _, nm := range msg.FrameMessages {
				select {
				case t.incoming <- Delivery{PeerZID: t.peer.RemoteZID, Msg: nm}:
				case <-t.ctx.Done():
					return
				}
			}
		case wire.TMFragment:
			if !t.handleFragment(msg) {
				return
			}
		case wire.TMKeepAlive:
			// last_received_ms already updated above.
		case wire.TMClose:
			t.Close(msg.CloseReason)
			return
		default:
			t.cfg.logger().Debugf("transport: ignoring unexpected mid during steady state: %v", msg.Kind)
		}
	}
}

func (t *UnicastTransport) trackFrameSN(sn uint64, reliable bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reliable {
		return t.peer.ExpReliable.Observe(sn)
	}
	t.peer.ExpBestEffort.Observe(sn)
	return true
}

// handleFragment appends msg's payload to the appropriate defrag buffer,
// handling reliable-channel gaps as fatal and best-effort gaps as
// discard-and-reset (spec.md §4.4 receive path step 4). Returns false if
// the transport was closed as a result.
func (t *UnicastTransport) handleFragment(msg wire.TransportMessage) bool {
	t.mu.Lock()
	buf := &t.peer.DefragBest
	if msg.FragReliable {
		buf = &t.peer.DefragReliable
	}
	reset := buf.Len() == 0
	if reset {
		metrics.FragmentsInFlight.WithLabelValues(channelLabel(msg.FragReliable)).Inc()
	}
	// Fragment sns share the same channel counter as Frame sns (spec.md
	// §4.4: "the first fragment's sn becomes the sn of the next whole
	// Frame on that channel"), so the channel tracker advances here too.
	if msg.FragReliable {
		t.peer.ExpReliable.Observe(msg.FragSN)
	} else {
		t.peer.ExpBestEffort.Observe(msg.FragSN)
	}
	err := buf.Append(msg.FragSN, t.peer.SNResolution, msg.FragPayload, reset)
	if err != nil {
		if msg.FragReliable {
			t.mu.Unlock()
			t.cfg.logger().Errorf("transport: fragment gap on reliable channel, closing")
			t.Close(wire.CloseInvalid)
			return false
		}
		buf.Clear()
		_ = buf.Append(msg.FragSN, t.peer.SNResolution, msg.FragPayload, true)
	}
	var decoded wire.NetworkMessage
	var decodeErr error
	done := !msg.FragMore
	if done {
		decoded, decodeErr = buf.TryDecode()
		buf.Clear()
	}
	t.mu.Unlock()

	if !done {
		return true
	}
	metrics.FragmentsInFlight.WithLabelValues(channelLabel(msg.FragReliable)).Dec()
	if decodeErr != nil {
		t.cfg.logger().Warnf("transport: dropping malformed reassembled message: %v", decodeErr)
		return true
	}
	metrics.FramesReceivedTotal.WithLabelValues(channelLabel(msg.FragReliable)).Inc()
	select {
	case t.incoming <- Delivery{PeerZID: t.peer.RemoteZID, Msg: decoded}:
	case <-t.ctx.Done():
	}
	return true
}

func (t *UnicastTransport) leaseLoop() {
	defer t.wg.Done()
	t.mu.Lock()
	leaseMs := t.peer.LeaseMs
	t.mu.Unlock()
	if leaseMs == 0 {
		leaseMs = DefaultLeaseMs
	}
	interval := time.Duration(float64(leaseMs)/leaseTickFactor) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			sinceSent := time.Since(t.peer.LastSent)
			sinceRecv := time.Since(t.peer.LastReceived)
			lnk := t.peer.Link
			t.mu.Unlock()

			if sinceRecv > time.Duration(leaseMs)*time.Millisecond {
				t.cfg.logger().Warnf("transport: lease expired")
				t.Close(wire.CloseExpired)
				return
			}
			if sinceSent >= interval {
				if err := writeMessage(t.ctx, lnk, wire.TransportMessage{Kind: wire.TMKeepAlive}); err != nil {
					t.cfg.logger().Warnf("transport: keep-alive write failed: %v", err)
				} else {
					t.mu.Lock()
					t.peer.LastSent = time.Now()
					t.mu.Unlock()
				}
			}
		}
	}
}

// Close implements spec.md §4.4's close path: send Close{reason,
// session-wide}, stop the loops, and close the link. Idempotent.
func (t *UnicastTransport) Close(reason wire.CloseReason) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		lnk := t.peer.Link
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), SocketTimeout)
		_ = writeMessage(ctx, lnk, wire.TransportMessage{Kind: wire.TMClose, CloseSessionWide: true, CloseReason: reason})
		cancel()

		t.cancel()
		_ = lnk.Close()
	})
	return nil
}

func (t *UnicastTransport) finalize() {
	t.wg.Wait()
	t.mu.Lock()
	peer := t.peer
	t.mu.Unlock()
	select {
	case t.peerEvents <- PeerEvent{Kind: PeerDown, ZID: peer.RemoteZID, WhatAmI: peer.RemoteWhatAmI}:
	default:
	}
	close(t.peerEvents)
	close(t.incoming)
	close(t.closed)
}
