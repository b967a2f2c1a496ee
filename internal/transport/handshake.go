package transport

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// ErrOpenFailed wraps any handshake-step failure into the spec.md §4.4
// "OpenFailed(reason)" outcome.
var ErrOpenFailed = errors.New("transport: open failed")

// Logger is the narrow logging dependency this package needs, satisfied
// by internal/logging's zap-backed implementation (kept here, rather than
// importing internal/logging directly, to avoid a cycle — the teacher's
// own core package takes types.Logger as a constructor argument the same
// way).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Config carries the locally proposed parameters for opening a transport
// (spec.md §4.4 step 1, §6 default tunables).
type Config struct {
	LocalZID     wire.ZID
	WhatAmI      wire.WhatAmI
	BatchSize    uint32
	SNResolution uint64
	LeaseMs      uint64
	Logger       Logger
}

func (c Config) logger() Logger {
	if c.Logger == nil {
		return nopLogger{}
	}
	return c.Logger
}

// clientHandshake runs the spec.md §4.4 "Open (client role, unicast)"
// algorithm over lnk and returns the negotiated parameters.
func clientHandshake(ctx context.Context, lnk link.Link, cfg Config) (peer *PeerUnicast, err error) {
	hsCtx, cancel := context.WithTimeout(ctx, SocketTimeout)
	defer cancel()

	initSyn := wire.TransportMessage{
		Kind:             wire.TMInitSyn,
		InitVersion:      ProtocolVersion,
		InitWhat:         wire.WhatAmIClient,
		InitZID:          cfg.LocalZID,
		InitHasSize:      true,
		InitBatchSize:    cfg.BatchSize,
		InitSNResolution: cfg.SNResolution,
	}
	if err := writeMessage(hsCtx, lnk, initSyn); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	ack, err := readMessage(hsCtx, lnk, func(r *collections.Reader) (wire.TransportMessage, error) {
		return wire.DecodeHandshakeMessage(r, wire.PhaseInit)
	})
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}
	if ack.Kind != wire.TMInitAck {
		return nil, errors.Wrap(ErrOpenFailed, "expected InitAck")
	}

	batchSize := cfg.BatchSize
	snResolution := cfg.SNResolution
	if ack.InitHasSize {
		batchSize = ack.InitBatchSize
		snResolution = ack.InitSNResolution
	}
	if snResolution == 0 {
		snResolution = wire.DefaultSNResolution
	}

	openSyn := wire.TransportMessage{
		Kind:          wire.TMOpenSyn,
		OpenLeaseMs:   cfg.LeaseMs,
		OpenInitialSN: 0,
		OpenCookie:    ack.InitCookie,
	}
	if err := writeMessage(hsCtx, lnk, openSyn); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	openAck, err := readMessage(hsCtx, lnk, func(r *collections.Reader) (wire.TransportMessage, error) {
		return wire.DecodeHandshakeMessage(r, wire.PhaseOpen)
	})
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}
	if openAck.Kind != wire.TMOpenAck {
		return nil, errors.Wrap(ErrOpenFailed, "expected OpenAck")
	}

	return &PeerUnicast{
		RemoteZID:     ack.InitZID,
		RemoteWhatAmI: wire.WhatAmIRouter,
		Link:          lnk,
		LeaseMs:       openAck.OpenLeaseMs,
		BatchSize:     int(batchSize),
		SNResolution:  snResolution,
		SNReliable:    NewSNCounter(snResolution, 0),
		SNBestEffort:  NewSNCounter(snResolution, 0),
		ExpReliable:   NewExpectedTracker(snResolution),
		ExpBestEffort: NewExpectedTracker(snResolution),
	}, nil
}

// acceptHandshake runs the responder side of spec.md §4.4's handshake: it
// answers a peer's InitSyn/OpenSyn with InitAck/OpenAck under the local
// Config. Used by the router/peer-accepting side (and by tests pairing
// two in-memory links without a real listener).
func acceptHandshake(ctx context.Context, lnk link.Link, cfg Config) (peer *PeerUnicast, err error) {
	hsCtx, cancel := context.WithTimeout(ctx, SocketTimeout)
	defer cancel()

	syn, err := readMessage(hsCtx, lnk, func(r *collections.Reader) (wire.TransportMessage, error) {
		return wire.DecodeHandshakeMessage(r, wire.PhaseInit)
	})
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}
	if syn.Kind != wire.TMInitSyn {
		return nil, errors.Wrap(ErrOpenFailed, "expected InitSyn")
	}

	snResolution := cfg.SNResolution
	if snResolution == 0 {
		snResolution = wire.DefaultSNResolution
	}
	cookie := append([]byte(nil), cfg.LocalZID[:]...)
	initAck := wire.TransportMessage{
		Kind:             wire.TMInitAck,
		InitVersion:      ProtocolVersion,
		InitWhat:         cfg.WhatAmI,
		InitZID:          cfg.LocalZID,
		InitHasSize:      true,
		InitBatchSize:    cfg.BatchSize,
		InitSNResolution: snResolution,
		InitCookie:       cookie,
	}
	if err := writeMessage(hsCtx, lnk, initAck); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	openSyn, err := readMessage(hsCtx, lnk, func(r *collections.Reader) (wire.TransportMessage, error) {
		return wire.DecodeHandshakeMessage(r, wire.PhaseOpen)
	})
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}
	if openSyn.Kind != wire.TMOpenSyn {
		return nil, errors.Wrap(ErrOpenFailed, "expected OpenSyn")
	}

	openAck := wire.TransportMessage{
		Kind:          wire.TMOpenAck,
		OpenLeaseMs:   cfg.LeaseMs,
		OpenInitialSN: 0,
	}
	if err := writeMessage(hsCtx, lnk, openAck); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	return &PeerUnicast{
		RemoteZID:     syn.InitZID,
		RemoteWhatAmI: syn.InitWhat,
		Link:          lnk,
		LeaseMs:       openSyn.OpenLeaseMs,
		BatchSize:     int(cfg.BatchSize),
		SNResolution:  snResolution,
		SNReliable:    NewSNCounter(snResolution, 0),
		SNBestEffort:  NewSNCounter(snResolution, 0),
		ExpReliable:   NewExpectedTracker(snResolution),
		ExpBestEffort: NewExpectedTracker(snResolution),
	}, nil
}
