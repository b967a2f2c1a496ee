package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// WhatAmI is the role descriptor from the GLOSSARY.
type WhatAmI byte

const (
	WhatAmIRouter WhatAmI = iota
	WhatAmIPeer
	WhatAmIClient
)

// CloseReason enumerates the close reasons, bit-exact per spec.md §6.
type CloseReason byte

const (
	CloseGeneric       CloseReason = 0
	CloseUnsupported   CloseReason = 1
	CloseInvalid       CloseReason = 2
	CloseMaxTransports CloseReason = 3
	CloseMaxLinks      CloseReason = 4
	CloseExpired       CloseReason = 5
)

// ZID is the 16-byte Zenoh identifier.
type ZID [16]byte

// TransportMessageKind discriminates the TransportMessage tagged variant.
type TransportMessageKind byte

const (
	TMScout TransportMessageKind = iota
	TMHello
	TMJoin
	TMInitSyn
	TMInitAck
	TMOpenSyn
	TMOpenAck
	TMClose
	TMKeepAlive
	TMFrame
	TMFragment
	TMOAM
)

// ConduitSN carries per-conduit initial sequence numbers exchanged in Join,
// supporting the optional 8-priority conduit shape mentioned in spec.md
// §1 Non-goals (the core itself does not implement priority queues, but
// the wire shape is still parsed/produced so a peer advertising QoS
// conduits round-trips cleanly).
type ConduitSN struct {
	Reliable   uint64
	BestEffort uint64
}

// TransportMessage is the tagged variant over the transport-message set
// from spec.md §3.
type TransportMessage struct {
	Kind TransportMessageKind

	// Scout
	ScoutHasZID bool
	ScoutZID    ZID
	ScoutWhat   WhatAmI

	// Hello
	HelloZID      ZID
	HelloWhat     WhatAmI
	HelloLocators []string

	// Join
	JoinWhat           WhatAmI
	JoinZID            ZID
	JoinLeaseMs        uint64
	JoinLeaseInSeconds bool
	JoinHasSize        bool
	JoinBatchSize      uint32
	JoinSNResolution   uint64
	JoinConduits       []ConduitSN

	// Init
	InitVersion         byte
	InitWhat            WhatAmI
	InitZID             ZID
	InitHasSize         bool
	InitBatchSize       uint32
	InitSNResolution    uint64
	InitCookie          []byte

	// Open
	OpenLeaseMs        uint64
	OpenLeaseInSeconds bool
	OpenInitialSN      uint64
	OpenCookie         []byte

	// Close
	CloseSessionWide bool
	CloseReason      CloseReason

	// Frame
	FrameSN       uint64
	FrameReliable bool
	FrameMessages []NetworkMessage

	// Fragment
	FragSN       uint64
	FragReliable bool
	FragMore     bool
	FragPayload  []byte

	// OAM: recognized-but-unimplemented, decodes into a raw extension
	// envelope and is ignored by the session (SPEC_FULL.md §4).
	OAMExtensions []Extension
}

// Encode writes the full wire form of m: header byte, message-specific
// fields, then any extensions.
func (m TransportMessage) Encode(w *collections.Writer) error {
	switch m.Kind {
	case TMScout:
		flags := byte(0)
		if m.ScoutHasZID {
			flags |= FlagBit1
		}
		if err := EncodeHeader(w, byte(MidScout), flags); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.ScoutWhat)); err != nil {
			return err
		}
		if m.ScoutHasZID {
			if _, err := w.Write(m.ScoutZID[:]); err != nil {
				return err
			}
		}
	case TMHello:
		flags := byte(0)
		if len(m.HelloLocators) > 0 {
			flags |= FlagBit1
		}
		if err := EncodeHeader(w, byte(MidHello), flags); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.HelloWhat)); err != nil {
			return err
		}
		if _, err := w.Write(m.HelloZID[:]); err != nil {
			return err
		}
		if len(m.HelloLocators) > 0 {
			if err := EncodeVLE(w, uint64(len(m.HelloLocators))); err != nil {
				return err
			}
			for _, loc := range m.HelloLocators {
				if err := encodeString(w, loc); err != nil {
					return err
				}
			}
		}
	case TMJoin:
		flags := byte(0)
		if m.JoinLeaseInSeconds {
			flags |= FlagBit1
		}
		if m.JoinHasSize {
			flags |= FlagBit2
		}
		if err := EncodeHeader(w, byte(MidJoin), flags); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.JoinWhat)); err != nil {
			return err
		}
		if _, err := w.Write(m.JoinZID[:]); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.JoinLeaseMs); err != nil {
			return err
		}
		if m.JoinHasSize {
			if err := EncodeVLE(w, uint64(m.JoinBatchSize)); err != nil {
				return err
			}
			if err := EncodeVLE(w, m.JoinSNResolution); err != nil {
				return err
			}
		}
		if err := EncodeVLE(w, uint64(len(m.JoinConduits))); err != nil {
			return err
		}
		for _, c := range m.JoinConduits {
			if err := EncodeVLE(w, c.Reliable); err != nil {
				return err
			}
			if err := EncodeVLE(w, c.BestEffort); err != nil {
				return err
			}
		}
	case TMInitSyn, TMInitAck:
		flags := byte(0)
		if m.Kind == TMInitAck {
			flags |= FlagBit1
		}
		if m.InitHasSize {
			flags |= FlagBit2
		}
		if err := EncodeHeader(w, byte(MidInit), flags); err != nil {
			return err
		}
		if err := w.WriteByte(m.InitVersion); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.InitWhat)); err != nil {
			return err
		}
		if _, err := w.Write(m.InitZID[:]); err != nil {
			return err
		}
		if m.InitHasSize {
			if err := EncodeVLE(w, uint64(m.InitBatchSize)); err != nil {
				return err
			}
			if err := EncodeVLE(w, m.InitSNResolution); err != nil {
				return err
			}
		}
		if m.Kind == TMInitAck {
			return encodeBytes(w, m.InitCookie)
		}
	case TMOpenSyn, TMOpenAck:
		flags := byte(0)
		if m.Kind == TMOpenAck {
			flags |= FlagBit1
		}
		if m.OpenLeaseInSeconds {
			flags |= FlagBit2
		}
		if err := EncodeHeader(w, byte(MidOpen), flags); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.OpenLeaseMs); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.OpenInitialSN); err != nil {
			return err
		}
		if m.Kind == TMOpenSyn {
			return encodeBytes(w, m.OpenCookie)
		}
	case TMClose:
		flags := byte(0)
		if m.CloseSessionWide {
			flags |= FlagBit1
		}
		if err := EncodeHeader(w, byte(MidClose), flags); err != nil {
			return err
		}
		return w.WriteByte(byte(m.CloseReason))
	case TMKeepAlive:
		return EncodeHeader(w, byte(MidKeepAlive), 0)
	case TMFrame:
		flags := byte(0)
		if m.FrameReliable {
			flags |= FlagBit1
		}
		if err := EncodeHeader(w, byte(MidFrame), flags); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.FrameSN); err != nil {
			return err
		}
		if err := EncodeVLE(w, uint64(len(m.FrameMessages))); err != nil {
			return err
		}
		for _, nm := range m.FrameMessages {
			if err := nm.Encode(w); err != nil {
				return err
			}
		}
	case TMFragment:
		flags := byte(0)
		if m.FragReliable {
			flags |= FlagBit1
		}
		if m.FragMore {
			flags |= FlagBit2
		}
		if err := EncodeHeader(w, byte(MidFragment), flags); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.FragSN); err != nil {
			return err
		}
		return encodeBytes(w, m.FragPayload)
	case TMOAM:
		if err := EncodeHeader(w, byte(MidOAM), FlagZ); err != nil {
			return err
		}
		return EncodeExtensions(w, m.OAMExtensions)
	default:
		return NewCodecError(ErrBadHeader, "unknown transport message kind")
	}
	return nil
}

// DecodeTransportMessage reads a single TransportMessage from r, dispatching
// on the header's mid. Because Init/Open/Close/OAM share a mid space with
// their transport-scoped meaning (spec.md §6: "Init=0x01 (transport-scoped)"
// overlapping Scout's 0x01), the caller selects which mid table applies by
// calling DecodeTransportMessage only on the transport-scoped stream (i.e.
// after the handshake has started) or DecodeHandshakeMessage beforehand;
// see transport package for the call sites.
func DecodeTransportMessage(r *collections.Reader) (TransportMessage, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return TransportMessage{}, err
	}
	switch TransportMessageID(h.Mid) {
	case MidJoin:
		return decodeJoin(r, h)
	case MidClose:
		return decodeClose(r, h)
	case MidKeepAlive:
		return TransportMessage{Kind: TMKeepAlive}, nil
	case MidFrame:
		return decodeFrame(r, h)
	case MidFragment:
		return decodeFragment(r, h)
	case MidOAM:
		m := TransportMessage{Kind: TMOAM}
		if h.HasExtensions() {
			exts, err := DecodeExtensions(r, nil)
			if err != nil {
				return m, err
			}
			m.OAMExtensions = exts
		}
		return m, nil
	default:
		return TransportMessage{}, NewCodecError(ErrBadHeader, "unexpected mid on data-plane stream")
	}
}

// DecodeHandshakeMessage decodes the subset of messages legal during
// scouting/open (Scout, Hello, Init, Open), where mid 0x00/0x01/0x02
// overlap OAM/Init/Open depending on handshake phase; the caller passes
// which phase it expects.
type HandshakePhase int

const (
	PhaseScout HandshakePhase = iota
	PhaseInit
	PhaseOpen
)

// DecodeHandshakeMessage decodes one message appropriate to phase.
func DecodeHandshakeMessage(r *collections.Reader, phase HandshakePhase) (TransportMessage, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return TransportMessage{}, err
	}
	switch phase {
	case PhaseScout:
		switch TransportMessageID(h.Mid) {
		case MidScout:
			return decodeScout(r, h)
		case MidHello:
			return decodeHello(r, h)
		}
	case PhaseInit:
		if TransportMessageID(h.Mid) == MidInit {
			return decodeInit(r, h)
		}
	case PhaseOpen:
		if TransportMessageID(h.Mid) == MidOpen {
			return decodeOpen(r, h)
		}
	}
	return TransportMessage{}, NewCodecError(ErrBadHeader, "unexpected mid for handshake phase")
}

func decodeScout(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMScout, ScoutHasZID: h.HasFlag(FlagBit1)}
	wb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.ScoutWhat = WhatAmI(wb)
	if m.ScoutHasZID {
		zid, err := r.ReadN(16)
		if err != nil {
			return m, err
		}
		copy(m.ScoutZID[:], zid)
	}
	return m, nil
}

func decodeHello(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMHello}
	wb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.HelloWhat = WhatAmI(wb)
	zid, err := r.ReadN(16)
	if err != nil {
		return m, err
	}
	copy(m.HelloZID[:], zid)
	if h.HasFlag(FlagBit1) {
		n, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		for i := uint64(0); i < n; i++ {
			loc, err := decodeString(r)
			if err != nil {
				return m, err
			}
			m.HelloLocators = append(m.HelloLocators, loc)
		}
	}
	return m, nil
}

func decodeJoin(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMJoin, JoinLeaseInSeconds: h.HasFlag(FlagBit1), JoinHasSize: h.HasFlag(FlagBit2)}
	wb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.JoinWhat = WhatAmI(wb)
	zid, err := r.ReadN(16)
	if err != nil {
		return m, err
	}
	copy(m.JoinZID[:], zid)
	lease, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	m.JoinLeaseMs = lease
	if m.JoinHasSize {
		bs, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.JoinBatchSize = uint32(bs)
		sr, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.JoinSNResolution = sr
	}
	n, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	for i := uint64(0); i < n; i++ {
		rel, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		be, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.JoinConduits = append(m.JoinConduits, ConduitSN{Reliable: rel, BestEffort: be})
	}
	return m, nil
}

func decodeInit(r *collections.Reader, h Header) (TransportMessage, error) {
	kind := TMInitSyn
	if h.HasFlag(FlagBit1) {
		kind = TMInitAck
	}
	m := TransportMessage{Kind: kind, InitHasSize: h.HasFlag(FlagBit2)}
	ver, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.InitVersion = ver
	wb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.InitWhat = WhatAmI(wb)
	zid, err := r.ReadN(16)
	if err != nil {
		return m, err
	}
	copy(m.InitZID[:], zid)
	if m.InitHasSize {
		bs, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.InitBatchSize = uint32(bs)
		sr, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.InitSNResolution = sr
	}
	if kind == TMInitAck {
		cookie, err := decodeBytes(r)
		if err != nil {
			return m, err
		}
		m.InitCookie = cookie
	}
	return m, nil
}

func decodeOpen(r *collections.Reader, h Header) (TransportMessage, error) {
	kind := TMOpenSyn
	if h.HasFlag(FlagBit1) {
		kind = TMOpenAck
	}
	m := TransportMessage{Kind: kind, OpenLeaseInSeconds: h.HasFlag(FlagBit2)}
	lease, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	m.OpenLeaseMs = lease
	sn, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	m.OpenInitialSN = sn
	if kind == TMOpenSyn {
		cookie, err := decodeBytes(r)
		if err != nil {
			return m, err
		}
		m.OpenCookie = cookie
	}
	return m, nil
}

func decodeClose(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMClose, CloseSessionWide: h.HasFlag(FlagBit1)}
	rb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.CloseReason = CloseReason(rb)
	return m, nil
}

func decodeFrame(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMFrame, FrameReliable: h.HasFlag(FlagBit1)}
	sn, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	m.FrameSN = sn
	n, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	for i := uint64(0); i < n; i++ {
		nm, err := DecodeNetworkMessage(r)
		if err != nil {
			return m, err
		}
		m.FrameMessages = append(m.FrameMessages, nm)
	}
	return m, nil
}

func decodeFragment(r *collections.Reader, h Header) (TransportMessage, error) {
	m := TransportMessage{Kind: TMFragment, FragReliable: h.HasFlag(FlagBit1), FragMore: h.HasFlag(FlagBit2)}
	sn, err := DecodeVLE(r)
	if err != nil {
		return m, err
	}
	m.FragSN = sn
	payload, err := decodeBytes(r)
	if err != nil {
		return m, err
	}
	m.FragPayload = payload
	return m, nil
}
