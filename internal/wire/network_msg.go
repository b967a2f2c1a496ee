package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// SampleKind distinguishes PUT and DELETE samples (spec.md §3).
type SampleKind byte

const (
	KindPut SampleKind = iota
	KindDelete
)

// QueryTarget enumerates the Query targeting modes.
type QueryTarget byte

const (
	TargetBestMatching QueryTarget = iota
	TargetAll
	TargetAllComplete
)

// Consolidation enumerates the Query consolidation modes.
type Consolidation byte

const (
	ConsolidationNone Consolidation = iota
	ConsolidationMonotonic
	ConsolidationLatest
	ConsolidationAuto
)

// SourceInfo is the optional sequencing metadata attached to samples by
// advanced publishers for miss detection (spec.md §3 "Source Info").
type SourceInfo struct {
	Present      bool
	EntityZID    [16]byte
	EntityEID    uint32
	SequenceNum  uint64
}

// DataInfo carries a sample's encoding, kind, optional timestamp and
// optional source info.
type DataInfo struct {
	Encoding     string
	Kind         SampleKind
	HasTimestamp bool
	Timestamp    uint64 // NTP64-style monotonic counter; unit is opaque to the codec
	Source       SourceInfo
}

const (
	dataFlagTimestamp = 0x01
	dataFlagSource    = 0x02
	dataFlagDroppable = 0x04
)

func encodeDataInfo(w *collections.Writer, info DataInfo) error {
	if err := encodeString(w, info.Encoding); err != nil {
		return err
	}
	if err := w.WriteByte(byte(info.Kind)); err != nil {
		return err
	}
	flags := byte(0)
	if info.HasTimestamp {
		flags |= dataFlagTimestamp
	}
	if info.Source.Present {
		flags |= dataFlagSource
	}
	if err := w.WriteByte(flags); err != nil {
		return err
	}
	if info.HasTimestamp {
		if err := EncodeVLE(w, info.Timestamp); err != nil {
			return err
		}
	}
	if info.Source.Present {
		if _, err := w.Write(info.Source.EntityZID[:]); err != nil {
			return err
		}
		if err := EncodeVLE(w, uint64(info.Source.EntityEID)); err != nil {
			return err
		}
		if err := EncodeVLE(w, info.Source.SequenceNum); err != nil {
			return err
		}
	}
	return nil
}

func decodeDataInfo(r *collections.Reader) (DataInfo, error) {
	var info DataInfo
	enc, err := decodeString(r)
	if err != nil {
		return info, err
	}
	info.Encoding = enc
	kb, err := r.ReadByte()
	if err != nil {
		return info, err
	}
	info.Kind = SampleKind(kb)
	flags, err := r.ReadByte()
	if err != nil {
		return info, err
	}
	info.HasTimestamp = flags&dataFlagTimestamp != 0
	info.Source.Present = flags&dataFlagSource != 0
	if info.HasTimestamp {
		ts, err := DecodeVLE(r)
		if err != nil {
			return info, err
		}
		info.Timestamp = ts
	}
	if info.Source.Present {
		zid, err := r.ReadN(16)
		if err != nil {
			return info, err
		}
		copy(info.Source.EntityZID[:], zid)
		eid, err := DecodeVLE(r)
		if err != nil {
			return info, err
		}
		info.Source.EntityEID = uint32(eid)
		sn, err := DecodeVLE(r)
		if err != nil {
			return info, err
		}
		info.Source.SequenceNum = sn
	}
	return info, nil
}

// NetworkMessageKind discriminates the NetworkMessage tagged variant
// (spec.md §3 "Network Message").
type NetworkMessageKind byte

const (
	NMDeclare NetworkMessageKind = iota
	NMData
	NMUnit
	NMPull
	NMQuery
	NMReply
)

// ReplyContext decorates a Data or Unit body to identify it as a reply to a
// previously issued Query (spec.md §3).
type ReplyContext struct {
	Qid       uint64
	ReplierID [16]byte
	Final     bool
}

// NetworkMessage is the tagged variant transported inside a Frame.
type NetworkMessage struct {
	Kind NetworkMessageKind

	// Declare
	Declarations []Declaration

	// Data / Unit / Reply-wrapped-Data-or-Unit
	KeyExpr   WireKeyExpr
	DataInfo  DataInfo
	Payload   []byte
	Droppable bool
	IsUnit    bool // when Kind==NMReply, distinguishes a Unit body from a Data body

	// Pull
	PullID     uint64
	MaxSamples uint64
	HasMax     bool
	Final      bool

	// Query
	Parameters    string
	Qid           uint64
	Target        QueryTarget
	Consolidation Consolidation
	HasPayload    bool

	// Reply
	Reply ReplyContext
}

// Encode serializes m as a one-byte NetworkMessageKind tag followed by the
// kind's fields. It writes no header byte of its own: a Network Message
// only ever appears inside a Frame or Fragment envelope (transport_msg.go)
// per spec.md §3.
func (m NetworkMessage) Encode(w *collections.Writer) error {
	if err := w.WriteByte(byte(m.Kind)); err != nil {
		return err
	}
	switch m.Kind {
	case NMDeclare:
		if err := EncodeVLE(w, uint64(len(m.Declarations))); err != nil {
			return err
		}
		for _, d := range m.Declarations {
			if err := encodeDeclaration(w, d); err != nil {
				return err
			}
		}
	case NMData:
		if err := encodeKeyExpr(w, m.KeyExpr); err != nil {
			return err
		}
		if err := encodeDataInfo(w, m.DataInfo); err != nil {
			return err
		}
		if err := encodeBytes(w, m.Payload); err != nil {
			return err
		}
		return w.WriteByte(boolByte(m.Droppable))
	case NMUnit:
		return w.WriteByte(boolByte(m.Droppable))
	case NMPull:
		if err := encodeKeyExpr(w, m.KeyExpr); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.PullID); err != nil {
			return err
		}
		if err := w.WriteByte(boolByte(m.HasMax)); err != nil {
			return err
		}
		if m.HasMax {
			if err := EncodeVLE(w, m.MaxSamples); err != nil {
				return err
			}
		}
		return w.WriteByte(boolByte(m.Final))
	case NMQuery:
		if err := encodeKeyExpr(w, m.KeyExpr); err != nil {
			return err
		}
		if err := encodeString(w, m.Parameters); err != nil {
			return err
		}
		if err := EncodeVLE(w, m.Qid); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.Target)); err != nil {
			return err
		}
		if err := w.WriteByte(byte(m.Consolidation)); err != nil {
			return err
		}
		if err := w.WriteByte(boolByte(m.HasPayload)); err != nil {
			return err
		}
		if m.HasPayload {
			return encodeBytes(w, m.Payload)
		}
		return nil
	case NMReply:
		if err := EncodeVLE(w, m.Reply.Qid); err != nil {
			return err
		}
		if _, err := w.Write(m.Reply.ReplierID[:]); err != nil {
			return err
		}
		if err := w.WriteByte(boolByte(m.Reply.Final)); err != nil {
			return err
		}
		if err := w.WriteByte(boolByte(m.IsUnit)); err != nil {
			return err
		}
		if m.IsUnit {
			return w.WriteByte(boolByte(m.Droppable))
		}
		if err := encodeKeyExpr(w, m.KeyExpr); err != nil {
			return err
		}
		if err := encodeDataInfo(w, m.DataInfo); err != nil {
			return err
		}
		if err := encodeBytes(w, m.Payload); err != nil {
			return err
		}
		return w.WriteByte(boolByte(m.Droppable))
	default:
		return NewCodecError(ErrBadHeader, "unknown network message kind")
	}
	return nil
}

// DecodeNetworkMessage reads one NetworkMessage from r.
func DecodeNetworkMessage(r *collections.Reader) (NetworkMessage, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return NetworkMessage{}, err
	}
	m := NetworkMessage{Kind: NetworkMessageKind(kb)}
	switch m.Kind {
	case NMDeclare:
		n, err := DecodeVLE(r)
		if err != nil {
			return m, err
		}
		m.Declarations = make([]Declaration, 0, n)
		for i := uint64(0); i < n; i++ {
			d, err := decodeDeclaration(r)
			if err != nil {
				return m, err
			}
			m.Declarations = append(m.Declarations, d)
		}
	case NMData:
		if m.KeyExpr, err = decodeKeyExpr(r); err != nil {
			return m, err
		}
		if m.DataInfo, err = decodeDataInfo(r); err != nil {
			return m, err
		}
		if m.Payload, err = decodeBytes(r); err != nil {
			return m, err
		}
		d, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Droppable = d != 0
	case NMUnit:
		d, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Droppable = d != 0
	case NMPull:
		if m.KeyExpr, err = decodeKeyExpr(r); err != nil {
			return m, err
		}
		if m.PullID, err = DecodeVLE(r); err != nil {
			return m, err
		}
		hm, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.HasMax = hm != 0
		if m.HasMax {
			if m.MaxSamples, err = DecodeVLE(r); err != nil {
				return m, err
			}
		}
		f, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Final = f != 0
	case NMQuery:
		if m.KeyExpr, err = decodeKeyExpr(r); err != nil {
			return m, err
		}
		if m.Parameters, err = decodeString(r); err != nil {
			return m, err
		}
		if m.Qid, err = DecodeVLE(r); err != nil {
			return m, err
		}
		tb, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Target = QueryTarget(tb)
		cb, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Consolidation = Consolidation(cb)
		hp, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.HasPayload = hp != 0
		if m.HasPayload {
			if m.Payload, err = decodeBytes(r); err != nil {
				return m, err
			}
		}
	case NMReply:
		if m.Reply.Qid, err = DecodeVLE(r); err != nil {
			return m, err
		}
		rid, err := r.ReadN(16)
		if err != nil {
			return m, err
		}
		copy(m.Reply.ReplierID[:], rid)
		fb, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Reply.Final = fb != 0
		ub, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.IsUnit = ub != 0
		if m.IsUnit {
			d, err := r.ReadByte()
			if err != nil {
				return m, err
			}
			m.Droppable = d != 0
			return m, nil
		}
		if m.KeyExpr, err = decodeKeyExpr(r); err != nil {
			return m, err
		}
		if m.DataInfo, err = decodeDataInfo(r); err != nil {
			return m, err
		}
		if m.Payload, err = decodeBytes(r); err != nil {
			return m, err
		}
		d, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Droppable = d != 0
	default:
		return m, NewCodecError(ErrBadHeader, "unknown network message kind")
	}
	return m, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
