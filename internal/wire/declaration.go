package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// DeclarationKind enumerates the Declaration variants from spec.md §3.
// spec.md does not pin bit-exact ids for individual declarations (only
// transport message ids are pinned in §6); these are an internal encoding
// detail of this codec, kept stable for the encode/decode round-trip
// property in §8.
type DeclarationKind byte

const (
	DeclResource DeclarationKind = iota
	DeclForgetResource
	DeclPublisher
	DeclForgetPublisher
	DeclSubscriber
	DeclForgetSubscriber
	DeclQueryable
	DeclForgetQueryable
)

// SubMode distinguishes push vs pull subscription delivery.
type SubMode byte

const (
	SubModePush SubMode = iota
	SubModePull
)

// Reliability distinguishes the reliable and best-effort channels.
type Reliability byte

const (
	ReliabilityReliable Reliability = iota
	ReliabilityBestEffort
)

// Period optionally bounds a pull subscription's cadence.
type Period struct {
	Origin   uint32
	Period   uint32
	Duration uint32
}

// SubInfo carries a Subscriber declaration's delivery mode, reliability and
// optional period, per spec.md §3.
type SubInfo struct {
	Mode        SubMode
	Reliability Reliability
	HasPeriod   bool
	Period      Period
}

// Declaration is one entry of a Declare Network Message's declaration set.
type Declaration struct {
	Kind DeclarationKind

	// Resource / ForgetResource
	Rid     uint64
	KeyExpr WireKeyExpr

	// Subscriber
	Sub SubInfo

	// Queryable
	Complete bool
	Distance uint32
}

func encodeDeclaration(w *collections.Writer, d Declaration) error {
	if err := w.WriteByte(byte(d.Kind)); err != nil {
		return err
	}
	switch d.Kind {
	case DeclResource:
		if err := EncodeVLE(w, d.Rid); err != nil {
			return err
		}
		return encodeKeyExpr(w, d.KeyExpr)
	case DeclForgetResource:
		return EncodeVLE(w, d.Rid)
	case DeclPublisher, DeclForgetPublisher, DeclForgetSubscriber, DeclForgetQueryable:
		return encodeKeyExpr(w, d.KeyExpr)
	case DeclSubscriber:
		if err := encodeKeyExpr(w, d.KeyExpr); err != nil {
			return err
		}
		flags := byte(d.Sub.Mode) | byte(d.Sub.Reliability)<<1
		if d.Sub.HasPeriod {
			flags |= 0x04
		}
		if err := w.WriteByte(flags); err != nil {
			return err
		}
		if d.Sub.HasPeriod {
			if err := EncodeVLE(w, uint64(d.Sub.Period.Origin)); err != nil {
				return err
			}
			if err := EncodeVLE(w, uint64(d.Sub.Period.Period)); err != nil {
				return err
			}
			if err := EncodeVLE(w, uint64(d.Sub.Period.Duration)); err != nil {
				return err
			}
		}
		return nil
	case DeclQueryable:
		if err := encodeKeyExpr(w, d.KeyExpr); err != nil {
			return err
		}
		flags := byte(0)
		if d.Complete {
			flags |= 0x01
		}
		if err := w.WriteByte(flags); err != nil {
			return err
		}
		return EncodeVLE(w, uint64(d.Distance))
	default:
		return NewCodecError(ErrBadHeader, "unknown declaration kind")
	}
}

func decodeDeclaration(r *collections.Reader) (Declaration, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return Declaration{}, err
	}
	kind := DeclarationKind(kb)
	d := Declaration{Kind: kind}
	switch kind {
	case DeclResource:
		rid, err := DecodeVLE(r)
		if err != nil {
			return Declaration{}, err
		}
		ke, err := decodeKeyExpr(r)
		if err != nil {
			return Declaration{}, err
		}
		d.Rid, d.KeyExpr = rid, ke
	case DeclForgetResource:
		rid, err := DecodeVLE(r)
		if err != nil {
			return Declaration{}, err
		}
		d.Rid = rid
	case DeclPublisher, DeclForgetPublisher, DeclForgetSubscriber, DeclForgetQueryable:
		ke, err := decodeKeyExpr(r)
		if err != nil {
			return Declaration{}, err
		}
		d.KeyExpr = ke
	case DeclSubscriber:
		ke, err := decodeKeyExpr(r)
		if err != nil {
			return Declaration{}, err
		}
		d.KeyExpr = ke
		flags, err := r.ReadByte()
		if err != nil {
			return Declaration{}, err
		}
		d.Sub.Mode = SubMode(flags & 0x01)
		d.Sub.Reliability = Reliability((flags >> 1) & 0x01)
		d.Sub.HasPeriod = flags&0x04 != 0
		if d.Sub.HasPeriod {
			origin, err := DecodeVLE(r)
			if err != nil {
				return Declaration{}, err
			}
			period, err := DecodeVLE(r)
			if err != nil {
				return Declaration{}, err
			}
			duration, err := DecodeVLE(r)
			if err != nil {
				return Declaration{}, err
			}
			d.Sub.Period = Period{Origin: uint32(origin), Period: uint32(period), Duration: uint32(duration)}
		}
	case DeclQueryable:
		ke, err := decodeKeyExpr(r)
		if err != nil {
			return Declaration{}, err
		}
		d.KeyExpr = ke
		flags, err := r.ReadByte()
		if err != nil {
			return Declaration{}, err
		}
		d.Complete = flags&0x01 != 0
		distance, err := DecodeVLE(r)
		if err != nil {
			return Declaration{}, err
		}
		d.Distance = uint32(distance)
	default:
		return Declaration{}, NewCodecError(ErrBadHeader, "unknown declaration kind")
	}
	return d, nil
}
