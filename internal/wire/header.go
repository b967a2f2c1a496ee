package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// Header bit layout, bit-exact per spec.md §6: "[ZZZ][MID5]" with mid in
// the low 5 bits and flags in the high 3 bits; the top flag (0x80) signals
// "extensions follow".
const (
	midMask   = 0x1f
	flagsMask = 0xe0

	// FlagZ is the extension-presence bit, shared across every message.
	FlagZ byte = 0x80
	// FlagBit1 is the first message-specific flag bit (0x20): R/I/T/A/S
	// depending on message type per the table in spec.md §6.
	FlagBit1 byte = 0x20
	// FlagBit2 is the second message-specific flag bit (0x40): S/T/A/L.
	FlagBit2 byte = 0x40
)

// TransportMessageID enumerates the transport message ids, bit-exact per
// spec.md §6.
type TransportMessageID byte

const (
	MidScout     TransportMessageID = 0x01
	MidHello     TransportMessageID = 0x02
	MidOAM       TransportMessageID = 0x00
	MidInit      TransportMessageID = 0x01
	MidOpen      TransportMessageID = 0x02
	MidClose     TransportMessageID = 0x03
	MidKeepAlive TransportMessageID = 0x04
	MidFrame     TransportMessageID = 0x05
	MidFragment  TransportMessageID = 0x06
	MidJoin      TransportMessageID = 0x07
)

// NetworkMessageID enumerates the network message ids. spec.md does not fix
// bit-exact values for these (only transport message ids are pinned in
// §6); the values below are grounded on original_source/include/zenoh-pico/
// protocol/msg.h's _Z_MID_DECLARE.._Z_MID_UNIT block. The codec does not
// write them: NetworkMessage.Encode tags each message with its
// NetworkMessageKind byte instead.
type NetworkMessageID byte

const (
	NMidDeclare NetworkMessageID = 0x0b
	NMidData    NetworkMessageID = 0x0c
	NMidQuery   NetworkMessageID = 0x0d
	NMidPull    NetworkMessageID = 0x0e
	NMidUnit    NetworkMessageID = 0x0f
)

// Header is the decoded one-byte message header.
type Header struct {
	Mid   byte
	Flags byte
}

// HasExtensions reports whether the Z bit is set.
func (h Header) HasExtensions() bool {
	return h.Flags&FlagZ != 0
}

// HasFlag reports whether a message-specific flag bit is set.
func (h Header) HasFlag(bit byte) bool {
	return h.Flags&bit != 0
}

// EncodeHeader writes the single header byte for mid with the given set of
// flag bits (a combination of FlagZ, FlagBit1, FlagBit2).
func EncodeHeader(w *collections.Writer, mid byte, flags byte) error {
	return w.WriteByte((flags & flagsMask) | (mid & midMask))
}

// DecodeHeader reads and splits the header byte into mid and flags.
func DecodeHeader(r *collections.Reader) (Header, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	return Header{Mid: b & midMask, Flags: b & flagsMask}, nil
}

// Extension is one entry of the extension list that may follow a header
// with FlagZ set. Each extension carries its own one-byte header with id,
// mandatory bit, payload-presence bit and a Z chaining bit (spec.md §4.1).
type Extension struct {
	ID        byte
	Mandatory bool
	Payload   []byte
}

const (
	extMandatoryBit = 0x40
	extHasPayload   = 0x20
	extChainZ       = 0x80
	extIDMask       = 0x1f
)

// EncodeExtensions writes a length-prefixed extension chain. The caller is
// responsible for ordering; the last extension in exts is written without
// the Z chaining bit.
func EncodeExtensions(w *collections.Writer, exts []Extension) error {
	for i, ext := range exts {
		eh := ext.ID & extIDMask
		if ext.Mandatory {
			eh |= extMandatoryBit
		}
		hasPayload := len(ext.Payload) > 0
		if hasPayload {
			eh |= extHasPayload
		}
		if i < len(exts)-1 {
			eh |= extChainZ
		}
		if err := w.WriteByte(eh); err != nil {
			return err
		}
		if hasPayload {
			if err := EncodeVLE(w, uint64(len(ext.Payload))); err != nil {
				return err
			}
			if _, err := w.Write(ext.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeExtensions reads a chained extension list until the Z chaining bit
// is clear. Unknown non-mandatory extensions are preserved verbatim for the
// caller to skip; unknown mandatory extensions must fail-close, so the
// caller supplies knownIDs to check against.
func DecodeExtensions(r *collections.Reader, knownIDs map[byte]bool) ([]Extension, error) {
	var exts []Extension
	for {
		eh, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ext := Extension{
			ID:        eh & extIDMask,
			Mandatory: eh&extMandatoryBit != 0,
		}
		if eh&extHasPayload != 0 {
			n, err := DecodeVLE(r)
			if err != nil {
				return nil, err
			}
			payload, err := r.ReadN(int(n))
			if err != nil {
				return nil, err
			}
			ext.Payload = payload
		}
		if knownIDs != nil && ext.Mandatory && !knownIDs[ext.ID] {
			return nil, NewCodecError(ErrUnknownMandatoryExtension, "extension id")
		}
		exts = append(exts, ext)
		if eh&extChainZ == 0 {
			return exts, nil
		}
	}
}
