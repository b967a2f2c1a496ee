package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// MaxBatchSize is the upper bound on a single serialized Transport Message
// before fragmentation, and the ceiling for the stream length prefix
// (spec.md §6).
const MaxBatchSize = 65535

// DefaultSNResolution is the sequence-number modulus used when a peer does
// not negotiate one explicitly (spec.md §4.1: "absent SN resolution
// defaults to 2^28 sequence numbers").
const DefaultSNResolution uint64 = 1 << 28

// DefaultSNResolutionMinusOne matches spec.md §6's literal tunable
// ("default SN resolution 2^28 − 1"). The transports advertise
// DefaultSNResolution, not this value, in Init and Join.
const DefaultSNResolutionMinusOne uint64 = (1 << 28) - 1

// EncodeFramed serializes msg and, if framed is true (stream/byte-flow
// links), prepends a little-endian uint16 byte-count prefix. Datagram
// links pass framed=false: one message per datagram, no prefix.
func EncodeFramed(msg TransportMessage, framed bool) ([]byte, error) {
	body := collections.NewWriter(256)
	if err := msg.Encode(body); err != nil {
		return nil, err
	}
	if !framed {
		return body.Bytes(), nil
	}
	n := body.Len()
	if n > MaxBatchSize {
		return nil, NewCodecError(ErrTooLargeBatch, "serialized message exceeds stream length prefix range")
	}
	out := make([]byte, 2+n)
	out[0] = byte(n & 0xff)
	out[1] = byte((n >> 8) & 0xff)
	copy(out[2:], body.Bytes())
	return out, nil
}

// ReadLengthPrefix reads the 2-byte little-endian length prefix from the
// head of buf, returning the declared payload length.
func ReadLengthPrefix(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, NewCodecError(ErrShortBuffer, "length prefix")
	}
	return int(buf[0]) | int(buf[1])<<8, nil
}
