package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// maxVleContinuationBytes bounds VLE decoding: a decoder rejects more than
// 10 continuation bytes (spec.md §4.1), enough to cover a full uint64 plus
// one byte of slack the way the original zenoh-pico encoder does.
const maxVleContinuationBytes = 10

// EncodeVLE appends an unsigned integer of up to 64 bits to w using 7 bits
// per byte with the high bit as a continuation marker.
func EncodeVLE(w *collections.Writer, v uint64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// DecodeVLE reads an unsigned integer encoded by EncodeVLE, rejecting
// sequences with more than maxVleContinuationBytes continuation bytes.
func DecodeVLE(r *collections.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i <= maxVleContinuationBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, NewCodecError(ErrBadVle, "too many continuation bytes")
}

// VLELen reports how many bytes EncodeVLE would write for v, used to size
// fragments and batches without materializing the encoding.
func VLELen(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
