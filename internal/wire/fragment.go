package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// fragmentHeaderOverhead is a conservative estimate of the bytes a
// Fragment's own header+sn+length-prefix consumes, used to size the raw
// slice per fragment (spec.md §4.4: "Fragments of size up to
// batch_size − fragment_header_size").
const fragmentHeaderOverhead = 16

// SplitIntoFragments serializes msg and, if it does not fit batchSize,
// splits it into a sequence of Fragment transport messages. sn is the
// first fragment's sequence number on the given channel; each subsequent
// fragment increments sn by one modulo snResolution, and the returned sn
// is the one after the last fragment. The final fragment has More=false.
// When the message fits, SplitIntoFragments returns nil fragments and the
// caller sends the message in a single-message Frame.
func SplitIntoFragments(msg NetworkMessage, batchSize int, snResolution uint64, reliable bool, sn uint64) ([]TransportMessage, uint64, error) {
	body := collections.NewWriter(256)
	if err := msg.Encode(body); err != nil {
		return nil, sn, err
	}
	serialized := body.Bytes()

	if len(serialized) <= batchSize {
		return nil, sn, nil // caller should use a plain Frame instead
	}

	chunk := batchSize - fragmentHeaderOverhead
	if chunk <= 0 {
		return nil, sn, NewCodecError(ErrTooLargeBatch, "batch size too small to fragment")
	}

	var frags []TransportMessage
	cur := sn
	for offset := 0; offset < len(serialized); offset += chunk {
		end := offset + chunk
		if end > len(serialized) {
			end = len(serialized)
		}
		frags = append(frags, TransportMessage{
			Kind:         TMFragment,
			FragSN:       cur,
			FragReliable: reliable,
			FragMore:     end < len(serialized),
			FragPayload:  serialized[offset:end],
		})
		cur = (cur + 1) % snResolution
	}
	return frags, cur, nil
}

// DefragBuffer accumulates Fragment payloads for one channel (reliable or
// best-effort) of one peer. At any time it holds the prefix of at most one
// in-progress fragmented Network Message (spec.md §3 Transport invariant).
type DefragBuffer struct {
	buf       []byte
	lastSN    uint64
	hasLastSN bool
}

// Append adds a fragment's payload, verifying sn continuity. It reports
// ErrGap if sn is not exactly one more than the previously appended
// fragment's sn (only meaningful once a first fragment has been seen).
var ErrGap = NewCodecError(ErrBadHeader, "fragment sequence gap")

// Append appends payload to the buffer. snResolution bounds the modular sn
// arithmetic; reset controls whether this is understood as the first
// fragment of a new message (reset=true skips the continuity check).
func (d *DefragBuffer) Append(sn uint64, snResolution uint64, payload []byte, reset bool) error {
	if !reset && d.hasLastSN {
		expected := (d.lastSN + 1) % snResolution
		if sn != expected {
			return ErrGap
		}
	}
	if reset {
		d.buf = d.buf[:0]
	}
	d.buf = append(d.buf, payload...)
	d.lastSN = sn
	d.hasLastSN = true
	return nil
}

// Clear drains the buffer, discarding any partially accumulated message.
func (d *DefragBuffer) Clear() {
	d.buf = d.buf[:0]
	d.hasLastSN = false
}

// TryDecode attempts to decode a whole NetworkMessage from the accumulated
// bytes. Callers invoke this only once a fragment with More=false arrives.
func (d *DefragBuffer) TryDecode() (NetworkMessage, error) {
	r := collections.NewReader(d.buf)
	msg, err := DecodeNetworkMessage(r)
	if err != nil {
		return NetworkMessage{}, err
	}
	return msg, nil
}

// Len reports the number of bytes currently buffered.
func (d *DefragBuffer) Len() int {
	return len(d.buf)
}
