package wire

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"

// WireKeyExpr is the on-wire representation of a KeyExpr (spec.md §3): a
// literal string, a registered numeric id, or the composition (id, suffix).
// It is always encoded as the VLE id followed by the length-prefixed
// suffix; ResKeyID==0 marks a literal string with no resource-id aliasing.
type WireKeyExpr struct {
	ResKeyID uint64
	Suffix   string
}

// IsLiteral reports whether this key expression is a bare literal string
// with no resource-id aliasing.
func (k WireKeyExpr) IsLiteral() bool {
	return k.ResKeyID == 0
}

func encodeKeyExpr(w *collections.Writer, k WireKeyExpr) error {
	if err := EncodeVLE(w, k.ResKeyID); err != nil {
		return err
	}
	return encodeString(w, k.Suffix)
}

func decodeKeyExpr(r *collections.Reader) (WireKeyExpr, error) {
	id, err := DecodeVLE(r)
	if err != nil {
		return WireKeyExpr{}, err
	}
	suffix, err := decodeString(r)
	if err != nil {
		return WireKeyExpr{}, err
	}
	return WireKeyExpr{ResKeyID: id, Suffix: suffix}, nil
}

func encodeString(w *collections.Writer, s string) error {
	if err := EncodeVLE(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func decodeString(r *collections.Reader) (string, error) {
	n, err := DecodeVLE(r)
	if err != nil {
		return "", err
	}
	b, err := r.ReadN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeBytes(w *collections.Writer, b []byte) error {
	if err := EncodeVLE(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func decodeBytes(r *collections.Reader) ([]byte, error) {
	n, err := DecodeVLE(r)
	if err != nil {
		return nil, err
	}
	return r.ReadN(int(n))
}
