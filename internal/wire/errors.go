package wire

import "github.com/cockroachdb/errors"

// CodecError enumerates the stable decode/encode failure taxonomy from
// spec.md §4.1/§7. On the transport's read path any decode failure, in
// the Transport Message header or in a Frame body, closes the transport;
// only a reassembled fragmented Network Message that fails to decode is
// dropped and logged instead — see internal/transport.
type CodecError struct {
	Kind CodecErrorKind
	msg  string
}

// CodecErrorKind is the closed set of codec failure reasons.
type CodecErrorKind int

const (
	// ErrShortBuffer is returned when decoding runs past the end of the
	// available bytes.
	ErrShortBuffer CodecErrorKind = iota
	// ErrBadHeader is returned for an unrecognized or malformed message id.
	ErrBadHeader
	// ErrBadVle is returned when a VLE integer exceeds the 10-continuation-
	// byte limit.
	ErrBadVle
	// ErrBadFlag is returned for a flag combination the message type does
	// not allow.
	ErrBadFlag
	// ErrUnknownMandatoryExtension is returned when a mandatory extension's
	// id is not recognized by the decoder.
	ErrUnknownMandatoryExtension
	// ErrBadKeyexpr is returned when a keyexpr read off the wire is not in
	// canonical form where canonicalization is required.
	ErrBadKeyexpr
	// ErrTooLargeBatch is returned when a serialized message would exceed
	// the negotiated or maximum batch size.
	ErrTooLargeBatch
)

func (k CodecErrorKind) String() string {
	switch k {
	case ErrShortBuffer:
		return "short_buffer"
	case ErrBadHeader:
		return "bad_header"
	case ErrBadVle:
		return "bad_vle"
	case ErrBadFlag:
		return "bad_flag"
	case ErrUnknownMandatoryExtension:
		return "unknown_mandatory_extension"
	case ErrBadKeyexpr:
		return "bad_keyexpr"
	case ErrTooLargeBatch:
		return "too_large_batch"
	default:
		return "unknown_codec_error"
	}
}

func (e *CodecError) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.msg
}

// NewCodecError builds a CodecError of the given kind, annotated with ctx
// for diagnostics (decode sites are expected to wrap with the local
// condition, e.g. "frame sn=%d").
func NewCodecError(kind CodecErrorKind, ctx string) error {
	return errors.WithStack(&CodecError{Kind: kind, msg: ctx})
}

// AsCodecError unwraps err into a *CodecError if it is (or wraps) one.
func AsCodecError(err error) (*CodecError, bool) {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
