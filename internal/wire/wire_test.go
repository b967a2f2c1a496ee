package wire

import (
	"bytes"
	"testing"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/stretchr/testify/require"
)

func roundTripTransport(t *testing.T, m TransportMessage) TransportMessage {
	t.Helper()
	w := collections.NewWriter(64)
	require.NoError(t, m.Encode(w))
	r := collections.NewReader(w.Bytes())
	got, err := DecodeTransportMessage(r)
	require.NoError(t, err)
	require.Equal(t, 0, r.Remaining(), "decoder should consume the whole encoding")
	return got
}

func TestVLE_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		w := collections.NewWriter(16)
		require.NoError(t, EncodeVLE(w, v))
		require.Equal(t, VLELen(v), w.Len())
		r := collections.NewReader(w.Bytes())
		got, err := DecodeVLE(r)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestVLE_RejectsTooManyContinuationBytes(t *testing.T) {
	buf := bytes.Repeat([]byte{0x80}, 11)
	r := collections.NewReader(buf)
	_, err := DecodeVLE(r)
	require.Error(t, err)
	ce, ok := AsCodecError(err)
	require.True(t, ok)
	require.Equal(t, ErrBadVle, ce.Kind)
}

func TestTransportMessage_CloseRoundTrip(t *testing.T) {
	m := TransportMessage{Kind: TMClose, CloseSessionWide: true, CloseReason: CloseExpired}
	got := roundTripTransport(t, m)
	require.Equal(t, m, got)
}

func TestTransportMessage_KeepAliveRoundTrip(t *testing.T) {
	got := roundTripTransport(t, TransportMessage{Kind: TMKeepAlive})
	require.Equal(t, TMKeepAlive, got.Kind)
}

func TestTransportMessage_FrameWithDataRoundTrip(t *testing.T) {
	nm := NetworkMessage{
		Kind:      NMData,
		KeyExpr:   WireKeyExpr{Suffix: "a/b/c"},
		DataInfo:  DataInfo{Encoding: "text/plain", Kind: KindPut},
		Payload:   []byte("hello"),
		Droppable: false,
	}
	m := TransportMessage{Kind: TMFrame, FrameSN: 7, FrameReliable: true, FrameMessages: []NetworkMessage{nm}}
	got := roundTripTransport(t, m)
	require.Equal(t, m, got)
}

func TestTransportMessage_FragmentRoundTrip(t *testing.T) {
	m := TransportMessage{Kind: TMFragment, FragSN: 3, FragReliable: true, FragMore: true, FragPayload: []byte{1, 2, 3, 4}}
	got := roundTripTransport(t, m)
	require.Equal(t, m, got)
}

func TestTransportMessage_JoinRoundTrip(t *testing.T) {
	m := TransportMessage{
		Kind:          TMJoin,
		JoinWhat:      WhatAmIPeer,
		JoinLeaseMs:   10000,
		JoinHasSize:   true,
		JoinBatchSize: 65535,
		JoinSNResolution: DefaultSNResolutionMinusOne,
		JoinConduits:  []ConduitSN{{Reliable: 0, BestEffort: 0}},
	}
	m.JoinZID[0] = 0xaa
	got := roundTripTransport(t, m)
	require.Equal(t, m, got)
}

// S3 in spec.md §8: a Network Message whose serialized size is 1800 bytes
// and a negotiated batch of 256 produces ceil(1800/(256-overhead))
// fragments with monotonically increasing sn, the last with more=0, and
// the receiver reassembles byte-for-byte.
func TestFragmentation_S3RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 1750)
	nm := NetworkMessage{
		Kind:     NMData,
		KeyExpr:  WireKeyExpr{Suffix: "big/payload"},
		DataInfo: DataInfo{Encoding: "application/octet-stream", Kind: KindPut},
		Payload:  payload,
	}

	body := collections.NewWriter(2048)
	require.NoError(t, nm.Encode(body))
	require.Greater(t, body.Len(), 1700)

	frags, _, err := SplitIntoFragments(nm, 256, DefaultSNResolution, true, 5)
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	for i, f := range frags {
		require.Equal(t, TMFragment, f.Kind)
		require.Equal(t, uint64(5+i), f.FragSN)
		require.True(t, f.FragReliable)
		if i == len(frags)-1 {
			require.False(t, f.FragMore)
		} else {
			require.True(t, f.FragMore)
		}
	}

	var defrag DefragBuffer
	for i, f := range frags {
		require.NoError(t, defrag.Append(f.FragSN, DefaultSNResolution, f.FragPayload, i == 0))
	}
	got, err := defrag.TryDecode()
	require.NoError(t, err)
	require.Equal(t, nm, got)
}

func TestDefragBuffer_GapOnReliableIsRejected(t *testing.T) {
	var d DefragBuffer
	require.NoError(t, d.Append(0, DefaultSNResolution, []byte{1, 2}, true))
	err := d.Append(2, DefaultSNResolution, []byte{3, 4}, false)
	require.ErrorIs(t, err, ErrGap)
}

func TestExtensions_UnknownMandatoryFailsClosed(t *testing.T) {
	w := collections.NewWriter(16)
	require.NoError(t, EncodeExtensions(w, []Extension{{ID: 5, Mandatory: true, Payload: []byte{1}}}))
	r := collections.NewReader(w.Bytes())
	_, err := DecodeExtensions(r, map[byte]bool{1: true})
	require.Error(t, err)
	ce, ok := AsCodecError(err)
	require.True(t, ok)
	require.Equal(t, ErrUnknownMandatoryExtension, ce.Kind)
}

func TestExtensions_UnknownNonMandatoryIsSkippable(t *testing.T) {
	w := collections.NewWriter(16)
	require.NoError(t, EncodeExtensions(w, []Extension{{ID: 5, Mandatory: false, Payload: []byte{9, 9}}}))
	r := collections.NewReader(w.Bytes())
	exts, err := DecodeExtensions(r, map[byte]bool{})
	require.NoError(t, err)
	require.Len(t, exts, 1)
	require.Equal(t, byte(5), exts[0].ID)
}

func TestLengthPrefix_Framing(t *testing.T) {
	m := TransportMessage{Kind: TMKeepAlive}
	framed, err := EncodeFramed(m, true)
	require.NoError(t, err)
	n, err := ReadLengthPrefix(framed)
	require.NoError(t, err)
	require.Equal(t, len(framed)-2, n)

	r := collections.NewReader(framed[2:])
	got, err := DecodeTransportMessage(r)
	require.NoError(t, err)
	require.Equal(t, TMKeepAlive, got.Kind)
}
