package transport

import (
	"context"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// writeMessage serializes and writes m to lnk, framing with a length
// prefix when the link's capability is stream-flow (spec.md §4.1).
func writeMessage(ctx context.Context, lnk link.Link, m wire.TransportMessage) error {
	framed := lnk.Capability().Flow == link.FlowStream
	out, err := wire.EncodeFramed(m, framed)
	if err != nil {
		return err
	}
	return lnk.WriteAll(ctx, out)
}

// readMessage reads exactly one Transport Message off lnk: length-prefixed
// on stream links, one message per Read on datagram links (spec.md §4.1,
// §4.4 receive-path step 1). decodeFn selects the handshake-phase decoder
// or the steady-state decoder.
func readMessage(ctx context.Context, lnk link.Link, decodeFn func(*collections.Reader) (wire.TransportMessage, error)) (wire.TransportMessage, error) {
	if lnk.Capability().Flow == link.FlowStream {
		prefix := make([]byte, 2)
		if err := lnk.ReadExact(ctx, prefix); err != nil {
			return wire.TransportMessage{}, err
		}
		n, err := wire.ReadLengthPrefix(prefix)
		if err != nil {
			return wire.TransportMessage{}, err
		}
		body := make([]byte, n)
		if err := lnk.ReadExact(ctx, body); err != nil {
			return wire.TransportMessage{}, err
		}
		return decodeFn(collections.NewReader(body))
	}

	buf := make([]byte, lnk.MTU())
	n, err := lnk.Read(ctx, buf)
	if err != nil {
		return wire.TransportMessage{}, err
	}
	return decodeFn(collections.NewReader(buf[:n]))
}
