package link

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidLocator is returned by ParseLocator for any malformed input,
// surfaced to callers as CONFIG_LOCATOR_INVALID (spec.md §6 exit codes).
var ErrInvalidLocator = errors.New("link: invalid locator string")

// acceptedProtocols enumerates the protocol tokens named in spec.md §6;
// the drivers themselves are out-of-scope external collaborators.
var acceptedProtocols = map[string]bool{
	"tcp": true, "udp": true, "tls": true, "ws": true,
	"serial": true, "bt": true, "raweth": true,
}

// Locator is the parsed form of a locator string:
// `<protocol>/<address>[?<k=v>(&<k=v>)*][#<k=v>(&<k=v>)*]` (spec.md §6).
// Metadata (after "?") is protocol-agnostic; config (after "#") is
// protocol-specific and interpreted only by the concrete link driver.
type Locator struct {
	Protocol string
	Address  string
	Metadata map[string]string
	Config   map[string]string
}

// String reconstructs the canonical locator text.
func (l Locator) String() string {
	var b strings.Builder
	b.WriteString(l.Protocol)
	b.WriteByte('/')
	b.WriteString(l.Address)
	writeKV(&b, '?', l.Metadata)
	writeKV(&b, '#', l.Config)
	return b.String()
}

func writeKV(b *strings.Builder, sep byte, m map[string]string) {
	if len(m) == 0 {
		return
	}
	b.WriteByte(sep)
	first := true
	for k, v := range m {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
}

// ParseLocator parses a locator string per spec.md §6. The protocol must
// be one of the accepted tokens; address must be non-empty.
func ParseLocator(raw string) (Locator, error) {
	rest := raw
	var configPart string
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		configPart = rest[i+1:]
		rest = rest[:i]
	}
	var metaPart string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		metaPart = rest[i+1:]
		rest = rest[:i]
	}

	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "missing protocol/address separator in %q", raw)
	}
	proto := rest[:slash]
	addr := rest[slash+1:]
	if !acceptedProtocols[proto] {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "unknown protocol %q", proto)
	}
	if addr == "" {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "empty address in %q", raw)
	}

	meta, err := parseKVList(metaPart)
	if err != nil {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "metadata: %s", err)
	}
	cfg, err := parseKVList(configPart)
	if err != nil {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "config: %s", err)
	}

	return Locator{Protocol: proto, Address: addr, Metadata: meta, Config: cfg}, nil
}

func parseKVList(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, errors.Newf("malformed key=value pair %q", pair)
		}
		out[pair[:eq]] = pair[eq+1:]
	}
	return out, nil
}
