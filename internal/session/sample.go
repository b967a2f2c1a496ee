// Package session implements the Session API (spec.md §4.5, C6):
// declaration registries, sample/query/reply dispatch, consolidation, and
// the callback lifecycle contract. It is grounded on the teacher's
// mcast.PeerUnity/core.PartitionPeer split: a thin front door
// (Session) delegating storage and matching to per-concern registries,
// the way PeerUnity delegates to core.PartitionPeer and types.Storage.
package session

import (
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// Sample is the immutable value delivered to a subscriber (spec.md §3).
type Sample struct {
	KeyExpr      keyexpr.KeyExpr
	Payload      []byte
	Encoding     string
	Kind         wire.SampleKind
	HasTimestamp bool
	Timestamp    uint64
	Source       wire.SourceInfo
}

func sampleFromWire(ke keyexpr.KeyExpr, info wire.DataInfo, payload []byte) Sample {
	return Sample{
		KeyExpr:      ke,
		Payload:      payload,
		Encoding:     info.Encoding,
		Kind:         info.Kind,
		HasTimestamp: info.HasTimestamp,
		Timestamp:    info.Timestamp,
		Source:       info.Source,
	}
}

func (s Sample) toDataInfo() wire.DataInfo {
	return wire.DataInfo{
		Encoding:     s.Encoding,
		Kind:         s.Kind,
		HasTimestamp: s.HasTimestamp,
		Timestamp:    s.Timestamp,
		Source:       s.Source,
	}
}

// nowMillis is the monotonic-ish timestamp source used when a sample is
// published without an explicit one; kept as a function value so tests
// can substitute a deterministic clock.
var nowMillis = func() uint64 {
	return uint64(time.Now().UnixMilli())
}
