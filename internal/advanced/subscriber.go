package advanced

import (
	"context"
	"sync"
	"time"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/metrics"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/scheduler"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// DefaultRecoveryTimeout bounds a single recovery/history Get (spec.md
// §4.8 does not pin a value).
const DefaultRecoveryTimeout = 2 * time.Second

// MissEvent reports a detected gap in a source's sequence numbers
// (spec.md §4.8 "a miss event {source=egid, nb=sn-expected-1}").
type MissEvent struct {
	Source EntityGlobalID
	Nb     uint64
}

// SubscriberOptions configures one Subscriber (spec.md §4.8).
type SubscriberOptions struct {
	// PeriodicQueriesPeriodMs, if non-zero, enables periodic recovery
	// mode: every period, a query for any sn past the last delivered one
	// is issued for each known source, independent of new arrivals.
	PeriodicQueriesPeriodMs int64
	// DetectLatePublishers, if true, subscribes to publisher presence
	// announcements and issues a full-history query for any newly
	// observed one (spec.md §4.8 "Late-joiner / history").
	DetectLatePublishers bool
	// RecoveryTimeout bounds each recovery/history Get; 0 uses
	// DefaultRecoveryTimeout.
	RecoveryTimeout time.Duration
	// MissListener, if non-nil, is invoked for every detected gap.
	MissListener func(MissEvent)
}

type sourceState struct {
	expected uint64
	ke       keyexpr.KeyExpr
}

// Subscriber decorates a plain session.Session subscription with the
// subscriber-side half of spec.md §4.8: per-source sn tracking, miss
// detection, and the three recovery modes.
type Subscriber struct {
	sess  *session.Session
	ctx   context.Context
	opts  SubscriberOptions
	sched *scheduler.Scheduler
	userCb func(session.Sample)

	mu      sync.Mutex
	sources map[string]*sourceState

	dataID         uint64
	heartbeatID    uint64
	presenceID     uint64
	periodicTaskID uint64
}

// NewSubscriber declares an advanced subscriber on keStr (spec.md §4.8).
// ctx is retained to drive the background recovery/history Get calls a
// received sample or scheduler tick may trigger after this call returns.
func NewSubscriber(ctx context.Context, sess *session.Session, keStr string, reliable bool, cb func(session.Sample), opts SubscriberOptions, sched *scheduler.Scheduler) (*Subscriber, error) {
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	s := &Subscriber{
		sess:    sess,
		ctx:     ctx,
		opts:    opts,
		sched:   sched,
		userCb:  cb,
		sources: make(map[string]*sourceState),
	}

	dataID, err := sess.DeclareSubscriber(ctx, keStr, reliable, s.onData, nil)
	if err != nil {
		return nil, err
	}
	s.dataID = dataID

	hbID, err := sess.DeclareSubscriber(ctx, heartbeatWildcard, true, s.onHeartbeat, nil)
	if err != nil {
		sess.UndeclareSubscriber(dataID)
		return nil, err
	}
	s.heartbeatID = hbID

	if opts.DetectLatePublishers {
		presenceID, err := sess.DeclareSubscriber(ctx, presenceWildcard, true, s.onPresence, nil)
		if err != nil {
			sess.UndeclareSubscriber(dataID)
			sess.UndeclareSubscriber(hbID)
			return nil, err
		}
		s.presenceID = presenceID
	}

	if opts.PeriodicQueriesPeriodMs > 0 && sched != nil {
		id, err := sched.Add(opts.PeriodicQueriesPeriodMs, s.periodicRecover, nil)
		if err != nil {
			sess.UndeclareSubscriber(dataID)
			sess.UndeclareSubscriber(hbID)
			if s.presenceID != 0 {
				sess.UndeclareSubscriber(s.presenceID)
			}
			return nil, err
		}
		s.periodicTaskID = id
	}

	return s, nil
}

// onData is the live-data path: dedup by sn, deliver, detect gaps
// (spec.md §4.8 "Sample-miss detection").
func (s *Subscriber) onData(sample session.Sample) {
	if !sample.Source.Present {
		s.userCb(sample)
		return
	}
	egid := sourceInfoEGID(sample.Source)
	sn := sample.Source.SequenceNum

	s.mu.Lock()
	st, known := s.sources[egid.key()]
	if !known {
		st = &sourceState{ke: sample.KeyExpr}
		s.sources[egid.key()] = st
	}
	if sn <= st.expected {
		s.mu.Unlock()
		return
	}
	gap := sn - st.expected - 1
	st.expected = sn
	st.ke = sample.KeyExpr
	s.mu.Unlock()

	s.userCb(sample)

	if gap > 0 {
		metrics.SampleMissTotal.WithLabelValues("data").Inc()
		if s.opts.MissListener != nil {
			s.opts.MissListener(MissEvent{Source: egid, Nb: gap})
		}
		s.recover(egid, sample.KeyExpr, sn-gap, sn-1)
	}
}

// onHeartbeat treats a publisher's sentinel sn as ground truth and
// recovers up to it if the subscriber has fallen behind (spec.md §4.8
// "heartbeat mode ... subscribers recover as in mode 1").
func (s *Subscriber) onHeartbeat(sample session.Sample) {
	if !sample.Source.Present {
		return
	}
	egid := sourceInfoEGID(sample.Source)
	latest := sample.Source.SequenceNum

	s.mu.Lock()
	st, known := s.sources[egid.key()]
	expected := uint64(0)
	if known {
		expected = st.expected
	}
	s.mu.Unlock()

	if latest > expected {
		s.recover(egid, s.cacheKeyExprGuess(egid), expected+1, latest)
	}
}

// onPresence triggers a late-joiner history query for a newly observed
// publisher (spec.md §4.8 "Late-joiner / history").
func (s *Subscriber) onPresence(sample session.Sample) {
	chunks := sample.KeyExpr.Chunks()
	egid, ok := parseEntityChunks(chunks, 2) // "@adv", "presence", <zid>, <eid>
	if !ok {
		return
	}
	if sample.Kind == wire.KindDelete {
		s.mu.Lock()
		delete(s.sources, egid.key())
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	_, known := s.sources[egid.key()]
	s.mu.Unlock()
	if known {
		return
	}
	s.recover(egid, s.cacheKeyExprGuess(egid), 1, 0)
}

// cacheKeyExprGuess returns the last keyexpr this source was observed
// publishing on, falling back to the data subscription's own wildcard
// for a source never seen live yet (a presence PUT arriving before any
// data sample): the recovery query still intersects correctly since
// cacheKeyExpr's suffix is the publisher's real keyexpr either way.
func (s *Subscriber) cacheKeyExprGuess(egid EntityGlobalID) keyexpr.KeyExpr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[egid.key()]; ok {
		return st.ke
	}
	return keyexpr.MustCanonicalize("**")
}

// periodicRecover re-issues a recovery query for every known source,
// independent of whether a miss was just observed (spec.md §4.8
// "Periodic: ... every period regardless of new arrivals").
func (s *Subscriber) periodicRecover() {
	s.mu.Lock()
	type pending struct {
		egid EntityGlobalID
		ke   keyexpr.KeyExpr
		from uint64
	}
	var due []pending
	for key, st := range s.sources {
		egid, ok := parseEntityGlobalIDFromKey(key)
		if !ok {
			continue
		}
		due = append(due, pending{egid: egid, ke: st.ke, from: st.expected + 1})
	}
	s.mu.Unlock()

	for _, p := range due {
		s.recover(p.egid, p.ke, p.from, 0)
	}
}

// recover issues a targeted Get against egid's cache keyexpr for
// [geSn, leSn] (leSn==0 unbounded) and applies every reply through the
// same dedup-by-sn path live samples use, so a recovered sample that was
// meanwhile also delivered live (or by a second, overlapping recovery)
// is silently coalesced.
func (s *Subscriber) recover(egid EntityGlobalID, ke keyexpr.KeyExpr, geSn, leSn uint64) {
	target := cacheKeyExpr(egid, ke)
	err := s.sess.Get(s.ctx, target.String(), encodeRange(geSn, leSn), wire.TargetAll, wire.ConsolidationNone, nil, s.opts.RecoveryTimeout, func(r session.Reply) {
		if r.Final {
			return
		}
		s.applyRecovered(egid, r.Sample)
	}, nil, nil)
	if err != nil {
		return
	}
}

func (s *Subscriber) applyRecovered(egid EntityGlobalID, sample session.Sample) {
	if !sample.Source.Present {
		return
	}
	sn := sample.Source.SequenceNum
	s.mu.Lock()
	st, known := s.sources[egid.key()]
	if !known {
		st = &sourceState{}
		s.sources[egid.key()] = st
	}
	if sn <= st.expected {
		s.mu.Unlock()
		return
	}
	st.expected = sn
	st.ke = sample.KeyExpr
	s.mu.Unlock()
	s.userCb(sample)
}

// parseEntityGlobalIDFromKey is the inverse of EntityGlobalID.key(),
// used only to walk the sources map by key; periodicRecover holds
// sourceState by key rather than by EntityGlobalID to keep the map
// lookup in onData/onHeartbeat/onPresence a single string hash.
func parseEntityGlobalIDFromKey(key string) (EntityGlobalID, bool) {
	idx := lastColon(key)
	if idx < 0 {
		return EntityGlobalID{}, false
	}
	return parseEntityChunks([]string{"", key[:idx], key[idx+1:]}, 1)
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// Close undeclares every subscription and scheduler task this Subscriber
// owns.
func (s *Subscriber) Close() error {
	if s.periodicTaskID != 0 && s.sched != nil {
		s.sched.Remove(s.periodicTaskID)
	}
	if s.presenceID != 0 {
		s.sess.UndeclareSubscriber(s.presenceID)
	}
	s.sess.UndeclareSubscriber(s.heartbeatID)
	s.sess.UndeclareSubscriber(s.dataID)
	return nil
}
