package advanced

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/scheduler"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"
)

// DefaultCacheSize is used when PublisherOptions.CacheSize is left at
// zero; spec.md §4.8 does not pin a default, so this picks a small
// bound in keeping with the module's embedded-node target.
const DefaultCacheSize = 16

// PublisherOptions configures one Publisher (spec.md §4.8).
type PublisherOptions struct {
	// CacheSize bounds the publisher cache; 0 uses DefaultCacheSize.
	CacheSize int
	// HeartbeatPeriodMs, if non-zero, enables heartbeat recovery mode:
	// a no-payload sentinel sample carrying the latest sn is PUT every
	// HeartbeatPeriodMs milliseconds.
	HeartbeatPeriodMs int64
	// PublisherDetection, if true, announces this publisher's presence
	// so subscribers with DetectLatePublishers can notice it and issue
	// a late-joiner history query.
	PublisherDetection bool
}

// Publisher decorates a plain session.Session with the publisher-side
// half of spec.md §4.8: sn tagging, a bounded sample cache, a queryable
// answering recovery/history queries against that cache, and an optional
// heartbeat task.
type Publisher struct {
	sess *session.Session
	ke   keyexpr.KeyExpr
	egid EntityGlobalID
	opts PublisherOptions
	sched *scheduler.Scheduler

	cache *sampleCache

	mu     sync.Mutex
	nextSn uint64

	queryableID   uint64
	heartbeatTask uint64
}

// NewPublisher declares an advanced publisher for keStr (spec.md §4.8).
// sched drives its heartbeat task, if enabled; it is shared across every
// advanced publisher/subscriber a session owns. The plain transport
// layer does not use it: its lease and keep-alive timers run on their
// own tickers.
func NewPublisher(ctx context.Context, sess *session.Session, keStr string, opts PublisherOptions, sched *scheduler.Scheduler) (*Publisher, error) {
	ke, status := keyexpr.Canonicalize(keStr)
	if status != keyexpr.StatusOK {
		return nil, errors.Newf("advanced: invalid keyexpr %q: %s", keStr, status)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	egid := EntityGlobalID{ZID: sess.ZID(), EID: sess.NextEntityID()}

	p := &Publisher{
		sess:  sess,
		ke:    ke,
		egid:  egid,
		opts:  opts,
		sched: sched,
		cache: newSampleCache(opts.CacheSize),
		nextSn: 1,
	}

	qid, err := sess.DeclareQueryable(ctx, cacheKeyExpr(egid, ke).String(), true, p.answerRecoveryQuery, nil)
	if err != nil {
		return nil, err
	}
	p.queryableID = qid

	if opts.PublisherDetection {
		if err := sess.Put(ctx, presenceKeyExpr(egid).String(), nil, "", true); err != nil {
			sess.UndeclareQueryable(qid)
			return nil, err
		}
	}

	if opts.HeartbeatPeriodMs > 0 && sched != nil {
		id, err := sched.Add(opts.HeartbeatPeriodMs, p.sendHeartbeat, nil)
		if err != nil {
			sess.UndeclareQueryable(qid)
			return nil, err
		}
		p.heartbeatTask = id
	}

	return p, nil
}

// Put publishes payload with an auto-assigned, monotonically increasing
// sequence number, caches it, and forwards it (spec.md §4.8 "Publisher
// cache").
func (p *Publisher) Put(ctx context.Context, payload []byte, encoding string) error {
	p.mu.Lock()
	sn := p.nextSn
	p.nextSn++
	p.mu.Unlock()

	sample := session.Sample{
		KeyExpr:      p.ke,
		Payload:      payload,
		Encoding:     encoding,
		Kind:         wire.KindPut,
		HasTimestamp: true,
		Source:       wire.SourceInfo{Present: true, EntityZID: p.egid.ZID, EntityEID: p.egid.EID, SequenceNum: sn},
	}
	p.cache.put(sn, sample)
	return p.sess.PutSample(ctx, sample, true)
}

func (p *Publisher) sendHeartbeat() {
	p.mu.Lock()
	latest := p.nextSn - 1
	p.mu.Unlock()
	if latest == 0 {
		return
	}
	hb := session.Sample{
		KeyExpr:      heartbeatKeyExpr(p.egid),
		HasTimestamp: true,
		Source:       wire.SourceInfo{Present: true, EntityZID: p.egid.ZID, EntityEID: p.egid.EID, SequenceNum: latest},
	}
	_ = p.sess.PutSample(context.Background(), hb, true)
}

// answerRecoveryQuery replies with every cached sample in the requested
// sn range, in ascending sn order (spec.md §4.8 recovery/history).
func (p *Publisher) answerRecoveryQuery(q session.Query) {
	geSn, leSn := decodeRange(q.Parameters)
	for _, sample := range p.cache.rangeFrom(geSn, leSn) {
		q.Reply(sample)
	}
}

// Close retracts the publisher: its presence marker (if any), its
// heartbeat task, and its recovery queryable.
func (p *Publisher) Close(ctx context.Context) error {
	if p.heartbeatTask != 0 && p.sched != nil {
		p.sched.Remove(p.heartbeatTask)
	}
	p.sess.UndeclareQueryable(p.queryableID)
	if p.opts.PublisherDetection {
		return p.sess.Delete(ctx, presenceKeyExpr(p.egid).String(), true)
	}
	return nil
}
