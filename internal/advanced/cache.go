package advanced

import (
	"sync"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
)

// sampleCache is the publisher cache of spec.md §4.8: a bounded ordered
// buffer of the last N published samples per keyexpr, indexed by sn,
// evicted FIFO by sn. Built on collections.SingleList — insertion order
// is sn order since a publisher's sn only increases, so the list's head
// is always the oldest (lowest-sn, next-to-evict) entry.
type sampleCache struct {
	mu       sync.Mutex
	entries  *collections.SingleList[cacheEntry]
	capacity int
}

type cacheEntry struct {
	sn     uint64
	sample session.Sample
}

func newSampleCache(capacity int) *sampleCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &sampleCache{entries: collections.NewSingleList[cacheEntry](), capacity: capacity}
}

// put stores sample under sn, evicting the oldest entry if at capacity.
func (c *sampleCache) put(sn uint64, sample session.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries.Len() >= c.capacity {
		c.entries.RemoveFirst(func(cacheEntry) bool { return true })
	}
	c.entries.PushBack(cacheEntry{sn: sn, sample: sample})
}

// rangeFrom returns every cached sample with sn within [geSn, leSn]
// (leSn==0 means unbounded), in ascending sn order, answering both the
// on-miss/periodic recovery queries and the late-joiner history query
// (spec.md §4.8).
func (c *sampleCache) rangeFrom(geSn, leSn uint64) []session.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []session.Sample
	c.entries.ForEach(func(e cacheEntry) {
		if e.sn < geSn {
			return
		}
		if leSn != 0 && e.sn > leSn {
			return
		}
		out = append(out, e.sample)
	})
	return out
}
