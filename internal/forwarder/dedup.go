package forwarder

import (
	"sync"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// seenKey identifies a packet globally by (source bin, packet id), the
// tuple spec.md §3 calls "globally unique per BPF".
type seenKey struct {
	bin ironpkt.BinId
	id  uint32
}

// dedupCache suppresses repeat transmission of a packet this node has
// already forwarded via a different path (spec.md §4.6: "Packet ids (if
// present) are used to suppress duplicate transmission"). Entries expire
// after ttl so the map does not grow without bound; modeled on the
// teacher's mutex-guarded allocation-set pattern
// (internal/bfd/discriminator.go), adapted from an allocator to an
// expiring seen-set.
type dedupCache struct {
	mu      sync.Mutex
	seen    map[seenKey]time.Time
	ttl     time.Duration
	lastGC  time.Time
	gcEvery time.Duration
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &dedupCache{
		seen:    make(map[seenKey]time.Time),
		ttl:     ttl,
		gcEvery: ttl,
	}
}

// MarkAndCheck reports whether (bin, id) has already been seen within ttl,
// and records it as seen as of now either way.
func (d *dedupCache) MarkAndCheck(now time.Time, bin ironpkt.BinId, id uint32) (alreadySeen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := seenKey{bin: bin, id: id}
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		d.seen[key] = now
		return true
	}
	d.seen[key] = now

	if d.lastGC.IsZero() {
		d.lastGC = now
	} else if now.Sub(d.lastGC) >= d.gcEvery {
		d.lastGC = now
		for k, t := range d.seen {
			if now.Sub(t) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return false
}
