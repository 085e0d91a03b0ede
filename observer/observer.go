// Package observer tracks external observers of an open store file so the
// file actor can decide when it is idle enough to auto-close. An observer
// is anything holding a live interest in the file (a cursor, a replication
// job, ...); the optional statistics tracker is special-cased per spec:
// its presence alone does not count as "observed".
package observer

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Tracker records observer registrations with a TTL, backed by
// github.com/patrickmn/go-cache so a crashed or leaked observer's interest
// expires on its own instead of pinning a file open forever.
type Tracker struct {
	entries *cache.Cache
}

// New returns a Tracker whose registrations expire after ttl unless
// refreshed, swept every cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Tracker {
	return &Tracker{entries: cache.New(ttl, cleanupInterval)}
}

// Observe registers or refreshes id as holding an interest in the file.
// isStats marks the registration as belonging to the optional statistics
// tracker, which the spec excludes from the idle determination.
func (t *Tracker) Observe(id string, isStats bool) {
	t.entries.SetDefault(id, isStats)
}

// Forget removes id's registration immediately, rather than waiting for
// its TTL to lapse.
func (t *Tracker) Forget(id string) {
	t.entries.Delete(id)
}

// IsIdle reports whether the file has no observers other than, at most,
// the statistics tracker.
func (t *Tracker) IsIdle() bool {
	for _, isStats := range t.entries.Items() {
		if stats, ok := isStats.Object.(bool); !ok || !stats {
			return false
		}
	}
	return true
}
