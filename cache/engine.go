package cache

import (
	"github.com/cyverse/policycache/scheduler"
	log "github.com/sirupsen/logrus"
)

// expireFunc is called from a scheduler callback when the pending invalidation date is reached.
// It must acquire the store lock and call evictionEngine.expire.
type expireFunc[K comparable] func(key K, generation uint64)

// lookupResult is the outcome of evictionEngine.lookup
type lookupResult[K comparable, P any] struct {
	entry     *Entry[K, P] // nil on miss
	refreshed bool         // invalidation date was pushed forward
	expired   *Entry[K, P] // entry found past its invalidation date and removed
}

// evictionEngine implements entry bookkeeping, eviction and expiry scheduling shared by all stores.
// The caller must hold the store lock while calling any method.
type evictionEngine[K comparable, P any] struct {
	policy    EvictionPolicy
	scheduler scheduler.Scheduler
	index     *orderedIndex[K, P]
	onExpire  expireFunc[K]

	pendingKey        K
	pendingHandle     scheduler.Handle
	pendingGeneration uint64
	hasPending        bool
	released          bool
}

func newEvictionEngine[K comparable, P any](policy EvictionPolicy, sched scheduler.Scheduler, onExpire expireFunc[K]) *evictionEngine[K, P] {
	return &evictionEngine[K, P]{
		policy:    policy,
		scheduler: sched,
		index:     newOrderedIndex[K, P](),
		onExpire:  onExpire,
	}
}

// lookup finds the entry for the key, refreshing its invalidation date under AfterAccess validity
func (engine *evictionEngine[K, P]) lookup(key K) lookupResult[K, P] {
	entry, ok := engine.index.get(key)
	if !ok {
		return lookupResult[K, P]{}
	}

	now := engine.scheduler.Now()
	if entry.IsInvalidAt(now) {
		// the timer has not been delivered yet
		expired, _ := engine.invalidate(key)
		return lookupResult[K, P]{expired: expired}
	}

	if !engine.policy.RefreshesOnAccess() {
		return lookupResult[K, P]{entry: entry}
	}

	engine.index.remove(key)
	entry.InvalidationDate, _ = engine.policy.InvalidationDate(now)
	engine.index.insert(entry)
	engine.reschedule()

	return lookupResult[K, P]{entry: entry, refreshed: true}
}

// invalidate removes the entry for the key. Absent keys are not an error.
func (engine *evictionEngine[K, P]) invalidate(key K) (*Entry[K, P], bool) {
	entry, ok := engine.index.remove(key)
	engine.reschedule()
	return entry, ok
}

// invalidateAll removes all entries and returns them in invalidation order
func (engine *evictionEngine[K, P]) invalidateAll() []*Entry[K, P] {
	removed := engine.index.clear()
	engine.reschedule()
	return removed
}

// makeRoom evicts entries so that a new entry of the given size fits the policy limits.
// Evicted entries are returned in eviction order. A new entry larger than the size limit
// empties the cache and is stored anyway.
func (engine *evictionEngine[K, P]) makeRoom(size int64) []*Entry[K, P] {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "evictionEngine",
		"function": "makeRoom",
	})

	evicted := []*Entry[K, P]{}

	if engine.policy.HasEntryCountLimit() {
		for engine.index.len() > 0 && engine.index.len() >= engine.policy.EntryCountLimit {
			victim, _ := engine.index.earliest()
			engine.index.remove(victim.Key)
			evicted = append(evicted, victim)
		}
	}

	if engine.policy.HasTotalSizeLimit() {
		for engine.index.len() > 0 && engine.index.size()+size > engine.policy.TotalSizeLimit {
			victim, _ := engine.index.earliest()
			engine.index.remove(victim.Key)
			evicted = append(evicted, victim)
		}
	}

	if len(evicted) > 0 {
		logger.Debugf("evicted %d entries to make room for %d bytes", len(evicted), size)
	}

	return evicted
}

// admit inserts a new entry dated by the policy at the current time
func (engine *evictionEngine[K, P]) admit(key K, size int64, payload P) *Entry[K, P] {
	entry := &Entry[K, P]{
		Key:     key,
		Size:    size,
		Payload: payload,
	}
	entry.InvalidationDate, _ = engine.policy.InvalidationDate(engine.scheduler.Now())

	engine.index.insert(entry)
	engine.reschedule()
	return entry
}

// rollback undoes an admit of key along with the invalidations and evictions that preceded it
func (engine *evictionEngine[K, P]) rollback(key K, removed []*Entry[K, P]) {
	engine.index.remove(key)
	for _, entry := range removed {
		engine.index.reinsert(entry)
	}
	engine.reschedule()
}

// restore inserts an entry read back from persisted metadata, keeping its date
func (engine *evictionEngine[K, P]) restore(entry *Entry[K, P]) {
	engine.index.insert(entry)
}

// expire handles a fired timer. Stale timers, replaced by a later reschedule, are ignored.
func (engine *evictionEngine[K, P]) expire(key K, generation uint64) (*Entry[K, P], bool) {
	if engine.released || !engine.hasPending || engine.pendingGeneration != generation || engine.pendingKey != key {
		return nil, false
	}

	// the timer has fired, nothing to cancel
	engine.hasPending = false
	engine.pendingHandle = scheduler.Handle{}

	entry, ok := engine.index.get(key)
	if !ok || !entry.IsInvalidAt(engine.scheduler.Now()) {
		engine.reschedule()
		return nil, false
	}

	return engine.invalidate(key)
}

// reschedule replaces the pending timer with one for the earliest dated entry
func (engine *evictionEngine[K, P]) reschedule() {
	if engine.hasPending {
		engine.scheduler.Cancel(engine.pendingHandle)
		engine.hasPending = false
		engine.pendingHandle = scheduler.Handle{}
	}

	if engine.released {
		return
	}

	entry, ok := engine.index.earliestDated()
	if !ok {
		return
	}

	engine.pendingGeneration++
	key := entry.Key
	generation := engine.pendingGeneration
	onExpire := engine.onExpire

	engine.pendingKey = key
	engine.pendingHandle = engine.scheduler.ScheduleAt(entry.InvalidationDate, func() {
		onExpire(key, generation)
	})
	engine.hasPending = true
}

// release cancels the pending timer, no timer is scheduled afterwards
func (engine *evictionEngine[K, P]) release() {
	engine.released = true
	engine.reschedule()
}

// hasPendingTimer returns true if an invalidation timer is scheduled
func (engine *evictionEngine[K, P]) hasPendingTimer() bool {
	return engine.hasPending
}
