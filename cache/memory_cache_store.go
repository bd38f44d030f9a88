package cache

import (
	"sync"

	"github.com/cyverse/policycache/scheduler"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// MemoryCacheStore implements CacheStore, keeps values in memory
type MemoryCacheStore[K comparable, V any] struct {
	sizeOf SizeFunc[V]
	engine *evictionEngine[K, V]
	mutex  sync.Mutex
}

// NewMemoryCacheStore creates a new MemoryCacheStore. sizeOf can be nil to use DefaultSizeOf.
func NewMemoryCacheStore[K comparable, V any](policy EvictionPolicy, sched scheduler.Scheduler, sizeOf SizeFunc[V]) (*MemoryCacheStore[K, V], error) {
	err := policy.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to create memory cache store: %w", err)
	}

	if sched == nil {
		sched = scheduler.NewRealScheduler()
	}

	if sizeOf == nil {
		sizeOf = DefaultSizeOf[V]
	}

	store := &MemoryCacheStore[K, V]{
		sizeOf: sizeOf,
	}
	store.engine = newEvictionEngine[K, V](policy, sched, store.expire)
	return store, nil
}

// Release cancels the pending invalidation timer, entries are kept
func (store *MemoryCacheStore[K, V]) Release() {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.release()
}

// GetPolicy returns eviction policy
func (store *MemoryCacheStore[K, V]) GetPolicy() EvictionPolicy {
	return store.engine.policy
}

// GetTotalEntries returns total number of entries in cache
func (store *MemoryCacheStore[K, V]) GetTotalEntries() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.len()
}

// GetTotalEntrySize returns total size of entries in cache
func (store *MemoryCacheStore[K, V]) GetTotalEntrySize() int64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.size()
}

// GetEntryKeys returns all entry keys, nearest to invalidation first
func (store *MemoryCacheStore[K, V]) GetEntryKeys() []K {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.engine.index.keys()
}

// HasEntry checks if the entry for the given key is present, without refreshing it
func (store *MemoryCacheStore[K, V]) HasEntry(key K) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, ok := store.engine.index.get(key)
	return ok && !entry.IsInvalidAt(store.engine.scheduler.Now())
}

// Get returns the value for the key
func (store *MemoryCacheStore[K, V]) Get(key K) (V, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	result := store.engine.lookup(key)
	if result.entry == nil {
		var zero V
		return zero, false
	}

	return result.entry.Payload, true
}

// Put stores the value for the key
func (store *MemoryCacheStore[K, V]) Put(key K, value V) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.invalidate(key)

	size := store.sizeOf(value)
	store.engine.makeRoom(size)
	store.engine.admit(key, size, value)
	return nil
}

// Invalidate removes the entry for the key
func (store *MemoryCacheStore[K, V]) Invalidate(key K) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.invalidate(key)
	return nil
}

// InvalidateAll removes all entries
func (store *MemoryCacheStore[K, V]) InvalidateAll() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.engine.invalidateAll()
	return nil
}

func (store *MemoryCacheStore[K, V]) expire(key K, generation uint64) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "MemoryCacheStore",
		"function": "expire",
	})

	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, ok := store.engine.expire(key, generation); ok {
		logger.Debugf("invalidated expired entry %v", key)
	}
}
