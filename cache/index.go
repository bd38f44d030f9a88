package cache

import (
	"container/heap"
	"sort"
	"time"
)

// Entry is a cache entry with its size and invalidation date.
// Payload is the value itself for in-memory stores, or a file reference for disk stores.
type Entry[K comparable, P any] struct {
	Key              K
	Size             int64
	InvalidationDate time.Time // zero if the entry never expires, EvictionPolicy never produces a zero date
	Payload          P

	sequence  uint64
	heapIndex int
}

// HasInvalidationDate returns true if the entry expires
func (entry *Entry[K, P]) HasInvalidationDate() bool {
	return !entry.InvalidationDate.IsZero()
}

// IsInvalidAt returns true if the entry has expired at the given time
func (entry *Entry[K, P]) IsInvalidAt(now time.Time) bool {
	return entry.HasInvalidationDate() && !now.Before(entry.InvalidationDate)
}

// entryHeap orders entries by invalidation date, undated entries last, ties by sequence
type entryHeap[K comparable, P any] []*Entry[K, P]

func (h entryHeap[K, P]) Len() int {
	return len(h)
}

func (h entryHeap[K, P]) Less(i, j int) bool {
	return entryBefore(h[i], h[j])
}

func (h entryHeap[K, P]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap[K, P]) Push(x any) {
	entry := x.(*Entry[K, P])
	entry.heapIndex = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap[K, P]) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.heapIndex = -1
	*h = old[:n-1]
	return entry
}

func entryBefore[K comparable, P any](a *Entry[K, P], b *Entry[K, P]) bool {
	aDated := a.HasInvalidationDate()
	bDated := b.HasInvalidationDate()

	switch {
	case aDated && !bDated:
		return true
	case !aDated && bDated:
		return false
	case aDated && bDated && !a.InvalidationDate.Equal(b.InvalidationDate):
		return a.InvalidationDate.Before(b.InvalidationDate)
	default:
		return a.sequence < b.sequence
	}
}

// orderedIndex keeps entries by key and by invalidation order, with their total size.
// Not thread-safe, the owning store serializes access.
type orderedIndex[K comparable, P any] struct {
	entries      map[K]*Entry[K, P]
	order        entryHeap[K, P]
	totalSize    int64
	nextSequence uint64
}

func newOrderedIndex[K comparable, P any]() *orderedIndex[K, P] {
	return &orderedIndex[K, P]{
		entries:      map[K]*Entry[K, P]{},
		order:        entryHeap[K, P]{},
		totalSize:    0,
		nextSequence: 0,
	}
}

// insert adds the entry, replacing an existing entry with the same key.
// The entry takes the last position among entries with the same date.
func (index *orderedIndex[K, P]) insert(entry *Entry[K, P]) {
	index.remove(entry.Key)

	index.nextSequence++
	entry.sequence = index.nextSequence

	index.entries[entry.Key] = entry
	heap.Push(&index.order, entry)
	index.totalSize += entry.Size
}

// reinsert puts back a removed entry, keeping its position among entries with the same date
func (index *orderedIndex[K, P]) reinsert(entry *Entry[K, P]) {
	index.remove(entry.Key)

	index.entries[entry.Key] = entry
	heap.Push(&index.order, entry)
	index.totalSize += entry.Size
}

func (index *orderedIndex[K, P]) remove(key K) (*Entry[K, P], bool) {
	entry, ok := index.entries[key]
	if !ok {
		return nil, false
	}

	delete(index.entries, key)
	heap.Remove(&index.order, entry.heapIndex)
	index.totalSize -= entry.Size
	return entry, true
}

func (index *orderedIndex[K, P]) get(key K) (*Entry[K, P], bool) {
	entry, ok := index.entries[key]
	return entry, ok
}

// earliest returns the entry nearest to invalidation, which is also the first to be evicted
func (index *orderedIndex[K, P]) earliest() (*Entry[K, P], bool) {
	if len(index.order) == 0 {
		return nil, false
	}
	return index.order[0], true
}

// earliestDated returns the earliest entry only if it has an invalidation date
func (index *orderedIndex[K, P]) earliestDated() (*Entry[K, P], bool) {
	entry, ok := index.earliest()
	if !ok || !entry.HasInvalidationDate() {
		return nil, false
	}
	return entry, true
}

func (index *orderedIndex[K, P]) clear() []*Entry[K, P] {
	removed := index.sorted()

	index.entries = map[K]*Entry[K, P]{}
	index.order = entryHeap[K, P]{}
	index.totalSize = 0
	return removed
}

func (index *orderedIndex[K, P]) len() int {
	return len(index.entries)
}

func (index *orderedIndex[K, P]) size() int64 {
	return index.totalSize
}

// sorted returns entries in invalidation order
func (index *orderedIndex[K, P]) sorted() []*Entry[K, P] {
	entries := make([]*Entry[K, P], len(index.order))
	copy(entries, index.order)

	sort.Slice(entries, func(i, j int) bool {
		return entryBefore(entries[i], entries[j])
	})
	return entries
}

func (index *orderedIndex[K, P]) keys() []K {
	entries := index.sorted()

	keys := make([]K, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	return keys
}
