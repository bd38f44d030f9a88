package cache

import (
	"reflect"
)

// CacheStore is a policy-driven cache management object.
// All operations are serialized by a lock owned by the store.
type CacheStore[K any, V any] interface {
	// Release cancels the pending invalidation timer
	Release()

	GetPolicy() EvictionPolicy

	GetTotalEntries() int
	GetTotalEntrySize() int64

	// Get returns the value for the key, false if absent or expired
	Get(key K) (V, bool)
	// Put stores the value for the key, replacing an existing value and evicting entries as the policy requires
	Put(key K, value V) error
	// Invalidate removes the entry for the key, absent keys are not an error
	Invalidate(key K) error
	InvalidateAll() error
}

// Sizer is implemented by values that know their size in bytes
type Sizer interface {
	Size() int
}

// SizeFunc returns the size of a value in bytes
type SizeFunc[V any] func(value V) int64

// DefaultSizeOf returns the size of a value.
// Uses Sizer if implemented, the length of []byte and string values, or the static size of the type.
func DefaultSizeOf[V any](value V) int64 {
	switch v := any(value).(type) {
	case nil:
		return 0
	case Sizer:
		return int64(v.Size())
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	default:
		return int64(reflect.TypeOf(value).Size())
	}
}
