package cache

// SerializeErrorHandler returns a value to use when the value for the key can't be read back
type SerializeErrorHandler[K any, V any] func(key K, err error) (V, bool)

type serializeErrorKind int

const (
	serializeErrorNoValue serializeErrorKind = iota
	serializeErrorDefaultValue
	serializeErrorHandler
)

// SerializeErrorBehavior decides what DiskCacheStore.Get returns when a value file
// is missing, unreadable or fails to deserialize.
// The zero value returns no value.
type SerializeErrorBehavior[K any, V any] struct {
	kind         serializeErrorKind
	defaultValue V
	handler      SerializeErrorHandler[K, V]
}

// ReturnNoValue makes Get report a miss
func ReturnNoValue[K any, V any]() SerializeErrorBehavior[K, V] {
	return SerializeErrorBehavior[K, V]{kind: serializeErrorNoValue}
}

// ReturnDefaultValue makes Get return the given value
func ReturnDefaultValue[K any, V any](value V) SerializeErrorBehavior[K, V] {
	return SerializeErrorBehavior[K, V]{kind: serializeErrorDefaultValue, defaultValue: value}
}

// UseHandler makes Get return what the handler returns
func UseHandler[K any, V any](handler SerializeErrorHandler[K, V]) SerializeErrorBehavior[K, V] {
	return SerializeErrorBehavior[K, V]{kind: serializeErrorHandler, handler: handler}
}

func (behavior SerializeErrorBehavior[K, V]) resolve(key K, err error) (V, bool) {
	switch behavior.kind {
	case serializeErrorDefaultValue:
		return behavior.defaultValue, true
	case serializeErrorHandler:
		if behavior.handler != nil {
			return behavior.handler(key, err)
		}
	}

	var zero V
	return zero, false
}
