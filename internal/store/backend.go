package store

// Backend is the persisted-store capability: string-keyed UTF-8 text with
// change notification scoped to writes made by another process.
//
// Implementations must never notify a watcher for writes performed through
// the same Backend instance; the notification exists so one process can
// observe another, not so a writer hears its own echo.
type Backend interface {
	// Get returns the raw text stored under key. ok is false when the key
	// has never been written.
	Get(key string) (raw string, ok bool, err error)

	// Set persists raw under key, fully replacing any prior value.
	Set(key, raw string) error

	// Watch registers fn to be called with the new raw value whenever
	// another process writes key. The returned cancel func releases the
	// registration and is safe to call more than once.
	Watch(key string, fn func(raw string)) (cancel func(), err error)

	// Close releases any watch resources. Idempotent.
	Close() error
}

// KeyLister is implemented by backends that can enumerate their persisted
// keys, for callers that need to survey existing data at startup.
type KeyLister interface {
	// Keys returns every key currently persisted, in no particular order.
	Keys() ([]string, error)
}
