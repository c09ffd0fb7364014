// Package store provides the durable key-value layer that backs offline
// capture.
//
// Values are JSON-encoded under string keys on a pluggable Backend (file,
// sqlite, or in-memory). Reads fall back to a caller-supplied default when a
// key is absent or its contents do not parse; the default is never written
// back, so an untouched store stays empty. Writes that fail to serialize or
// persist are logged and swallowed - capture must keep working on a full or
// broken disk, so no storage failure is allowed to reach the caller.
//
// The encoding is deliberately unversioned: one JSON document per key, no
// migration layer. Changing a record's shape is a breaking change for data
// already staged on devices.
package store

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// Store wraps a Backend with JSON serialization and failure logging.
type Store struct {
	backend Backend
	logger  *log.Logger
}

// New creates a Store over the given backend.
//
// If logger is nil, a default logger writing to stderr is used.
func New(backend Backend, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// Backend returns the underlying backend, for callers that need to share it
// (watch registrations, lifecycle shutdown).
func (s *Store) Backend() Backend {
	return s.backend
}

// Read returns the value stored under key, or def when the key is absent or
// holds text that does not decode into T. The default is not written back.
func Read[T any](s *Store, key string, def T) T {
	raw, ok, err := s.backend.Get(key)
	if err != nil {
		s.logger.Printf("read %q failed: %v (using default)", key, err)
		return def
	}
	if !ok {
		return def
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.logger.Printf("corrupt value under %q: %v (using default)", key, err)
		return def
	}
	return v
}

// Write serializes v and persists it under key. Serialization and storage
// failures are logged, never returned; the persisted value is unchanged when
// the write fails.
func Write[T any](s *Store, key string, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("cannot serialize value for %q: %v (write dropped)", key, err)
		return
	}
	if err := s.backend.Set(key, string(raw)); err != nil {
		s.logger.Printf("cannot persist %q: %v (write dropped)", key, err)
	}
}

// Value holds the live in-memory copy of one persisted key.
//
// The in-memory copy and the persisted copy converge: Set updates both (the
// persisted side first, so a failed write leaves memory as it was), and a
// write by another process replaces the in-memory copy through the backend
// watch. Writes through this Value do not self-notify.
type Value[T any] struct {
	store *Store
	key   string

	mu     sync.Mutex
	cur    T
	subs   []func(T)
	cancel func()
	closed bool
}

// NewValue loads the current value under key, falling back to def, and
// subscribes to external changes. Call Close when done with the handle.
func NewValue[T any](s *Store, key string, def T) *Value[T] {
	v := &Value[T]{store: s, key: key}
	v.cur = Read(s, key, def)

	cancel, err := s.backend.Watch(key, v.applyExternal)
	if err != nil {
		s.logger.Printf("no change watch for %q: %v", key, err)
	} else {
		v.cancel = cancel
	}
	return v
}

// Get returns the current in-memory copy.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set persists val and, on success, replaces the in-memory copy. Failures
// are logged by the store; the in-memory copy then stays as it was before
// the call.
func (v *Value[T]) Set(val T) {
	raw, err := json.Marshal(val)
	if err != nil {
		v.store.logger.Printf("cannot serialize value for %q: %v (write dropped)", v.key, err)
		return
	}
	if err := v.store.backend.Set(v.key, string(raw)); err != nil {
		v.store.logger.Printf("cannot persist %q: %v (write dropped)", v.key, err)
		return
	}

	v.mu.Lock()
	v.cur = val
	v.mu.Unlock()
}

// OnChange registers fn to run after an external write replaces the
// in-memory copy. fn is not called for writes made through this Value.
func (v *Value[T]) OnChange(fn func(T)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs = append(v.subs, fn)
}

// Close releases the external-change subscription. Idempotent.
func (v *Value[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	cancel := v.cancel
	v.cancel = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// applyExternal handles a raw value written by another process.
func (v *Value[T]) applyExternal(raw string) {
	var val T
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		v.store.logger.Printf("ignoring corrupt external write to %q: %v", v.key, err)
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.cur = val
	subs := make([]func(T), len(v.subs))
	copy(subs, v.subs)
	v.mu.Unlock()

	for _, fn := range subs {
		fn(val)
	}
}
