package store

import "sync"

// MemBackend is an in-memory Backend.
//
// It backs --ephemeral runs and is the deterministic fake for tests:
// SimulateExternalWrite plays the role of another process writing a key,
// which is the only way a MemBackend watch ever fires.
type MemBackend struct {
	mu     sync.Mutex
	data   map[string]string
	subs   map[string][]*memSub
	closed bool
}

type memSub struct {
	fn       func(string)
	canceled bool
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		data: make(map[string]string),
		subs: make(map[string][]*memSub),
	}
}

// Get implements Backend.
func (b *MemBackend) Get(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.data[key]
	return raw, ok, nil
}

// Set implements Backend. Same-instance writes never notify watchers.
func (b *MemBackend) Set(key, raw string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = raw
	return nil
}

// Watch implements Backend.
func (b *MemBackend) Watch(key string, fn func(string)) (func(), error) {
	sub := &memSub{fn: fn}

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		sub.canceled = true
		b.mu.Unlock()
	}
	return cancel, nil
}

// Keys implements KeyLister.
func (b *MemBackend) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close implements Backend. Idempotent.
func (b *MemBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// SimulateExternalWrite stores raw under key and notifies watchers, as if a
// different process had written it.
func (b *MemBackend) SimulateExternalWrite(key, raw string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.data[key] = raw
	var fns []func(string)
	for _, sub := range b.subs[key] {
		if !sub.canceled {
			fns = append(fns, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}
