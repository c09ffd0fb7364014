// Package staging holds captured records durably on the device and pushes
// them to the sync server when connectivity allows.
//
// A Stage owns the ordered collection under one store key. Every mutation
// persists the full current snapshot (never a delta), then attempts an
// opportunistic push: only when the connectivity signal currently reads
// online, and always with the whole collection. Push failures are logged and
// swallowed - a failed network call must never block capture or surface to
// the field worker. There is no retry queue and no backoff; the next
// mutation or the next offline-to-online transition is the only retry.
package staging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/store"
)

// SyncFunc pushes the full collection snapshot to the remote authority.
type SyncFunc[T any] func(ctx context.Context, records []T) error

// DefaultSyncTimeout bounds a single push attempt.
const DefaultSyncTimeout = 30 * time.Second

// Options configures a Stage.
type Options[T any] struct {
	// Key is the store key the collection persists under.
	Key string

	// Identity extracts the stable identifier used by Update and Remove.
	Identity func(T) string

	// Sync is the injected remote-push capability. Nil disables pushing
	// entirely (capture-only mode).
	Sync SyncFunc[T]

	// Online reports whether connectivity is currently believed available.
	// It is read at mutation time. Nil is treated as never online.
	Online func() bool

	// SyncTimeout bounds one push attempt. Zero uses DefaultSyncTimeout.
	SyncTimeout time.Duration

	// Logger for push outcomes. Nil uses a stderr logger.
	Logger *log.Logger
}

// Stage is the staged collection synchronizer for one record type.
type Stage[T any] struct {
	key      string
	identity func(T) string
	sync     SyncFunc[T]
	online   func() bool
	timeout  time.Duration
	logger   *log.Logger

	val *store.Value[[]T]

	mu sync.Mutex // serializes read-modify-write on the collection
	wg sync.WaitGroup
}

// New creates a Stage over the given store.
func New[T any](s *store.Store, opts Options[T]) (*Stage[T], error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity func cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[stage] ", log.LstdFlags)
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.Online == nil {
		opts.Online = func() bool { return false }
	}

	return &Stage[T]{
		key:      opts.Key,
		identity: opts.Identity,
		sync:     opts.Sync,
		online:   opts.Online,
		timeout:  opts.SyncTimeout,
		logger:   opts.Logger,
		val:      store.NewValue(s, opts.Key, []T(nil)),
	}, nil
}

// Name returns the collection's store key.
func (st *Stage[T]) Name() string {
	return st.key
}

// Records returns a copy of the current collection, in capture order.
func (st *Stage[T]) Records() []T {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot()
}

// Pending returns the number of staged records.
func (st *Stage[T]) Pending() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.val.Get())
}

// Add appends rec to the collection, persists the new snapshot, and pushes
// it when online. The mutation succeeds regardless of the push outcome.
func (st *Stage[T]) Add(rec T) {
	st.mu.Lock()
	recs := append(st.snapshot(), rec)
	st.val.Set(recs)
	st.mu.Unlock()

	st.pushIfOnline(recs)
}

// Update replaces the first record whose identity matches rec's. When no
// record matches, the collection content is unchanged; the snapshot is still
// persisted and pushed the same as Add.
func (st *Stage[T]) Update(rec T) {
	id := st.identity(rec)

	st.mu.Lock()
	recs := st.snapshot()
	for i := range recs {
		if st.identity(recs[i]) == id {
			recs[i] = rec
			break
		}
	}
	st.val.Set(recs)
	st.mu.Unlock()

	st.pushIfOnline(recs)
}

// Remove filters out the record with the given identity. Removing an absent
// identity is a no-op on content, so Remove is idempotent.
func (st *Stage[T]) Remove(id string) {
	st.mu.Lock()
	recs := st.snapshot()
	kept := recs[:0]
	for _, r := range recs {
		if st.identity(r) != id {
			kept = append(kept, r)
		}
	}
	recs = kept
	st.val.Set(recs)
	st.mu.Unlock()

	st.pushIfOnline(recs)
}

// Reconcile pushes the full collection once. The connectivity monitor calls
// it on each offline-to-online transition; every previously staged mutation,
// including ones whose own push already failed, is retried wholesale in this
// single call.
//
// The push carries no idempotence key or version, so two devices
// reconnecting at the same moment can overwrite each other on the server
// (last write wins). Known gap, kept until the remote semantics grow a
// compare-and-swap.
func (st *Stage[T]) Reconcile() {
	st.mu.Lock()
	recs := st.snapshot()
	st.mu.Unlock()

	if len(recs) == 0 {
		return
	}
	st.push(recs)
}

// OnChange registers fn to run when another process replaces the persisted
// collection. The Stage's own mutations do not fire it.
func (st *Stage[T]) OnChange(fn func([]T)) {
	st.val.OnChange(fn)
}

// Close releases the store subscription and waits for in-flight pushes.
func (st *Stage[T]) Close() {
	st.val.Close()
	st.wg.Wait()
}

// snapshot copies the current collection. Callers hold st.mu.
func (st *Stage[T]) snapshot() []T {
	cur := st.val.Get()
	recs := make([]T, len(cur))
	copy(recs, cur)
	return recs
}

func (st *Stage[T]) pushIfOnline(recs []T) {
	if !st.online() {
		return
	}
	st.push(recs)
}

// push attempts one asynchronous sync of the given snapshot. The caller is
// never blocked on, or notified of, the outcome.
func (st *Stage[T]) push(recs []T) {
	if st.sync == nil {
		return
	}

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), st.timeout)
		defer cancel()

		if err := st.sync(ctx, recs); err != nil {
			st.logger.Printf("push of %d record(s) under %q failed: %v", len(recs), st.key, err)
			return
		}
		st.logger.Printf("pushed %d record(s) under %q", len(recs), st.key)
	}()
}
