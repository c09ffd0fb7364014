package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileBackend stores one JSON document per key as a file in a data
// directory, and uses fsnotify to surface writes made by other processes.
//
// Writes go through a temp file plus rename so another process never reads a
// half-written snapshot. Own writes are fingerprinted by content: a
// filesystem event whose contents match our last write is our own echo and
// is dropped rather than delivered to watchers.
type FileBackend struct {
	dir     string
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	lastWrite map[string]string // key -> content of our most recent write
	fileKeys  map[string]string // file name -> key
	subs      map[string][]*fileSub
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

type fileSub struct {
	fn       func(string)
	canceled bool
}

// NewFileBackend creates the data directory if needed and starts watching it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	b := &FileBackend{
		dir:       dir,
		watcher:   watcher,
		lastWrite: make(map[string]string),
		fileKeys:  make(map[string]string),
		subs:      make(map[string][]*fileSub),
		done:      make(chan struct{}),
	}

	b.wg.Add(1)
	go b.watchEvents()

	return b, nil
}

// Get implements Backend.
func (b *FileBackend) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Backend. The write is atomic (temp file + rename).
func (b *FileBackend) Set(key, raw string) error {
	path := b.path(key)

	b.mu.Lock()
	b.fileKeys[filepath.Base(path)] = key
	b.lastWrite[key] = raw
	b.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(raw), 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	return nil
}

// Watch implements Backend.
func (b *FileBackend) Watch(key string, fn func(string)) (func(), error) {
	sub := &fileSub{fn: fn}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("backend is closed")
	}
	b.fileKeys[filepath.Base(b.path(key))] = key
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		sub.canceled = true
		b.mu.Unlock()
	}
	return cancel, nil
}

// Keys implements KeyLister. Keys written by another process are recovered
// from their file names, which round-trips exactly for the keys this
// application uses (sanitizeKey is the identity on them).
func (b *FileBackend) Keys() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if key, ok := b.fileKeys[name]; ok {
			keys = append(keys, key)
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// Close stops the watch loop and releases the fsnotify watcher. Idempotent.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.watcher.Close()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// watchEvents converts directory events into key notifications.
func (b *FileBackend) watchEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			b.handleChange(event.Name)

		case _, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are transient on every platform we run on;
			// the next event for the file re-delivers the state.
		}
	}
}

// handleChange reads the changed file and notifies watchers unless the
// contents match our own last write.
func (b *FileBackend) handleChange(path string) {
	b.mu.Lock()
	key, known := b.fileKeys[filepath.Base(path)]
	b.mu.Unlock()
	if !known {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	raw := string(data)

	b.mu.Lock()
	if raw == b.lastWrite[key] {
		b.mu.Unlock()
		return
	}
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

// path maps a key to its file. Keys are sanitized so arbitrary key strings
// cannot escape the data directory.
func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, sanitizeKey(key)+".json")
}

func sanitizeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
