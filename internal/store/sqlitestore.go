package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultPollInterval is how often the sqlite backend checks for writes by
// other processes.
const DefaultPollInterval = 250 * time.Millisecond

// SQLiteBackend stores key-value pairs in an embedded SQLite database.
//
// The database is opened in WAL mode so a sync server and a capture client
// on the same host can share it. External changes are detected by polling a
// per-row version counter; a version bump whose value matches our own last
// write is our echo and is not delivered.
type SQLiteBackend struct {
	conn      *sql.DB
	path      string
	pollEvery time.Duration

	mu        sync.Mutex
	lastWrite map[string]string
	seen      map[string]int64 // key -> last observed version
	subs      map[string][]*sqliteSub
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

type sqliteSub struct {
	fn       func(string)
	canceled bool
}

// OpenSQLite opens (creating if needed) the key-value database at path.
//
// The caller MUST call Close when done so the WAL is checkpointed.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	return OpenSQLiteWithPoll(path, DefaultPollInterval)
}

// OpenSQLiteWithPoll opens the database with a custom external-change poll
// interval.
func OpenSQLiteWithPoll(path string, pollEvery time.Duration) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if pollEvery <= 0 {
		pollEvery = DefaultPollInterval
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	b := &SQLiteBackend{
		conn:      conn,
		path:      path,
		pollEvery: pollEvery,
		lastWrite: make(map[string]string),
		seen:      make(map[string]int64),
		subs:      make(map[string][]*sqliteSub),
		done:      make(chan struct{}),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);`
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b.wg.Add(1)
	go b.pollLoop()

	return b, nil
}

// Get implements Backend.
func (b *SQLiteBackend) Get(key string) (string, bool, error) {
	var raw string
	err := b.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return raw, true, nil
}

// Set implements Backend.
func (b *SQLiteBackend) Set(key, raw string) error {
	b.mu.Lock()
	b.lastWrite[key] = raw
	b.mu.Unlock()

	_, err := b.conn.Exec(`
		INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = kv.version + 1,
			updated_at = excluded.updated_at`,
		key, raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to persist %q: %w", key, err)
	}
	return nil
}

// Watch implements Backend. The current version is taken as the baseline so
// only writes after the registration are delivered.
func (b *SQLiteBackend) Watch(key string, fn func(string)) (func(), error) {
	var version int64
	err := b.conn.QueryRow("SELECT version FROM kv WHERE key = ?", key).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read version for %q: %w", key, err)
	}

	sub := &sqliteSub{fn: fn}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("backend is closed")
	}
	if _, ok := b.seen[key]; !ok {
		b.seen[key] = version
	}
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
func (b *SQLiteBackend) Keys() ([]string, error) {
	rows, err := b.conn.Query("SELECT key FROM kv")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Close stops polling and closes the database. Idempotent.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	if _, err := b.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// pollLoop checks watched keys for version bumps made by other processes.
func (b *SQLiteBackend) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *SQLiteBackend) pollOnce() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.seen))
	for key := range b.seen {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		var raw string
		var version int64
		err := b.conn.QueryRow("SELECT value, version FROM kv WHERE key = ?", key).Scan(&raw, &version)
		if err != nil {
			continue
		}

		b.mu.Lock()
		if version == b.seen[key] {
			b.mu.Unlock()
			continue
		}
		b.seen[key] = version
		if raw == b.lastWrite[key] {
			b.mu.Unlock()
			continue
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
}
