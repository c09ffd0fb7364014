package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kv.db")
	backend, err := OpenSQLiteWithPoll(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestSQLiteBackend_SetGetRoundTrip(t *testing.T) {
	backend := openTestSQLite(t)

	tests := []struct {
		name string
		key  string
		raw  string
	}{
		{name: "array", key: "sessions", raw: `[{"id":"a"},{"id":"b"}]`},
		{name: "overwrite", key: "sessions", raw: `[{"id":"c"}]`},
		{name: "scalar", key: "device-name", raw: `"unit-7"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := backend.Set(tt.key, tt.raw); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			raw, ok, err := backend.Get(tt.key)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !ok || raw != tt.raw {
				t.Errorf("Get() = %q, %v, want %q", raw, ok, tt.raw)
			}
		})
	}
}

func TestSQLiteBackend_GetMissingKey(t *testing.T) {
	backend := openTestSQLite(t)

	_, ok, err := backend.Get("absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Get reported a value for a key never written")
	}
}

func TestSQLiteBackend_WatchSeesForeignWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	local, err := OpenSQLiteWithPoll(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	defer local.Close()

	// A second backend over the same file plays the role of another process.
	foreign, err := OpenSQLiteWithPoll(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("open foreign: %v", err)
	}
	defer foreign.Close()

	var mu sync.Mutex
	var got []string
	cancel, err := local.Watch("sessions", func(raw string) {
		mu.Lock()
		got = append(got, raw)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	if err := foreign.Set("sessions", `[{"id":"remote"}]`); err != nil {
		t.Fatalf("foreign Set failed: %v", err)
	}

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == `[{"id":"remote"}]`
	}, "watcher never observed the foreign write")
}

func TestSQLiteBackend_WatchIgnoresOwnWrite(t *testing.T) {
	backend := openTestSQLite(t)

	var mu sync.Mutex
	fired := 0
	cancel, err := backend.Watch("sessions", func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer cancel()

	if err := backend.Set("sessions", `[{"id":"mine"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Several poll intervals in which the echo could wrongly surface.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Errorf("watcher fired %d times for our own write, want 0", fired)
	}
}
