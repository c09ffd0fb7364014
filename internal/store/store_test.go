package store

import (
	"fmt"
	"io"
	"log"
	"reflect"
	"testing"
)

type testRecord struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newMemStore(t *testing.T) (*Store, *MemBackend) {
	t.Helper()
	backend := NewMemBackend()
	return New(backend, quietLogger()), backend
}

func TestReadWrite_RoundTrip(t *testing.T) {
	s, _ := newMemStore(t)

	tests := []struct {
		name  string
		key   string
		value []testRecord
	}{
		{
			name: "single record",
			key:  "sessions",
			value: []testRecord{
				{ID: "a", Name: "Basti Ahmed Khan", Count: 12, Tags: []string{"session"}},
			},
		},
		{
			name: "multiple records preserve order",
			key:  "screenings",
			value: []testRecord{
				{ID: "c", Name: "third"},
				{ID: "a", Name: "first"},
				{ID: "b", Name: "second"},
			},
		},
		{
			name:  "empty collection",
			key:   "empty",
			value: []testRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Write(s, tt.key, tt.value)

			got := Read(s, tt.key, []testRecord{{ID: "default"}})
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("Read() = %+v, want %+v", got, tt.value)
			}
		})
	}
}

func TestRead_MissingKeyReturnsDefault(t *testing.T) {
	s, backend := newMemStore(t)

	def := []testRecord{{ID: "fallback"}}
	got := Read(s, "never-written", def)
	if !reflect.DeepEqual(got, def) {
		t.Errorf("Read() = %+v, want default %+v", got, def)
	}

	// Lazy: the default must not be written back.
	if _, ok, _ := backend.Get("never-written"); ok {
		t.Error("default was written back to the backend")
	}
}

func TestRead_CorruptValueReturnsDefault(t *testing.T) {
	s, backend := newMemStore(t)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "{{{not json"},
		{name: "wrong shape", raw: `{"object":"not an array"}`},
		{name: "empty string", raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := backend.Set("k", tt.raw); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			def := []testRecord{{ID: "d"}}
			got := Read(s, "k", def)
			if !reflect.DeepEqual(got, def) {
				t.Errorf("Read() = %+v, want default %+v", got, def)
			}
		})
	}
}

// failingBackend rejects all writes.
type failingBackend struct {
	*MemBackend
}

func (b *failingBackend) Set(key, raw string) error {
	return fmt.Errorf("quota exceeded")
}

func TestValue_FailedWriteLeavesMemoryUnchanged(t *testing.T) {
	backend := &failingBackend{MemBackend: NewMemBackend()}
	s := New(backend, quietLogger())

	v := NewValue(s, "k", []testRecord{{ID: "initial"}})
	defer v.Close()

	v.Set([]testRecord{{ID: "replacement"}})

	got := v.Get()
	if len(got) != 1 || got[0].ID != "initial" {
		t.Errorf("in-memory copy changed after failed write: %+v", got)
	}
}

func TestValue_SetUpdatesMemoryAndBackend(t *testing.T) {
	s, backend := newMemStore(t)

	v := NewValue(s, "k", []testRecord(nil))
	defer v.Close()

	want := []testRecord{{ID: "x", Count: 3}}
	v.Set(want)

	if got := v.Get(); !reflect.DeepEqual(got, want) {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if raw, ok, _ := backend.Get("k"); !ok || raw == "" {
		t.Error("value was not persisted")
	}
}

func TestValue_ExternalWriteReplacesCopyAndNotifies(t *testing.T) {
	s, backend := newMemStore(t)

	v := NewValue(s, "k", []testRecord{{ID: "local"}})
	defer v.Close()

	var notified [][]testRecord
	v.OnChange(func(recs []testRecord) {
		notified = append(notified, recs)
	})

	backend.SimulateExternalWrite("k", `[{"id":"remote","name":"other tab","count":1}]`)

	got := v.Get()
	if len(got) != 1 || got[0].ID != "remote" {
		t.Errorf("external write did not replace in-memory copy: %+v", got)
	}
	if len(notified) != 1 {
		t.Fatalf("OnChange fired %d times, want 1", len(notified))
	}
}

func TestValue_OwnWriteDoesNotNotify(t *testing.T) {
	s, _ := newMemStore(t)

	v := NewValue(s, "k", []testRecord(nil))
	defer v.Close()

	fired := 0
	v.OnChange(func([]testRecord) { fired++ })

	v.Set([]testRecord{{ID: "a"}})
	v.Set([]testRecord{{ID: "a"}, {ID: "b"}})

	if fired != 0 {
		t.Errorf("OnChange fired %d times for own writes, want 0", fired)
	}
}

func TestValue_CorruptExternalWriteIsIgnored(t *testing.T) {
	s, backend := newMemStore(t)

	v := NewValue(s, "k", []testRecord{{ID: "keep"}})
	defer v.Close()

	backend.SimulateExternalWrite("k", "{{{garbage")

	got := v.Get()
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("corrupt external write replaced in-memory copy: %+v", got)
	}
}

func TestValue_CloseIsIdempotent(t *testing.T) {
	s, backend := newMemStore(t)

	v := NewValue(s, "k", []testRecord(nil))
	v.Close()
	v.Close() // must not panic or error

	fired := 0
	v.OnChange(func([]testRecord) { fired++ })
	backend.SimulateExternalWrite("k", `[{"id":"late"}]`)
	if fired != 0 {
		t.Errorf("closed value still received %d notifications", fired)
	}
}
