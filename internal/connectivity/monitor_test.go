package connectivity

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMonitor_OnOnlineFiresOncePerTransition(t *testing.T) {
	m := NewMonitor(nil, time.Hour, quietLogger())

	var mu sync.Mutex
	fired := 0
	m.OnOnline(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	m.SetOnline(true)
	m.SetOnline(true) // still online: no new edge
	m.SetOnline(false)
	m.SetOnline(true) // second edge

	mu.Lock()
	defer mu.Unlock()
	if fired != 2 {
		t.Errorf("OnOnline fired %d times, want 2", fired)
	}
}

func TestMonitor_GoingOfflineDoesNotFire(t *testing.T) {
	m := NewMonitor(nil, time.Hour, quietLogger())

	fired := 0
	m.OnOnline(func() { fired++ })

	m.SetOnline(false)
	if fired != 0 {
		t.Errorf("OnOnline fired %d times on a falling edge, want 0", fired)
	}
	if m.Online() {
		t.Error("Online() = true, want false")
	}
}

func TestMonitor_ProbeDrivesState(t *testing.T) {
	var mu sync.Mutex
	healthy := false

	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return fmt.Errorf("unreachable")
	}

	m := NewMonitor(probe, 20*time.Millisecond, quietLogger())

	up := make(chan struct{}, 1)
	m.OnOnline(func() {
		select {
		case up <- struct{}{}:
		default:
		}
	})

	m.Start()
	defer m.Stop()

	if m.Online() {
		t.Error("monitor online before any successful probe")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never observed the server coming up")
	}
	if !m.Online() {
		t.Error("Online() = false after successful probe")
	}
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "healthy endpoint", url: healthy.URL, wantErr: false},
		{name: "error status", url: broken.URL, wantErr: true},
		{name: "unreachable", url: "http://127.0.0.1:1/health", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HTTPProbe(tt.url)(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("probe error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
