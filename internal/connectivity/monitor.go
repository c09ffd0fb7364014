// Package connectivity tracks whether the sync server is currently
// reachable.
//
// The monitor is the staging layer's connectivity signal: Online is read at
// mutation time, and OnOnline callbacks fire once per offline-to-online
// transition to trigger reconciliation. Reachability is established by
// probing, not by listening to OS interface state, because a cell link that
// is "up" but cannot reach the server is offline for our purposes.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the monitor re-probes.
const DefaultProbeInterval = 15 * time.Second

// ProbeFunc reports nil when the server is reachable.
type ProbeFunc func(ctx context.Context) error

// HTTPProbe probes an HTTP health endpoint.
func HTTPProbe(url string) ProbeFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("bad probe url: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}

// Monitor polls a probe and surfaces online/offline state.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	onUp   []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. The initial state is offline until the
// first successful probe.
func NewMonitor(probe ProbeFunc, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Online reports the current belief about connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers fn to run on every offline-to-online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUp = append(m.onUp, fn)
}

// Start probes immediately, then on every interval tick, until Stop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probeOnce()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.probeOnce()
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// SetOnline forces the state, firing transition callbacks the same way a
// probe result would. Used when reachability is learned out of band (a push
// just succeeded, a request just failed).
func (m *Monitor) SetOnline(online bool) {
	m.apply(online)
}

func (m *Monitor) probeOnce() {
	if m.probe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	err := m.probe(ctx)
	cancel()
	m.apply(err == nil)
}

// apply records the new state and fires OnOnline callbacks on the rising
// edge only.
func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	var fns []func()
	if online && !wasOnline {
		fns = make([]func(), len(m.onUp))
		copy(fns, m.onUp)
	}
	m.mu.Unlock()

	if online != wasOnline {
		if online {
			m.logger.Printf("connectivity regained")
		} else {
			m.logger.Printf("connectivity lost")
		}
	}
	for _, fn := range fns {
		fn()
	}
}
