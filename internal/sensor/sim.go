package sensor

import (
	"fmt"
	"sync"
	"time"
)

// SimDevice replays a scripted route with configurable latency. It stands in
// for real hardware in demos (`vt track --sim`) and in tests that need
// deterministic fixes.
type SimDevice struct {
	mu      sync.Mutex
	route   []Sample
	next    int
	latency time.Duration
	failAt  map[int]error // fix index -> injected failure
}

// NewSimDevice creates a simulator that serves the given route in order,
// wrapping around at the end.
func NewSimDevice(route []Sample, latency time.Duration) *SimDevice {
	if len(route) == 0 {
		route = []Sample{{Latitude: 28.4212, Longitude: 70.2989, Accuracy: 8}}
	}
	return &SimDevice{
		route:   route,
		latency: latency,
		failAt:  make(map[int]error),
	}
}

// FailFix injects an error for the n-th fix served (0-based).
func (d *SimDevice) FailFix(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("simulated fix failure")
	}
	d.failAt[n] = err
}

// RequestFix implements Device.
func (d *SimDevice) RequestFix(cfg Config, fn func(Sample, error)) {
	go func() {
		d.sleep()
		fn(d.take())
	}()
}

// WatchPosition implements Device. Fixes are delivered at the simulator's
// latency interval until the subscription is canceled.
func (d *SimDevice) WatchPosition(cfg Config, fn func(Sample, error)) Subscription {
	sub := &simSub{done: make(chan struct{})}

	go func() {
		interval := d.latency
		if interval <= 0 {
			interval = 50 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.done:
				return
			case <-ticker.C:
				fn(d.take())
			}
		}
	}()

	return sub
}

// take serves the next scripted fix or injected failure.
func (d *SimDevice) take() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.next
	d.next++

	if err, ok := d.failAt[n]; ok {
		return Sample{}, err
	}

	s := d.route[n%len(d.route)]
	s.CapturedAt = time.Now().UTC()
	return s, nil
}

func (d *SimDevice) sleep() {
	if d.latency > 0 {
		time.Sleep(d.latency)
	}
}

type simSub struct {
	once sync.Once
	done chan struct{}
}

// Cancel implements Subscription. Safe to call repeatedly.
func (s *simSub) Cancel() {
	s.once.Do(func() { close(s.done) })
}
