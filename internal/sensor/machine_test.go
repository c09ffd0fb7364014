package sensor

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// fakeDevice lets tests deliver fix results by hand.
type fakeDevice struct {
	mu       sync.Mutex
	fixFns   []func(Sample, error)
	watchFns []func(Sample, error)
	subs     []*fakeSub
}

type fakeSub struct {
	mu       sync.Mutex
	canceled int
}

func (s *fakeSub) Cancel() {
	s.mu.Lock()
	s.canceled++
	s.mu.Unlock()
}

func (s *fakeSub) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (d *fakeDevice) RequestFix(_ Config, fn func(Sample, error)) {
	d.mu.Lock()
	d.fixFns = append(d.fixFns, fn)
	d.mu.Unlock()
}

func (d *fakeDevice) WatchPosition(_ Config, fn func(Sample, error)) Subscription {
	sub := &fakeSub{}
	d.mu.Lock()
	d.watchFns = append(d.watchFns, fn)
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return sub
}

func (d *fakeDevice) fixCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fixFns)
}

func (d *fakeDevice) watchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchFns)
}

// deliverFix completes the n-th single-fix request.
func (d *fakeDevice) deliverFix(t *testing.T, n int, s Sample, err error) {
	t.Helper()
	d.mu.Lock()
	if n >= len(d.fixFns) {
		d.mu.Unlock()
		t.Fatalf("no fix request %d to deliver", n)
	}
	fn := d.fixFns[n]
	d.mu.Unlock()
	fn(s, err)
}

// deliverWatch pushes one event through the latest subscription callback.
func (d *fakeDevice) deliverWatch(t *testing.T, s Sample, err error) {
	t.Helper()
	d.mu.Lock()
	if len(d.watchFns) == 0 {
		d.mu.Unlock()
		t.Fatal("no subscription to deliver on")
	}
	fn := d.watchFns[len(d.watchFns)-1]
	d.mu.Unlock()
	fn(s, err)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testSample(lat float64) Sample {
	return Sample{Latitude: lat, Longitude: 70.3, Accuracy: 5, CapturedAt: time.Now().UTC()}
}

func TestMachine_AutoStartsFirstFix(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	if got := m.Session().Phase; got != PhaseAwaitingFix {
		t.Errorf("Phase = %v, want %v", got, PhaseAwaitingFix)
	}
	if n := dev.fixCount(); n != 1 {
		t.Errorf("device saw %d fix requests at mount, want 1", n)
	}
}

func TestMachine_FixSuccessEntersTracking(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	dev.deliverFix(t, 0, testSample(28.42), nil)

	snap := m.Session()
	if snap.Phase != PhaseTracking {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseTracking)
	}
	if snap.Sample == nil || snap.Sample.Latitude != 28.42 {
		t.Errorf("Sample = %+v, want the delivered fix", snap.Sample)
	}
	if snap.Err != "" {
		t.Errorf("Err = %q, want empty", snap.Err)
	}
}

func TestMachine_FixFailureEntersErrored(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	dev.deliverFix(t, 0, Sample{}, fmt.Errorf("fix timed out after 10s"))

	snap := m.Session()
	if snap.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseErrored)
	}
	if snap.Err != "fix timed out after 10s" {
		t.Errorf("Err = %q", snap.Err)
	}
}

func TestMachine_NewRequestClearsError(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	dev.deliverFix(t, 0, Sample{}, fmt.Errorf("boom"))

	m.RequestSingleFix()

	snap := m.Session()
	if snap.Phase != PhaseAwaitingFix {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseAwaitingFix)
	}
	if snap.Err != "" {
		t.Errorf("Err = %q, want cleared", snap.Err)
	}
}

func TestMachine_NilDeviceReportsUnavailable(t *testing.T) {
	m := NewMachine(nil, Config{Continuous: true}, quietLogger())
	defer m.Close()

	snap := m.Session()
	if snap.Phase != PhaseErrored {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseErrored)
	}
	if snap.Err != ErrUnavailable {
		t.Errorf("Err = %q, want %q", snap.Err, ErrUnavailable)
	}

	// Every further request keeps reporting the fixed message, still with
	// zero capability calls (there is no capability to call).
	m.RequestSingleFix()
	m.StartTracking()
	if snap := m.Session(); snap.Phase != PhaseErrored || snap.Err != ErrUnavailable {
		t.Errorf("Session() = %+v after requests on absent sensor", snap)
	}
}

func TestMachine_ContinuousTrackingLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{Continuous: true}, quietLogger())
	defer m.Close()

	// Complete the automatic first fix.
	dev.deliverFix(t, 0, testSample(28.0), nil)

	m.StartTracking()
	if n := dev.watchCount(); n != 1 {
		t.Fatalf("device saw %d watch requests, want 1", n)
	}
	if got := m.Session().Phase; got != PhaseAwaitingFix {
		t.Errorf("Phase = %v after StartTracking, want %v", got, PhaseAwaitingFix)
	}

	dev.deliverWatch(t, testSample(28.1), nil)
	if snap := m.Session(); snap.Phase != PhaseTracking || snap.Sample.Latitude != 28.1 {
		t.Errorf("Session() = %+v after first watch fix", snap)
	}

	// Repeated fixes keep updating the sample.
	dev.deliverWatch(t, testSample(28.2), nil)
	if snap := m.Session(); snap.Sample.Latitude != 28.2 {
		t.Errorf("Sample.Latitude = %v, want 28.2", snap.Sample.Latitude)
	}
}

func TestMachine_PauseReleasesSubscription(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{Continuous: true}, quietLogger())
	defer m.Close()

	dev.deliverFix(t, 0, testSample(28.0), nil)
	m.StartTracking()
	dev.deliverWatch(t, testSample(28.5), nil)

	m.PauseTracking()

	if got := m.Session().Phase; got != PhasePaused {
		t.Errorf("Phase = %v, want %v", got, PhasePaused)
	}
	if n := dev.subs[0].cancelCount(); n == 0 {
		t.Error("subscription was not canceled on pause")
	}

	// A fix that slips through after pause must not mutate state.
	dev.deliverWatch(t, testSample(99.9), nil)
	snap := m.Session()
	if snap.Phase != PhasePaused {
		t.Errorf("Phase = %v after dead-subscription fix, want %v", snap.Phase, PhasePaused)
	}
	if snap.Sample.Latitude != 28.5 {
		t.Errorf("Sample.Latitude = %v, want retained 28.5", snap.Sample.Latitude)
	}
}

func TestMachine_ResumeAfterPause(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{Continuous: true}, quietLogger())
	defer m.Close()

	dev.deliverFix(t, 0, testSample(28.0), nil)
	m.StartTracking()
	m.PauseTracking()

	m.StartTracking()
	if n := dev.watchCount(); n != 2 {
		t.Fatalf("device saw %d watch requests after resume, want 2", n)
	}

	dev.deliverWatch(t, testSample(29.0), nil)
	if snap := m.Session(); snap.Phase != PhaseTracking || snap.Sample.Latitude != 29.0 {
		t.Errorf("Session() = %+v after resume fix", snap)
	}
}

func TestMachine_StartTrackingWithoutContinuousIsSingleFix(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{Continuous: false}, quietLogger())
	defer m.Close()

	m.StartTracking()

	if n := dev.watchCount(); n != 0 {
		t.Errorf("device saw %d watch requests, want 0", n)
	}
	if n := dev.fixCount(); n != 2 {
		t.Errorf("device saw %d fix requests, want 2 (mount + start)", n)
	}
}

func TestMachine_StaleSingleFixIsDropped(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	// Second request supersedes the first before it completes.
	m.RequestSingleFix()

	dev.deliverFix(t, 0, testSample(11.1), nil)
	if snap := m.Session(); snap.Phase != PhaseAwaitingFix || snap.Sample != nil {
		t.Errorf("stale fix mutated state: %+v", snap)
	}

	dev.deliverFix(t, 1, testSample(22.2), nil)
	if snap := m.Session(); snap.Phase != PhaseTracking || snap.Sample.Latitude != 22.2 {
		t.Errorf("Session() = %+v, want the current request's fix", snap)
	}
}

func TestMachine_CloseIsIdempotentAndFinal(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{Continuous: true}, quietLogger())

	dev.deliverFix(t, 0, testSample(28.0), nil)
	m.StartTracking()

	m.Close()
	m.Close() // must not panic

	if n := dev.subs[0].cancelCount(); n == 0 {
		t.Error("subscription was not canceled on close")
	}

	before := m.Session()
	dev.deliverWatch(t, testSample(50.0), nil)
	m.RequestSingleFix()
	after := m.Session()

	if before.Phase != after.Phase || (after.Sample != nil && after.Sample.Latitude == 50.0) {
		t.Errorf("closed machine mutated: %+v -> %+v", before, after)
	}
	if n := dev.fixCount(); n != 1 {
		t.Errorf("closed machine issued new fix requests: %d", n)
	}
}

func TestMachine_OnUpdateObservesTransitions(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMachine(dev, Config{}, quietLogger())
	defer m.Close()

	var mu sync.Mutex
	var phases []Phase
	m.OnUpdate(func(s Session) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	m.RequestSingleFix()
	dev.deliverFix(t, 1, testSample(28.0), nil)

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseAwaitingFix, PhaseTracking}
	if len(phases) != len(want) {
		t.Fatalf("observed %d transitions (%v), want %v", len(phases), phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, phases[i], want[i])
		}
	}
}

func TestSimDevice_ServesRouteAndFailures(t *testing.T) {
	route := []Sample{{Latitude: 1}, {Latitude: 2}}
	dev := NewSimDevice(route, 0)
	dev.FailFix(1, fmt.Errorf("canyon shadow"))

	results := make(chan error, 2)
	var first Sample
	dev.RequestFix(Config{}, func(s Sample, err error) {
		first = s
		results <- err
	})
	if err := <-results; err != nil {
		t.Fatalf("first fix failed: %v", err)
	}
	if first.Latitude != 1 {
		t.Errorf("first fix latitude = %v, want 1", first.Latitude)
	}

	dev.RequestFix(Config{}, func(_ Sample, err error) { results <- err })
	if err := <-results; err == nil {
		t.Error("injected failure was not served")
	}
}
