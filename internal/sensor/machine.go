// Package sensor manages an unreliable, asynchronous location sensor behind
// an explicit acquisition state machine.
//
// The machine exists so capture never blocks on sensor latency: requests are
// fire-and-forget, results arrive through callbacks, and the caller reads a
// consistent snapshot whenever it wants one. Every lifecycle combination the
// old boolean-flag approach allowed (tracking and paused at once, error and
// live subscription at once) is unrepresentable here; the phase tag is the
// single source of truth.
package sensor

import (
	"log"
	"os"
	"sync"
)

// Phase is the acquisition state tag.
type Phase int

const (
	// PhaseIdle is the initial state, before the first request.
	PhaseIdle Phase = iota
	// PhaseAwaitingFix means a fix request is in flight.
	PhaseAwaitingFix
	// PhaseTracking means the last fix succeeded; in continuous mode a
	// standing subscription is delivering further fixes.
	PhaseTracking
	// PhasePaused means tracking was suspended; the last sample is kept.
	PhasePaused
	// PhaseErrored means the last fix attempt failed. Not terminal: any
	// new request clears it.
	PhaseErrored
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingFix:
		return "awaiting-fix"
	case PhaseTracking:
		return "tracking"
	case PhasePaused:
		return "paused"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrUnavailable is the fixed message reported when the host has no
// location sensor capability at all.
const ErrUnavailable = "location sensor is not available on this device"

// Session is a point-in-time snapshot of the machine.
type Session struct {
	Phase  Phase
	Sample *Sample // last successful fix, nil before the first
	Err    string  // human-readable message, empty unless PhaseErrored
}

// Machine drives one location sensor through its acquisition lifecycle.
//
// All methods return immediately; fix results arrive on the device's
// delivery goroutine and are guarded by a generation counter, so a fix that
// lands after PauseTracking or Close is dropped instead of mutating state.
type Machine struct {
	dev    Device
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	phase  Phase
	sample *Sample
	errMsg string
	sub    Subscription
	gen    uint64
	closed bool
	notify func(Session)
}

// NewMachine creates a machine and immediately requests a first fix, the
// same way the capture screen wants a position without any user action.
//
// dev may be nil when the host has no sensor; every request then reports
// ErrUnavailable without touching the capability.
func NewMachine(dev Device, cfg Config, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sensor] ", log.LstdFlags)
	}
	m := &Machine{
		dev:    dev,
		cfg:    cfg,
		logger: logger,
		phase:  PhaseIdle,
	}
	m.RequestSingleFix()
	return m
}

// OnUpdate registers fn to run with a snapshot after every state change.
// Intended for live views; fn runs outside the machine lock.
func (m *Machine) OnUpdate(fn func(Session)) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// Session returns the current snapshot.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked()
}

// RequestSingleFix issues one asynchronous fix request with the current
// configuration. Allowed from any phase; clears a previous error.
func (m *Machine) RequestSingleFix() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.dev == nil {
		m.toErroredLocked(ErrUnavailable)
		snap, fn := m.sessionLocked(), m.notify
		m.mu.Unlock()
		emit(fn, snap)
		return
	}

	m.gen++
	gen := m.gen
	m.phase = PhaseAwaitingFix
	m.errMsg = ""
	snap, fn := m.sessionLocked(), m.notify
	m.mu.Unlock()
	emit(fn, snap)

	m.dev.RequestFix(m.cfg, func(s Sample, err error) {
		m.deliver(gen, s, err)
	})
}

// StartTracking begins continuous tracking when the configuration asks for
// it, opening a standing subscription that keeps delivering fixes until
// paused or closed. Without continuous mode it behaves as one
// RequestSingleFix. Also used to resume from PhasePaused.
func (m *Machine) StartTracking() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.cfg.Continuous {
		m.mu.Unlock()
		m.RequestSingleFix()
		return
	}
	if m.dev == nil {
		m.toErroredLocked(ErrUnavailable)
		snap, fn := m.sessionLocked(), m.notify
		m.mu.Unlock()
		emit(fn, snap)
		return
	}

	// Replace any standing subscription rather than stacking a second one.
	old := m.sub
	m.sub = nil
	m.gen++
	gen := m.gen
	m.phase = PhaseAwaitingFix
	m.errMsg = ""
	snap, fn := m.sessionLocked(), m.notify
	m.mu.Unlock()
	emit(fn, snap)

	if old != nil {
		old.Cancel()
	}

	sub := m.dev.WatchPosition(m.cfg, func(s Sample, err error) {
		m.deliver(gen, s, err)
	})

	m.mu.Lock()
	if m.closed || gen != m.gen {
		// Paused or closed while the subscription was being opened.
		m.mu.Unlock()
		sub.Cancel()
		return
	}
	m.sub = sub
	m.mu.Unlock()
}

// PauseTracking cancels any standing subscription and parks the machine in
// PhasePaused, keeping the last known sample. Pausing a machine that is not
// tracking is harmless.
func (m *Machine) PauseTracking() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sub := m.sub
	m.sub = nil
	m.gen++ // kills in-flight deliveries
	m.phase = PhasePaused
	snap, fn := m.sessionLocked(), m.notify
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	emit(fn, snap)
}

// Close releases the machine: any subscription is canceled and all later
// events and method calls become no-ops. Idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sub := m.sub
	m.sub = nil
	m.gen++
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// deliver applies one fix result, unless the machine moved on (gen mismatch)
// or was closed since the request was issued.
func (m *Machine) deliver(gen uint64, s Sample, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}

	if err != nil {
		m.toErroredLocked(err.Error())
	} else {
		sample := s
		m.sample = &sample
		m.errMsg = ""
		m.phase = PhaseTracking
	}
	snap, fn := m.sessionLocked(), m.notify
	m.mu.Unlock()

	if err != nil {
		m.logger.Printf("fix failed: %v", err)
	}
	emit(fn, snap)
}

// toErroredLocked enters PhaseErrored. Callers hold m.mu.
func (m *Machine) toErroredLocked(msg string) {
	m.phase = PhaseErrored
	m.errMsg = msg
}

// sessionLocked snapshots state. Callers hold m.mu.
func (m *Machine) sessionLocked() Session {
	snap := Session{Phase: m.phase, Err: m.errMsg}
	if m.sample != nil {
		sample := *m.sample
		snap.Sample = &sample
	}
	return snap
}

func emit(fn func(Session), snap Session) {
	if fn != nil {
		fn(snap)
	}
}
