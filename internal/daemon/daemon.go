// Package daemon provides the background sync daemon for a capture device.
//
// The daemon:
// 1. Watches connectivity to the field sync server
// 2. Reconciles staged collections on every reconnect
// 3. Periodically logs pending-record status
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/connectivity"
)

// Reconciler is one staged collection the daemon drives. The staging layer's
// Stage satisfies it.
type Reconciler interface {
	// Name identifies the collection in logs.
	Name() string

	// Pending reports how many records are staged locally.
	Pending() int

	// Reconcile pushes the staged snapshot if there is one.
	Reconcile()
}

// Config holds configuration for the daemon.
type Config struct {
	// StatusInterval is how often to log pending-record counts
	StatusInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StatusInterval: 60 * time.Second,
		Logger:         log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon ties the connectivity monitor to the staged collections.
type Daemon struct {
	monitor     *connectivity.Monitor
	reconcilers []Reconciler
	config      *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - monitor: connectivity monitor for the sync server
//   - reconcilers: the staged collections to reconcile on reconnect
//
// Use Start() to begin monitoring and reconciling.
func New(monitor *connectivity.Monitor, reconcilers ...Reconciler) (*Daemon, error) {
	return NewWithConfig(monitor, DefaultConfig(), reconcilers...)
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(monitor *connectivity.Monitor, config *Config, reconcilers ...Reconciler) (*Daemon, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if len(reconcilers) == 0 {
		return nil, fmt.Errorf("at least one collection is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		monitor:     monitor,
		reconcilers: reconcilers,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Register reconnect reconciliation with the connectivity monitor
// 2. Start the monitor's probe loop
// 3. Periodically log pending-record status
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.monitor.OnOnline(d.reconcileAll)
	d.monitor.Start()

	d.wg.Add(1)
	go d.statusLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	d.monitor.Stop()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// reconcileAll runs on every offline-to-online transition. Each collection
// pushes at most once per transition; failures are the staging layer's to log.
func (d *Daemon) reconcileAll() {
	for _, r := range d.reconcilers {
		if n := r.Pending(); n > 0 {
			d.config.Logger.Printf("Reconciling %d pending record(s) in %s", n, r.Name())
		}
		r.Reconcile()
	}
}

// statusLoop periodically logs how much data is waiting on the device.
func (d *Daemon) statusLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.logStatus()
		}
	}
}

func (d *Daemon) logStatus() {
	total := 0
	for _, r := range d.reconcilers {
		total += r.Pending()
	}
	state := "offline"
	if d.monitor.Online() {
		state = "online"
	}
	d.config.Logger.Printf("Status: %s, %d record(s) staged", state, total)
}
