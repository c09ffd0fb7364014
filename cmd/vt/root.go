package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/config"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/connectivity"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/record"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/remote"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/sensor"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/staging"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/store"
)

// Store keys for the staged collections.
const (
	keySessions   = "sessions"
	keyScreenings = "screenings"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vt",
	Short: "Village field-tracking console",
	Long: `vt captures awareness sessions and child health screenings in the
field, keeps them durably on the device, and syncs them to the field
sync server whenever connectivity allows.

Capture always works offline. The daemon reconciles staged records on
every reconnect; nothing captured is ever lost to a dead link.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./vt.yaml, ~/.vt/vt.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log internal activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "capture", Title: "Capture Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// loadConfig reads the config and makes sure the data directory exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data dir %s: %w", cfg.DataDir, err)
	}
	return cfg, nil
}

// newLogger returns the internal-activity logger: stderr when --verbose,
// discarded otherwise.
func newLogger(prefix string) *log.Logger {
	if verbose {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// openBackend opens the configured store backend. The caller closes it.
func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.OpenSQLite(cfg.DatabasePath())
	default:
		return store.NewFileBackend(cfg.DataDir)
	}
}

// openStages builds the two staged collections over one backend. online and
// the sync funcs are nil for offline-only commands; Close the returned stages
// and backend when done.
func openStages(cfg *config.Config, online func() bool,
	syncSessions staging.SyncFunc[record.Session],
	syncScreenings staging.SyncFunc[record.Screening],
) (*staging.Stage[record.Session], *staging.Stage[record.Screening], store.Backend, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot open local store: %w", err)
	}
	s := store.New(backend, newLogger("[store] "))

	sessions, err := staging.New(s, staging.Options[record.Session]{
		Key:      keySessions,
		Identity: record.Session.Identity,
		Sync:     syncSessions,
		Online:   online,
		Logger:   newLogger("[stage] "),
	})
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}

	screenings, err := staging.New(s, staging.Options[record.Screening]{
		Key:      keyScreenings,
		Identity: record.Screening.Identity,
		Sync:     syncScreenings,
		Online:   online,
		Logger:   newLogger("[stage] "),
	})
	if err != nil {
		sessions.Close()
		backend.Close()
		return nil, nil, nil, err
	}

	return sessions, screenings, backend, nil
}

// openStagesWithRemote builds the staged collections with the sync
// capability wired, probing the server once to decide whether mutations made
// by this short-lived process push immediately. No server configured, or an
// unreachable one, degrades to capture-only; the daemon reconciles later.
func openStagesWithRemote(cfg *config.Config) (*staging.Stage[record.Session], *staging.Stage[record.Screening], store.Backend, error) {
	if cfg.ServerURL == "" {
		return openStages(cfg, nil, nil, nil)
	}

	client, err := remote.NewClient(cfg.ServerURL, newLogger("[remote] "))
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	online := connectivity.HTTPProbe(client.HealthURL())(ctx) == nil

	return openStages(cfg,
		func() bool { return online },
		remote.Collection[record.Session](client, keySessions),
		remote.Collection[record.Screening](client, keyScreenings),
	)
}

// newDevice builds the configured location device.
func newDevice(cfg *config.Config) sensor.Device {
	switch cfg.Sensor.Source {
	case config.SourceGPSD:
		return sensor.NewGPSDDevice(cfg.Sensor.GpsdAddr, 5*time.Second)
	default:
		return sensor.NewSimDevice(nil, 0)
	}
}

// sensorConfig maps the file config onto the acquisition config.
func sensorConfig(cfg *config.Config) sensor.Config {
	return sensor.Config{
		HighAccuracy: cfg.Sensor.HighAccuracy,
		FixTimeout:   cfg.Sensor.FixTimeout,
		MaxFixAge:    cfg.Sensor.MaxFixAge,
		Continuous:   cfg.Sensor.Continuous,
	}
}

// captureFix grabs one location fix, waiting at most the fix timeout. A
// device that cannot produce one yields nil, never an error: location is
// opportunistic garnish on a capture, not a requirement.
func captureFix(cfg *config.Config) *record.Fix {
	machine := sensor.NewMachine(newDevice(cfg), sensorConfig(cfg), newLogger("[sensor] "))
	defer machine.Close()

	timeout := cfg.Sensor.FixTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	got := make(chan sensor.Session, 1)
	settled := func(s sensor.Session) {
		if s.Phase == sensor.PhaseTracking || s.Phase == sensor.PhaseErrored {
			select {
			case got <- s:
			default:
			}
		}
	}
	machine.OnUpdate(settled)
	// The machine requested a fix the moment it was created; a fast device
	// may have settled before the observer was registered.
	settled(machine.Session())

	select {
	case s := <-got:
		if s.Sample == nil {
			return nil
		}
		return &record.Fix{
			Latitude:  s.Sample.Latitude,
			Longitude: s.Sample.Longitude,
			Accuracy:  s.Sample.Accuracy,
			Timestamp: s.Sample.CapturedAt,
		}
	case <-time.After(timeout):
		return nil
	}
}
