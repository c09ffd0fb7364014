package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/config"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/connectivity"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/daemon"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/record"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/remote"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon for this device.

The daemon probes the sync server's health endpoint, and on every
offline-to-online transition pushes the full staged collections. Run it
alongside capture; the two processes share the local store, so records
captured while the daemon is running are seen and synced by it.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Duration("status-interval", time.Minute, "how often to log staged-record status")
	rootCmd.AddCommand(daemonCmd)
}

// daemonLogWriter picks the daemon's log destination: a rotated file when
// configured, stderr otherwise.
func daemonLogWriter(cfg *config.Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url is not configured; the daemon has nothing to sync to")
	}

	out := daemonLogWriter(cfg)
	logger := log.New(out, "[daemon] ", log.LstdFlags)

	client, err := remote.NewClient(cfg.ServerURL, log.New(out, "[remote] ", log.LstdFlags))
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(
		connectivity.HTTPProbe(client.HealthURL()),
		cfg.ProbeInterval,
		log.New(out, "[connectivity] ", log.LstdFlags),
	)

	sessions, screenings, backend, err := openStages(cfg, monitor.Online,
		remote.Collection[record.Session](client, keySessions),
		remote.Collection[record.Screening](client, keyScreenings),
	)
	if err != nil {
		return err
	}
	defer backend.Close()
	defer screenings.Close()
	defer sessions.Close()

	statusInterval, _ := cmd.Flags().GetDuration("status-interval")
	d, err := daemon.NewWithConfig(monitor, &daemon.Config{
		StatusInterval: statusInterval,
		Logger:         logger,
	}, sessions, screenings)
	if err != nil {
		return err
	}

	fmt.Printf("Sync daemon started (server: %s)\n", cfg.ServerURL)
	fmt.Println("Press Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Start(ctx)
}
