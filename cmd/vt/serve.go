package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/store"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/syncserver"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the field sync server",
	Long: `Run the server that capture devices push to.

Received collection snapshots are persisted in a local sqlite database,
and every update is broadcast to connected WebSocket dashboard clients.

Endpoints:
  GET  /health                  connectivity probe target
  PUT  /api/collections/{key}   replace a collection snapshot
  GET  /api/collections/{key}   read the current snapshot
  GET  /api/stats               per-collection record counts
  GET  /ws                      WebSocket dashboard feed`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().String("db", "", "sqlite database path (default: <data_dir>/server.db)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "server.db")
	}

	backend, err := store.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("cannot open server database: %w", err)
	}
	defer backend.Close()

	port, _ := cmd.Flags().GetInt("port")
	logger := log.New(os.Stderr, "[syncserver] ", log.LstdFlags)

	server, err := syncserver.NewServer(&syncserver.Config{
		Port:   port,
		Store:  store.New(backend, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start sync server: %w", err)
	}

	fmt.Printf("Sync server started on http://localhost:%d\n", port)
	fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
	fmt.Printf("Health check: http://localhost:%d/health\n", port)
	fmt.Println("\nPress Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()

	fmt.Println("\nShutting down sync server...")
	if err := server.Stop(); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	fmt.Println("Sync server stopped")
	return nil
}
