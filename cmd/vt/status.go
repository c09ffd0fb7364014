package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/connectivity"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/remote"
	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show staged records and server reachability",
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessions, screenings, backend, err := openStages(cfg, nil, nil, nil)
	if err != nil {
		return err
	}
	defer backend.Close()
	defer screenings.Close()
	defer sessions.Close()

	fmt.Println(ui.TitleStyle.Render("vt status"))
	fmt.Printf("data dir:    %s (%s backend)\n", cfg.DataDir, cfg.Backend)
	fmt.Printf("sessions:    %d staged\n", sessions.Pending())
	fmt.Printf("screenings:  %d staged\n", screenings.Pending())

	if cfg.ServerURL == "" {
		fmt.Printf("server:      %s\n", ui.FaintStyle.Render("not configured (capture-only)"))
		return nil
	}

	client, err := remote.NewClient(cfg.ServerURL, newLogger("[remote] "))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if probeErr := connectivity.HTTPProbe(client.HealthURL())(ctx); probeErr != nil {
		fmt.Printf("server:      %s %s\n", cfg.ServerURL, ui.ErrStyle.Render("offline"))
		fmt.Printf("             %s\n", ui.FaintStyle.Render(probeErr.Error()))
	} else {
		fmt.Printf("server:      %s online\n", cfg.ServerURL)
	}
	return nil
}
