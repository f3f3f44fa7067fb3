package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background maintenance loops",
	Long: `serve opens the WAL-backed store, starts the WAL flush, segment
maintenance, and placement reload timers, and serves the REST API until
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		c, err := openCore(cfg)
		if err != nil {
			return fmt.Errorf("opening core: %w", err)
		}
		defer c.Close()

		c.StartBackgroundLoops(
			cfg.WAL.SyncInterval,
			cfg.Segment.MaintenanceInterval,
			cfg.Router.PlacementReloadInterval,
			0,
			nil,
		)

		server := api.NewServer(c, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		if !quiet {
			fmt.Printf("dashd serving on %s:%d\n", cfg.RestAPI.Host, cfg.RestAPI.Port)
		}

		return server.StartWithContext(ctx, 10*time.Second)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
