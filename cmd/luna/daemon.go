package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/config"
	"github.com/lunaria-app/lunaria/internal/offline/daemon"
	"github.com/lunaria-app/lunaria/internal/offline/dashboard"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var daemonWithDashboard bool

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run automatic sync in the foreground",
	Long: `Run the sync scheduler until interrupted.

The daemon:
  1. Syncs at startup if a pass is due
  2. Checks every sync.check_interval whether the frequency says a pass is due
  3. Reloads sync.frequency when config.toml changes
  4. Optionally serves the live dashboard feed (--dashboard)

The daemon holds the data directory lock; other luna commands wait until it
stops.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(daemonWithDashboard)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Serve the live dashboard feed with automatic sync",
	Long: `Serve a WebSocket feed on 127.0.0.1:<dashboard.port>/ws that reports
record changes, sync results and status, while syncing on schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(true)
	},
}

func runDaemon(withDashboard bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, user := mustOpen(ctx, true)
	defer a.close()
	a.cache.Start(ctx)

	dcfg := &daemon.Config{
		UserID:        user,
		CheckInterval: cfg.Sync.CheckInterval,
		ConfigPath:    config.Path(cfg.DataDir),
		LoadFrequency: func() (schema.Frequency, error) {
			return config.LoadFrequency(cfg.DataDir)
		},
		Logger: logger,
	}

	if withDashboard {
		srv := dashboard.NewServer(&dashboard.Config{Port: cfg.Dashboard.Port, Logger: logger})
		handler := dashboard.NewHandler(srv, a.engine, logger)
		detach := handler.Attach(a.cache)
		defer detach()
		if err := srv.Start(); err != nil {
			fail(a, "%v", err)
		}
		defer func() { _ = srv.Stop() }()
		dcfg.OnResult = handler.OnSyncComplete
		fmt.Printf("%s Dashboard feed on ws://%s/ws\n", ui.RenderAccent("📡"), srv.Addr())
	}

	d, err := daemon.New(a.engine, dcfg)
	if err != nil {
		fail(a, "%v", err)
	}

	fmt.Printf("%s Starting sync daemon for %s...\n", ui.RenderAccent("🚀"), user)
	fmt.Printf("   Frequency: %s (checked every %v)\n", a.engine.Frequency(), cfg.Sync.CheckInterval)
	fmt.Printf("   Watching: %s\n", dcfg.ConfigPath)
	fmt.Printf("   Press Ctrl+C to stop\n\n")

	if err := d.Start(ctx); err != nil {
		fail(a, "%v", err)
	}
	if res, passes := d.LastResult(); passes > 0 {
		fmt.Printf("\n%s Stopped after %d pass(es); %d change(s) pending\n", ui.RenderPass("✓"), passes, res.Pending)
	}
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonWithDashboard, "dashboard", false, "Also serve the dashboard feed")
	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
