package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lunaria-app/lunaria/internal/config"
	"github.com/lunaria-app/lunaria/internal/lockfile"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var syncInteractive bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync with the server now",
	Long: `Run one sync pass: pull server changes, settle conflicts, then push
queued local changes.

Conflicts keep the local version unless --interactive is set, in which case
you are asked for each one.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, user := mustOpen(ctx, true)
		defer a.close()

		if syncInteractive {
			if !ui.IsTerminal(os.Stdin) {
				fail(a, "--interactive needs a terminal")
			}
			a.engine = offsync.New(a.cache, a.queue, a.remote, offsync.Options{
				Strategy: offsync.StrategyFunc(promptConflict),
				Logger:   logger,
			})
		}

		fmt.Printf("%s Syncing %s with %s...\n", ui.RenderAccent("🔄"), user, cfg.Remote.URL)
		res := a.engine.PerformSync(ctx, user)
		printResult(res)
		if res.Err != nil {
			a.close()
			os.Exit(1)
		}
	},
}

func printResult(res offsync.Result) {
	elapsed := res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)
	if res.Err != nil {
		fmt.Printf("%s Sync failed after %v: %v\n", ui.RenderFail("✗"), elapsed, res.Err)
	} else {
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
	}
	fmt.Printf("   Pushed: %d\n", res.Success)
	if res.Failed > 0 {
		fmt.Printf("   Rejected: %s\n", ui.RenderWarn(fmt.Sprint(res.Failed)))
	}
	fmt.Printf("   Pulled: %d\n", res.Pulled)
	if res.Removed > 0 {
		fmt.Printf("   Removed: %d\n", res.Removed)
	}
	if res.Conflicts > 0 {
		fmt.Printf("   Conflicts: %d\n", res.Conflicts)
		for _, r := range res.Resolutions {
			fmt.Printf("     %s %s kept %s\n", r.Conflict.Table, r.Conflict.RemoteID(), r.Decision)
		}
	}
	fmt.Printf("   Pending: %d\n", res.Pending)
}

// promptConflict asks which side of a conflict to keep.
func promptConflict(ctx context.Context, c *offsync.Conflict) (offsync.Decision, error) {
	local, err := yaml.Marshal(c.Local)
	if err != nil {
		return offsync.KeepLocal, err
	}
	server, err := yaml.Marshal(c.Remote)
	if err != nil {
		return offsync.KeepLocal, err
	}

	keepLocal := true
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("%s %s changed here and on the server", c.Table, c.RemoteID())).
		Description(fmt.Sprintf("This device:\n%s\nServer:\n%s", local, server)).
		Affirmative("Keep this device's").
		Negative("Use the server's").
		Value(&keepLocal)
	if err := huh.NewForm(huh.NewGroup(confirm)).RunWithContext(ctx); err != nil {
		return offsync.KeepLocal, err
	}
	if keepLocal {
		return offsync.KeepLocal, nil
	}
	return offsync.KeepRemote, nil
}

var statusFormat string

// statusView is what 'luna status' prints.
type statusView struct {
	offsync.Status `yaml:",inline"`
	User           string `json:"user" yaml:"user"`
	NextSyncDue    bool   `json:"next_sync_due" yaml:"next_sync_due"`
	OpenCycles     int    `json:"open_cycles" yaml:"open_cycles"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show last sync time, pending changes and frequency",
	Run: func(cmd *cobra.Command, args []string) {
		a, user := mustOpen(context.Background(), false)
		defer a.close()

		view := statusView{
			Status:      a.engine.Status(),
			User:        user,
			NextSyncDue: a.engine.Due(time.Now()),
			OpenCycles:  len(a.services.Cycles.OpenCycles(user)),
		}
		if done, err := writeStructured(os.Stdout, statusFormat, view); done {
			if err != nil {
				fail(a, "%v", err)
			}
			return
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("   User: %s\n", user)
		if view.LastSyncTime.IsZero() {
			fmt.Printf("   Last sync: %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("   Last sync: %s\n", view.LastSyncTime.Local().Format(time.DateTime))
		}
		pending := fmt.Sprint(view.PendingItems)
		if view.PendingItems > 0 {
			pending = ui.RenderWarn(pending)
		}
		fmt.Printf("   Pending changes: %s\n", pending)
		fmt.Printf("   Frequency: %s\n", view.Frequency)
		fmt.Printf("   Sync due: %s\n", ui.YesNo(view.NextSyncDue))
		if view.OpenCycles > 1 {
			fmt.Printf("\n%s %d open cycles; 'luna cycle end' closes the most recent\n", ui.RenderWarn("⚠"), view.OpenCycles)
		}
		fmt.Println()
	},
}

var frequencyCmd = &cobra.Command{
	Use:       "frequency [daily|weekly|monthly]",
	GroupID:   "sync",
	Short:     "Show or change how often automatic sync runs",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(schema.FrequencyDaily), string(schema.FrequencyWeekly), string(schema.FrequencyMonthly)},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println(cfg.Sync.Frequency)
			return
		}
		f, err := schema.ParseFrequency(args[0])
		if err != nil {
			fail(nil, "%v", err)
		}

		deferred, err := applyFrequency(context.Background(), f)
		if err != nil {
			fail(nil, "%v", err)
		}
		fmt.Printf("%s Sync frequency set to %s\n", ui.RenderPass("✓"), f)
		if deferred {
			fmt.Printf("   %s\n", ui.RenderMuted("The running daemon will pick it up from config.toml."))
		}
	},
}

// applyFrequency records f in config.toml and in the store. When another
// process holds the data directory only the config is written and deferred
// is true; that process reloads config.toml on change.
func applyFrequency(ctx context.Context, f schema.Frequency) (deferred bool, err error) {
	cfg.Sync.Frequency = string(f)
	if err := config.Write(cfg); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	a, err := openApp(ctx, false)
	if errors.Is(err, lockfile.ErrLocked) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer a.close()
	return false, a.engine.SetFrequency(f)
}

func init() {
	syncCmd.Flags().BoolVarP(&syncInteractive, "interactive", "i", false, "Ask how to settle each conflict")
	statusCmd.Flags().StringVarP(&statusFormat, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(syncCmd, statusCmd, frequencyCmd)
}
