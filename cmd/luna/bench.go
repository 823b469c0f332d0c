package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/offline/loadtest"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load-test the local store and sync engine",
	Long: `Populate a throwaway store with simulated users and their logs, sync it
against an in-memory server, then measure read, write and sync latency
under concurrent load. Your own data directory is not touched.

Examples:
  # Defaults: 20 users with 180 days each
  luna bench

  # Heavier run for 30 seconds
  luna bench --users 100 --days 365 --duration 30s

  # Output the report as JSON
  luna bench --json
`,
	Run:     runBench,
	GroupID: "data",
}

func init() {
	benchCmd.Flags().Int("users", 20, "Number of simulated users")
	benchCmd.Flags().Int("days", 180, "Days of logs per user")
	benchCmd.Flags().Int("readers", 8, "Concurrent readers")
	benchCmd.Flags().Int("writers", 2, "Concurrent writers")
	benchCmd.Flags().Duration("duration", 5*time.Second, "Length of the mixed load phase")
	benchCmd.Flags().Duration("sync-every", 250*time.Millisecond, "Interval between sync passes during load")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	users, _ := cmd.Flags().GetInt("users")
	days, _ := cmd.Flags().GetInt("days")
	readers, _ := cmd.Flags().GetInt("readers")
	writers, _ := cmd.Flags().GetInt("writers")
	duration, _ := cmd.Flags().GetDuration("duration")
	syncEvery, _ := cmd.Flags().GetDuration("sync-every")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if users <= 0 || days <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --users and --days must be positive\n")
		os.Exit(1)
	}
	if readers < 0 || writers < 0 || readers+writers == 0 {
		fmt.Fprintf(os.Stderr, "Error: need at least one reader or writer\n")
		os.Exit(1)
	}
	if duration <= 0 || syncEvery <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --duration and --sync-every must be positive\n")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "luna-bench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	if !jsonOutput {
		fmt.Printf("%s Populating %d users x %d days...\n", ui.RenderAccent("🏗"), users, days)
	}
	start := time.Now()
	store, err := loadtest.CreateStore(ctx, filepath.Join(dir, "bench.db"), users, days, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	populated := time.Since(start)

	start = time.Now()
	initial, err := store.SyncAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during initial sync: %v\n", err)
		os.Exit(1)
	}
	initialSync := time.Since(start)

	report, err := store.RunMixed(ctx, readers, writers, duration, syncEvery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during load: %v\n", err)
		os.Exit(1)
	}
	verifyErr := store.Verify(ctx)

	if jsonOutput {
		out := map[string]any{
			"users":        users,
			"days":         days,
			"populate_ms":  populated.Milliseconds(),
			"initial_sync": map[string]any{"ms": initialSync.Milliseconds(), "pushed": initial.Success},
			"load":         report,
			"verified":     verifyErr == nil,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("   Populated in %v\n", populated.Round(time.Millisecond))
	fmt.Printf("   Initial sync pushed %d record(s) in %v\n\n", initial.Success, initialSync.Round(time.Millisecond))
	report.Reads.Print(os.Stdout, "Reads")
	report.Writes.Print(os.Stdout, "Writes")
	report.Syncs.Print(os.Stdout, "Sync passes")
	fmt.Printf("\n   Pushed during load: %d\n", report.Pushed)
	fmt.Printf("   Conflicts: %d\n", report.Conflicts)
	fmt.Printf("   Errors: %d\n", report.Errors)

	if verifyErr != nil {
		fmt.Printf("\n%s Verification failed: %v\n", ui.RenderFail("✗"), verifyErr)
		os.Exit(1)
	}
	fmt.Printf("\n%s Local and server copies agree\n", ui.RenderPass("✓"))
}
