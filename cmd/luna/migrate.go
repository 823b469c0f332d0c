package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/offline/migrate"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var exportBackup bool

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export your profile, cycles and logs as JSONL",
	Long: `Write one JSON object per line: {"table": ..., "record": ...}.
Without a file the export goes to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, user := mustOpen(ctx, false)
		defer a.close()

		if len(args) == 0 {
			if _, err := migrate.Export(ctx, os.Stdout, a.services, user); err != nil {
				fail(a, "%v", err)
			}
			return
		}

		res, backup, err := migrate.ExportFile(ctx, args[0], a.services, user, exportBackup)
		if err != nil {
			fail(a, "%v", err)
		}
		fmt.Printf("%s Exported %d record(s) to %s\n", ui.RenderPass("✓"), res.Total(), args[0])
		fmt.Printf("   Profiles: %d\n", res.Profiles)
		fmt.Printf("   Cycles: %d\n", res.Cycles)
		fmt.Printf("   Daily logs: %d\n", res.DailyLogs)
		if backup != "" {
			fmt.Printf("   Previous file kept as %s\n", backup)
		}
	},
}

var importFlags struct {
	dryRun   bool
	reassign bool
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import records from a JSONL export",
	Long: `Save every record of an export through the normal write path, so each
change is queued for sync. Records identical to what is stored are skipped,
which makes importing the same file twice harmless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, user := mustOpen(ctx, false)
		defer a.close()

		opts := migrate.ImportOptions{DryRun: importFlags.dryRun}
		if importFlags.reassign {
			opts.UserID = user
		}
		res, err := migrate.ImportFile(ctx, args[0], a.services, opts)
		if err != nil {
			fail(a, "%v", err)
		}

		verb := "Imported"
		if importFlags.dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d record(s), %d unchanged\n", ui.RenderPass("✓"), verb, res.Imported, res.Unchanged)
		if len(res.Errors) > 0 {
			fmt.Printf("\n%s %d record(s) skipped:\n", ui.RenderWarn("⚠"), len(res.Errors))
			for _, e := range res.Errors {
				fmt.Printf("   %s\n", e)
			}
		}
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportBackup, "backup", true, "Keep a timestamped copy of an existing file")
	importCmd.Flags().BoolVar(&importFlags.dryRun, "dry-run", false, "Validate and count without saving")
	importCmd.Flags().BoolVar(&importFlags.reassign, "reassign", false, "Assign every record to the current user")
	rootCmd.AddCommand(exportCmd, importCmd)
}
