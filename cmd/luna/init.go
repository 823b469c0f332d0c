package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/config"
	"github.com/lunaria-app/lunaria/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, config file and database",
	Long: `Create the data directory with a config.toml holding the current
settings (defaults plus any flags given) and an empty database.

Example:
  luna init --user u_123 --remote https://pb.example.com --token $TOKEN`,
	Run: func(cmd *cobra.Command, args []string) {
		path := config.Path(cfg.DataDir)
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}
		if err := config.Write(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		a, err := openApp(context.Background(), false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
			os.Exit(1)
		}
		a.close()

		fmt.Printf("%s Initialized %s\n", ui.RenderPass("✓"), cfg.DataDir)
		fmt.Printf("   Config: %s\n", path)
		fmt.Printf("   Database: %s (%s)\n", cfg.DBPath(), cfg.Store.Driver)
		if cfg.UserID == "" && cfg.Remote.Token == "" {
			fmt.Printf("\n%s No user set. Run 'luna init --force --user <id>' before tracking.\n", ui.RenderWarn("⚠"))
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.toml")
	rootCmd.AddCommand(initCmd)
}
