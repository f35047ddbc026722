package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsestore/am"
	"github.com/teranos/pulsestore/cmd/pulsestore/commands"
	"github.com/teranos/pulsestore/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pulsestore",
	Short: "pulsestore - durable job store and execution history for schedulers",
	Long: `pulsestore - durable job store and execution history for schedulers.

Inspect and maintain the database a scheduling engine persists its jobs and
execution history into.

Available commands:
  am         - Show and change configuration ("I am")
  db         - Migrate and inspect the database
  jobs       - List, show and remove stored jobs
  executions - List execution history
  purge      - Delete old execution history
  janitor    - Purge execution history periodically
  version    - Show build information

Examples:
  pulsestore am show              # Show current configuration
  pulsestore jobs ls              # List stored jobs
  pulsestore executions ls -j X   # History of job X
  pulsestore purge --max-age 72h  # Delete executions older than three days`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		jsonOutput := false
		level := logger.VerbosityToLevel(verbosity)
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
			if verbosity == 0 {
				level = logger.ParseLevel(cfg.Log.Level)
			}
		}

		if err := logger.Initialize(jsonOutput, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v, -vv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ExecutionsCmd)
	rootCmd.AddCommand(commands.PurgeCmd)
	rootCmd.AddCommand(commands.JanitorCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
