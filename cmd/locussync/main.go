package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/locussync/cmd/locussync/commands"
	"github.com/teranos/locussync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "locussync",
	Short: "locussync - hash tree replica of a locus",
	Long: `locussync keeps a client-side replica of a locus in sync with the
locus service.

Each data set of the locus is mirrored into a fixed-width hash tree. Pushed
messages update the replica directly; idle data sets are reconciled by
comparing leaf hashes and fetching only mismatched leaves.

Available commands:
  run     - Replicate a locus and stream its changes as JSON lines
  status  - Replicate a locus once and show its data sets
  am      - Manage locussync configuration ("I am")
  version - Show version information

Examples:
  locussync run --locus https://locus.example/loci/1 --feed wss://locus.example/loci/1/feed
  locussync status --locus https://locus.example/loci/1 --sync
  locussync am show --format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		// A broken config is reported by the command itself
		cfg, _ := commands.LoadConfig(cmd)
		jsonLogs := cfg != nil && cfg.Log.JSON
		if err := logger.Initialize(jsonLogs, commands.LogLevel(cfg, verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this file only (defaults and file, no cascade)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
