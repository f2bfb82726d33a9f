package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridianbenefits/claimbatch/cmd/claimbatch/commands"
	"github.com/meridianbenefits/claimbatch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "claimbatch",
	Short: "claimbatch - batch claims adjudication engine",
	Long: `claimbatch - batch processing engine for insurance claims adjudication.

The engine executes batch jobs of claims with bounded concurrency,
priority ordering, automatic retry, and a failure-rate circuit breaker.
A periodic dispatcher promotes queued jobs into execution, terminal jobs
are archived to SQLite, and an optional WebSocket monitor streams live
job updates.

Available commands:
  engine  - Run the batch engine daemon
  claims  - Load and inspect staged claims
  db      - Manage the claimbatch database
  version - Show version information

Examples:
  claimbatch engine start        # Start the engine daemon
  claimbatch claims import f.json
  claimbatch db stats            # Show claim and archive statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to a claimbatch.toml config file")

	rootCmd.AddCommand(commands.EngineCmd)
	rootCmd.AddCommand(commands.ClaimsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
