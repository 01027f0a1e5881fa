// driftbench measures conversational drift under social pressure: it
// replays scripted multi-turn scenarios against a model under ablation
// conditions, labels the transcripts, and scores agreement drift with
// bootstrap uncertainty.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"driftbench/internal/logging"
)

var (
	// Global flags
	verbose  bool
	basePath string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "driftbench",
	Short: "driftbench - trajectory-level sycophancy evaluation",
	Long: `driftbench evaluates policy-compliant sycophancy at the trajectory level.

It replays scripted pressure scenarios against a generation model under
three conditions (baseline, log, enforce), labels each assistant turn for
premise endorsement and correction strength, and reports agreement drift
with bootstrap confidence intervals and paired permutation tests.

Typical flow:
  driftbench run    --config config.yaml
  driftbench label  --run-id <id>
  driftbench score  --run-id <id>
  driftbench report --run-id <id>

Or everything at once:
  driftbench all --config config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "runs", "Base path for run folders")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
