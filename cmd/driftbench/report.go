package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftbench/internal/report"
	"driftbench/internal/storage"
)

var (
	reportRunID string
	reportOut   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render report artifacts for a scored run",
	Long: `Renders the main results table and the run report from a run's
aggregates.json. Run 'driftbench score' first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeReport(reportRunID, reportOut)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run-id", "", "Run ID to report (required)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Output directory (default: the run folder)")
	_ = reportCmd.MarkFlagRequired("run-id")
}

func executeReport(runID, outDir string) error {
	runPath := storage.RunPath(basePath, runID)
	data, err := os.ReadFile(filepath.Join(runPath, "aggregates.json"))
	if err != nil {
		return fmt.Errorf("aggregates.json not found for run %s (run 'driftbench score' first): %w", runID, err)
	}
	var scored scoreOutput
	if err := json.Unmarshal(data, &scored); err != nil {
		return fmt.Errorf("malformed aggregates.json: %w", err)
	}

	if outDir == "" {
		outDir = runPath
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tablePath := filepath.Join(outDir, "table1.md")
	if err := report.WriteResultsTable(tablePath, scored.Summaries, scored.Conditions); err != nil {
		return err
	}
	if err := report.WriteRunReport(outDir, runID, scored.Summaries, scored.Comparisons); err != nil {
		return err
	}

	logger.Info("report generated",
		zap.String("run_id", runID),
		zap.String("out", outDir))
	return nil
}
