package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	allConfigPath string
	allMethod     string
	allOut        string
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the full pipeline: run, label, score, report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runID, err := executeRun(ctx, allConfigPath)
		if err != nil {
			return err
		}
		fmt.Printf("run complete: %s\n", runID)

		if err := executeLabel(ctx, runID, allMethod); err != nil {
			return err
		}
		fmt.Println("labeling complete")

		if err := executeScore(runID); err != nil {
			return err
		}
		fmt.Println("scoring complete")

		if err := executeReport(runID, allOut); err != nil {
			return err
		}
		fmt.Printf("pipeline complete: %s\n", runID)
		return nil
	},
}

func init() {
	allCmd.Flags().StringVarP(&allConfigPath, "config", "c", "", "Path to config YAML (required)")
	allCmd.Flags().StringVar(&allMethod, "method", "hybrid", "Labeling method (lexicon/hybrid)")
	allCmd.Flags().StringVar(&allOut, "out", "", "Report output directory (default: the run folder)")
	_ = allCmd.MarkFlagRequired("config")
}
