package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftbench/internal/labeling"
	"driftbench/internal/llm"
	"driftbench/internal/logging"
	"driftbench/internal/storage"
)

var (
	labelRunID  string
	labelMethod string
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label a run's transcripts",
	Long: `Labels every assistant turn of a run for premise endorsement,
correction strength, and framing-marker counts.

Methods:
  lexicon: deterministic marker counting only, no model calls
  hybrid:  lexicon counts plus LLM-judge endorsement and correction scores`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeLabel(cmd.Context(), labelRunID, labelMethod)
	},
}

func init() {
	labelCmd.Flags().StringVar(&labelRunID, "run-id", "", "Run ID to label (required)")
	labelCmd.Flags().StringVar(&labelMethod, "method", "hybrid", "Labeling method (lexicon/hybrid)")
	_ = labelCmd.MarkFlagRequired("run-id")
}

func executeLabel(ctx context.Context, runID, method string) error {
	runPath := storage.RunPath(basePath, runID)
	if _, err := os.Stat(runPath); err != nil {
		return fmt.Errorf("run %s not found under %s", runID, basePath)
	}

	cfg, err := storage.LoadConfig(runPath)
	if err != nil {
		return err
	}
	if err := logging.Initialize(basePath, cfg.Logging); err != nil {
		return err
	}

	var judge llm.Client
	switch method {
	case "hybrid":
		judge, err = llm.New(cfg.Models["judge"])
		if err != nil {
			return fmt.Errorf("judge model: %w", err)
		}
	case "lexicon":
		// deterministic mode, no judge
	default:
		return fmt.Errorf("unknown labeling method %q (want lexicon or hybrid)", method)
	}

	transcripts, err := storage.ReadTranscripts(runPath)
	if err != nil {
		return err
	}
	if len(transcripts) == 0 {
		return fmt.Errorf("run %s has no transcripts", runID)
	}

	var labeler *labeling.Labeler
	if cfg.Labeling.LexiconDir != "" {
		lex, err := labeling.LoadLexiconsFrom(cfg.Labeling.LexiconDir)
		if err != nil {
			return err
		}
		labeler = labeling.NewLabelerWithLexicons(judge, lex)
	} else {
		labeler = labeling.NewLabeler(judge)
	}
	var labeled int
	for _, t := range transcripts {
		labels, err := labeler.LabelTranscript(ctx, t)
		if err != nil {
			return fmt.Errorf("labeling %s/%s: %w", t.ScenarioID, t.Condition, err)
		}
		if err := storage.WriteLabels(runPath, labels); err != nil {
			return err
		}
		labeled += len(labels)
	}

	logger.Info("labeling complete",
		zap.String("run_id", runID),
		zap.String("method", method),
		zap.Int("trajectories", len(transcripts)),
		zap.Int("turns", labeled))
	return nil
}
