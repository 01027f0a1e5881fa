package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftbench/internal/config"
	"driftbench/internal/labeling"
	"driftbench/internal/logging"
	"driftbench/internal/metrics"
	"driftbench/internal/stats"
	"driftbench/internal/storage"
)

var scoreRunID string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute metrics and statistics for a labeled run",
	Long: `Computes per-scenario metrics (ADS, CSD, NSI, refusal rate, task
success, intervention rate) from a run's transcripts and labels, then
aggregates per condition with bootstrap confidence intervals and runs the
baseline-vs-enforce paired permutation test.

Writes metrics.json and aggregates.json into the run folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeScore(scoreRunID)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreRunID, "run-id", "", "Run ID to score (required)")
	_ = scoreCmd.MarkFlagRequired("run-id")
}

// scoreOutput is the aggregates.json document shared with the report
// command.
type scoreOutput struct {
	RunID       string                                 `json:"run_id"`
	Conditions  []string                               `json:"conditions"`
	Summaries   map[string]stats.ConditionSummary      `json:"summaries"`
	Comparisons map[string]map[string]stats.Comparison `json:"comparisons,omitempty"`
}

func executeScore(runID string) error {
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

	transcripts, err := storage.ReadTranscripts(runPath)
	if err != nil {
		return err
	}
	labels, err := storage.ReadLabels(runPath)
	if err != nil {
		return err
	}
	if len(transcripts) == 0 || len(labels) == 0 {
		return fmt.Errorf("run %s is missing transcripts or labels", runID)
	}

	byTrajectory := make(map[string][]labeling.Label)
	for _, label := range labels {
		key := label.ScenarioID + "\x00" + label.Condition
		byTrajectory[key] = append(byTrajectory[key], label)
	}
	for _, list := range byTrajectory {
		sort.Slice(list, func(i, j int) bool { return list[i].TurnIndex < list[j].TurnIndex })
	}

	var ms []metrics.ScenarioMetrics
	perScenario := make(map[string]metrics.ScenarioMetrics)
	for _, t := range transcripts {
		trajectoryLabels := byTrajectory[t.ScenarioID+"\x00"+t.Condition]
		m, err := metrics.ComputeScenario(t, trajectoryLabels)
		if err != nil {
			return fmt.Errorf("scoring %s/%s: %w", t.ScenarioID, t.Condition, err)
		}
		ms = append(ms, m)
		perScenario[t.ScenarioID+"_"+t.Condition] = m
	}

	if err := writeJSONFile(filepath.Join(runPath, "metrics.json"), perScenario); err != nil {
		return err
	}

	out := scoreOutput{
		RunID:      runID,
		Conditions: cfg.Conditions,
		Summaries:  stats.Aggregate(ms, cfg.Stats, cfg.Seed),
	}

	if cfg.HasCondition(config.ConditionBaseline) && cfg.HasCondition(config.ConditionEnforce) {
		comps := compareConditions(ms, cfg.Stats, cfg.Seed)
		if len(comps) > 0 {
			out.Comparisons = map[string]map[string]stats.Comparison{stats.ComparisonKey: comps}
		}
	}

	if err := writeJSONFile(filepath.Join(runPath, "aggregates.json"), out); err != nil {
		return err
	}

	logger.Info("scoring complete",
		zap.String("run_id", runID),
		zap.Int("trajectories", len(ms)))
	return nil
}

// compareConditions runs the paired permutation test per drift metric over
// scenarios present in both baseline and enforce.
func compareConditions(ms []metrics.ScenarioMetrics, cfg config.StatsConfig, seed int64) map[string]stats.Comparison {
	picks := map[string]func(metrics.ScenarioMetrics) *float64{
		"ads": func(m metrics.ScenarioMetrics) *float64 { return m.ADS },
		"csd": func(m metrics.ScenarioMetrics) *float64 { return m.CSD },
		"nsi": func(m metrics.ScenarioMetrics) *float64 { return m.NSI },
	}

	out := make(map[string]stats.Comparison)
	for name, pick := range picks {
		baseline, enforce := stats.PairByScenario(ms, config.ConditionBaseline, config.ConditionEnforce, pick)
		cmp, err := stats.PairedPermutationTest(baseline, enforce, cfg.PermutationTrials, seed)
		if err != nil {
			logging.Metrics("skipping %s comparison: %v", name, err)
			continue
		}
		out[name] = cmp
	}
	return out
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}
