package main

import (
	"context"
	_ "embed"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftbench/internal/config"
	"driftbench/internal/enforce"
	"driftbench/internal/llm"
	"driftbench/internal/logging"
	"driftbench/internal/runner"
	"driftbench/internal/storage"
	"driftbench/internal/suite"
)

//go:embed prompts/system.txt
var defaultSystemPrompt string

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay the scenario suite and write transcripts",
	Long: `Replays every scenario in the suite under every configured condition,
streaming finished trajectories to transcripts.jsonl as they complete.
Prints the new run ID on success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := executeRun(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		fmt.Println(runID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (required)")
	_ = runCmd.MarkFlagRequired("config")
}

// executeRun loads config and suite, provisions models and storage, and
// drives all trajectories. Returns the new run ID.
func executeRun(parent context.Context, cfgPath string) (string, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", err
	}
	if err := logging.Initialize(basePath, cfg.Logging); err != nil {
		return "", err
	}

	s, err := suite.Load(cfg.Suite.Path)
	if err != nil {
		return "", err
	}
	if cfg.Suite.MaxScenarios > 0 {
		s = s.Limit(cfg.Suite.MaxScenarios)
	}
	suiteHash, err := suite.Hash(cfg.Suite.Path)
	if err != nil {
		return "", err
	}

	generation, err := llm.New(cfg.Models["generation"])
	if err != nil {
		return "", fmt.Errorf("generation model: %w", err)
	}
	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return "", err
	}

	runID := storage.NewRunID(cfg.RunName)
	runPath, err := storage.CreateRunFolder(basePath, runID)
	if err != nil {
		return "", err
	}
	if err := storage.SaveConfig(runPath, cfg); err != nil {
		return "", err
	}
	if err := storage.SaveMetadata(runPath, storage.RunMetadata{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Models:    cfg.Models,
		SuiteHash: suiteHash,
		GitCommit: storage.GitCommitHash(),
		Seed:      cfg.Seed,
		Env:       storage.CurrentEnv(),
	}); err != nil {
		return "", err
	}

	store, err := storage.NewRunStore(filepath.Join(basePath, "index.db"))
	if err != nil {
		return "", err
	}
	defer store.Close()
	if err := store.RecordRun(storage.RunRecord{
		RunID:     runID,
		RunName:   cfg.RunName,
		CreatedAt: time.Now().UTC(),
		SuiteHash: suiteHash,
		GitCommit: storage.GitCommitHash(),
		Seed:      cfg.Seed,
	}); err != nil {
		return "", err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting run",
		zap.String("run_id", runID),
		zap.Int("scenarios", len(s.Scenarios)),
		zap.Strings("conditions", cfg.Conditions))

	r := runner.New(cfg, runID, generation, pipeline, defaultSystemPrompt)
	result, err := r.RunAll(ctx, s, storage.NewSink(runPath, store))
	if err != nil {
		_ = store.SetRunStatus(runID, "failed")
		return "", fmt.Errorf("run %s failed: %w", runID, err)
	}
	if err := store.SetRunStatus(runID, "done"); err != nil {
		return "", err
	}

	logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("trajectories", len(result.Transcripts)),
		zap.Int("incomplete", len(result.Incomplete)))
	if fires, evals, rate := pipeline.GateFireRate(); evals > 0 {
		logger.Info("gate summary",
			zap.Int64("fires", fires),
			zap.Int64("evaluations", evals),
			zap.Float64("fire_rate", rate))
	}
	return runID, nil
}

// buildPipeline provisions the gate and rewriter models when any condition
// needs them. Baseline-only runs get a nil pipeline.
func buildPipeline(cfg *config.Config) (*enforce.Pipeline, error) {
	if !cfg.HasCondition(config.ConditionEnforce) && !cfg.HasCondition(config.ConditionLog) {
		return nil, nil
	}

	gateClient, err := llm.New(cfg.Models["gate"])
	if err != nil {
		return nil, fmt.Errorf("gate model: %w", err)
	}
	gate := enforce.NewGate(gateClient, cfg.Enforcement.EndorseConfidenceThreshold)

	var rewriter *enforce.Rewriter
	if cfg.Enforcement.RewriteEnabled {
		rewriteClient, err := llm.New(cfg.Models["rewrite"])
		if err != nil {
			return nil, fmt.Errorf("rewrite model: %w", err)
		}
		rewriter = enforce.NewRewriter(rewriteClient)
	}

	return enforce.NewPipeline(gate, rewriter, cfg.Enforcement), nil
}
