// Package runner replays scripted pressure scenarios against a model under
// the three ablation conditions. Trajectories are independent and run
// concurrently under a trajectory limit; within one trajectory turns are
// strictly sequential, since each turn's history depends on the finalized
// utterances of all prior turns. The outbound call budget is shared across
// trajectories through a weighted semaphore.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"driftbench/internal/config"
	"driftbench/internal/enforce"
	"driftbench/internal/llm"
	"driftbench/internal/logging"
	"driftbench/internal/suite"
)

// Sink receives each finished transcript. Implementations decide how the
// transcript is persisted; the runner only guarantees the transcript it
// hands over is final.
type Sink interface {
	SaveTranscript(t *Transcript) error
}

// Runner drives scenarios through conditions.
type Runner struct {
	cfg          *config.Config
	runID        string
	generation   llm.Client
	pipeline     *enforce.Pipeline // nil when no enforce/log condition needs it
	systemPrompt string

	retry llm.RetryPolicy
	calls *semaphore.Weighted

	now func() time.Time
}

// Option tweaks runner construction, mostly for tests.
type Option func(*Runner)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRetryPolicy overrides the model-call retry policy.
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

// New builds a runner. pipeline may be nil when the run has no condition
// that consults the gate.
func New(cfg *config.Config, runID string, generation llm.Client, pipeline *enforce.Pipeline, systemPrompt string, opts ...Option) *Runner {
	retry := llm.DefaultRetryPolicy()
	if cfg.Concurrency.MaxCallAttempts > 0 {
		retry.MaxAttempts = cfg.Concurrency.MaxCallAttempts
	}
	r := &Runner{
		cfg:          cfg,
		runID:        runID,
		generation:   generation,
		pipeline:     pipeline,
		systemPrompt: systemPrompt,
		retry:        retry,
		calls:        semaphore.NewWeighted(int64(cfg.Concurrency.MaxInflightCalls)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScenario replays one scenario under one condition, producing a
// transcript. A model-call failure after the retry budget truncates the
// trajectory at that turn and marks the transcript incomplete.
func (r *Runner) RunScenario(ctx context.Context, sc *suite.Scenario, condition string) (*Transcript, error) {
	t := &Transcript{
		RunID:      r.runID,
		ScenarioID: sc.ID,
		Category:   sc.Category,
		Condition:  condition,
		Premise:    sc.ContestedPremise,
		Complete:   true,
	}

	// History uses final utterances, never the unrewritten drafts, so
	// pressure escalation reacts to what the model actually said.
	history := make([]llm.Message, 0, len(sc.Turns)*2)

	for idx, turn := range sc.Turns {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: turn.Message})

		draft, meta, err := r.callModel(ctx, history)
		if err != nil {
			t.Complete = false
			t.FailReason = fmt.Sprintf("turn %d: %v", idx, err)
			logging.Get(logging.CategoryRunner).Warn("trajectory %s/%s truncated at turn %d: %v",
				sc.ID, condition, idx, err)
			return t, nil
		}

		record := TurnRecord{
			Index:              idx,
			User:               turn.Message,
			Tactic:             turn.Tactic,
			Draft:              draft,
			Final:              draft,
			CorrectionRequired: sc.CorrectionRequiredAt(idx),
			Meta:               meta,
			Timestamp:          r.now(),
		}

		switch condition {
		case config.ConditionEnforce:
			if r.pipeline != nil {
				outcome := r.pipeline.Apply(ctx, enforce.Input{
					UserTurn:           turn.Message,
					Premise:            sc.ContestedPremise,
					Draft:              draft,
					CorrectionRequired: record.CorrectionRequired,
				})
				applyOutcome(&record, outcome)
			}
		case config.ConditionLog:
			// Measurement without mitigation: the gate may run, but its
			// output never alters the utterance used downstream.
			if r.pipeline != nil && record.CorrectionRequired {
				if decision, err := r.pipeline.Gate().Evaluate(ctx, draft, sc.ContestedPremise); err == nil {
					fired := decision.Fired
					conf := decision.Confidence
					record.GateFired = &fired
					record.GateConfidence = &conf
					record.GateEvidence = decision.Evidence
				}
			}
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: record.Final})
		t.Turns = append(t.Turns, record)
	}

	return t, nil
}

func applyOutcome(record *TurnRecord, outcome enforce.Outcome) {
	if outcome.GateEvaluated {
		fired := outcome.GateFired
		conf := outcome.GateConfidence
		record.GateFired = &fired
		record.GateConfidence = &conf
		record.GateEvidence = outcome.GateEvidence
	}
	record.Final = outcome.Final
	record.RewriteApplied = outcome.RewriteApplied
	record.RewriteFailed = outcome.RewriteFailed
}

// callModel acquires an outbound-call slot, then generates with bounded
// retries on transient failures.
func (r *Runner) callModel(ctx context.Context, history []llm.Message) (string, llm.GenerationMeta, error) {
	if err := r.calls.Acquire(ctx, 1); err != nil {
		return "", llm.GenerationMeta{}, err
	}
	defer r.calls.Release(1)

	var (
		text string
		meta llm.GenerationMeta
	)
	err := llm.CallWithRetry(ctx, r.retry, func() error {
		var callErr error
		text, meta, callErr = r.generation.Generate(ctx, history, r.systemPrompt)
		if callErr != nil {
			logging.API("generate failed (%s): %v", meta.Provider, callErr)
		}
		return callErr
	})
	return text, meta, err
}

// Result summarizes one run: finished transcripts partitioned by
// completeness, so aggregate statistics are never silently computed over a
// biased subset.
type Result struct {
	Transcripts []*Transcript
	Incomplete  []*Transcript
}

// RunAll processes the scenarios-by-conditions cross product. Trajectory
// fan-out is bounded by MaxTrajectories; cancellation stops launching new
// trajectories while in-flight ones finish or abandon cleanly.
func (r *Runner) RunAll(ctx context.Context, s *suite.Suite, sink Sink) (*Result, error) {
	type job struct {
		scenario  *suite.Scenario
		condition string
	}
	var jobs []job
	for _, cond := range r.cfg.Conditions {
		for i := range s.Scenarios {
			jobs = append(jobs, job{scenario: &s.Scenarios[i], condition: cond})
		}
	}

	logging.Runner("run %s: %d trajectories (%d scenarios x %d conditions)",
		r.runID, len(jobs), len(s.Scenarios), len(r.cfg.Conditions))

	var (
		mu     sync.Mutex
		result Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency.MaxTrajectories)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := r.RunScenario(gctx, j.scenario, j.condition)
			if err != nil {
				return fmt.Errorf("trajectory %s/%s: %w", j.scenario.ID, j.condition, err)
			}
			if sink != nil {
				if err := sink.SaveTranscript(t); err != nil {
					return fmt.Errorf("failed to persist transcript %s/%s: %w", t.ScenarioID, t.Condition, err)
				}
			}
			mu.Lock()
			result.Transcripts = append(result.Transcripts, t)
			if !t.Complete {
				result.Incomplete = append(result.Incomplete, t)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &result, err
	}
	logging.Runner("run %s complete: %d transcripts, %d incomplete",
		r.runID, len(result.Transcripts), len(result.Incomplete))
	return &result, nil
}
