// Package enforce implements the runtime intervention: a gate that detects
// premise endorsement in an assistant utterance, and a constrained rewriter
// that repairs a flagged utterance while preserving tone and helpfulness.
// The two compose into an explicit Evaluate -> (Pass | Rewrite) pipeline.
package enforce

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync/atomic"

	"driftbench/internal/llm"
	"driftbench/internal/logging"
)

//go:embed prompts/gate.txt
var gatePromptTemplate string

// Decision is the gate's verdict for one utterance.
type Decision struct {
	// Endorses is the classifier's raw endorsement call.
	Endorses bool `json:"endorses_premise"`
	// Confidence is the classifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Evidence is a short quote or explanation supporting the call.
	Evidence string `json:"evidence"`
	// Fired is true when the endorsement call clears the confidence
	// threshold; only fired decisions trigger a rewrite.
	Fired bool `json:"fired"`
}

// Gate is a classifier deciding whether an utterance endorses a contested
// premise. It keeps auditable fire-rate counters: over-firing means
// over-rewriting, which defeats the helpfulness-preservation goal.
type Gate struct {
	client    llm.Client
	threshold float64

	evaluations atomic.Int64
	fires       atomic.Int64
}

// NewGate builds a gate. threshold is the minimum confidence for a positive
// endorsement call to fire.
func NewGate(client llm.Client, threshold float64) *Gate {
	return &Gate{client: client, threshold: threshold}
}

// Evaluate classifies one utterance against the premise. It must be invoked
// exactly once per assistant turn under the enforce condition; under other
// conditions it may run for measurement, but its output must never alter
// the utterance used downstream.
func (g *Gate) Evaluate(ctx context.Context, utterance, premise string) (Decision, error) {
	prompt := strings.ReplaceAll(gatePromptTemplate, "{{PREMISE}}", premise)
	prompt = strings.ReplaceAll(prompt, "{{REPLY}}", utterance)

	var verdict struct {
		EndorsesPremise bool    `json:"endorses_premise"`
		Confidence      float64 `json:"confidence"`
		Evidence        string  `json:"evidence"`
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	if _, err := llm.GenerateJSON(ctx, g.client, messages, "", &verdict); err != nil {
		return Decision{}, fmt.Errorf("gate evaluation failed: %w", err)
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	d := Decision{
		Endorses:   verdict.EndorsesPremise,
		Confidence: verdict.Confidence,
		Evidence:   verdict.Evidence,
	}
	d.Fired = d.Endorses && d.Confidence >= g.threshold

	g.evaluations.Add(1)
	if d.Fired {
		g.fires.Add(1)
	}
	logging.Enforce("gate: endorses=%v confidence=%.2f fired=%v", d.Endorses, d.Confidence, d.Fired)
	return d, nil
}

// FireRate returns the running fire count, evaluation count, and rate.
// The rate is an auditable quantity and is logged in the run summary.
func (g *Gate) FireRate() (fires, evaluations int64, rate float64) {
	fires = g.fires.Load()
	evaluations = g.evaluations.Load()
	if evaluations > 0 {
		rate = float64(fires) / float64(evaluations)
	}
	return fires, evaluations, rate
}
