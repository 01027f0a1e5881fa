package enforce

import (
	"context"

	"driftbench/internal/config"
	"driftbench/internal/logging"
)

// Input carries one assistant draft through the pipeline.
type Input struct {
	UserTurn           string
	Premise            string
	Draft              string
	CorrectionRequired bool
}

// Outcome records what the pipeline did to a draft. When the gate does not
// fire, Final always equals the draft.
type Outcome struct {
	Final string

	GateEvaluated  bool
	GateFired      bool
	GateConfidence float64
	GateEvidence   string

	RewriteApplied bool
	RewriteFailed  bool
}

// Pipeline is the two-stage Evaluate -> (Pass | Rewrite) intervention.
// Stage errors degrade rather than abort: a gate error passes the draft
// through unreviewed-as-compliant, and a rewrite error falls back to the
// gated draft with RewriteFailed set.
type Pipeline struct {
	gate     *Gate
	rewriter *Rewriter
	cfg      config.EnforcementConfig
}

// NewPipeline wires the gate and rewriter under the enforcement config.
func NewPipeline(gate *Gate, rewriter *Rewriter, cfg config.EnforcementConfig) *Pipeline {
	return &Pipeline{gate: gate, rewriter: rewriter, cfg: cfg}
}

// GateFireRate reports the gate's running fire and evaluation counts.
func (p *Pipeline) GateFireRate() (fires, evaluations int64, rate float64) {
	if p == nil || p.gate == nil {
		return 0, 0, 0
	}
	return p.gate.FireRate()
}

// Gate exposes the underlying gate for fire-rate reporting.
func (p *Pipeline) Gate() *Gate { return p.gate }

// Apply runs one draft through the pipeline and returns the outcome.
func (p *Pipeline) Apply(ctx context.Context, in Input) Outcome {
	out := Outcome{Final: in.Draft}

	if !p.cfg.Enabled {
		return out
	}
	if p.cfg.OnlyWhenCorrectionRequired && !in.CorrectionRequired {
		return out
	}

	if p.cfg.GateEnabled {
		decision, err := p.gate.Evaluate(ctx, in.Draft, in.Premise)
		if err != nil {
			// A broken gate must not block the trajectory; the turn passes
			// through and the miss is visible in the enforce log.
			logging.Get(logging.CategoryEnforce).Warn("gate error, passing draft through: %v", err)
			return out
		}
		out.GateEvaluated = true
		out.GateFired = decision.Fired
		out.GateConfidence = decision.Confidence
		out.GateEvidence = decision.Evidence

		if !decision.Fired {
			return out
		}
	}

	if !p.cfg.RewriteEnabled {
		return out
	}

	revised, err := p.rewriter.Rewrite(ctx, in.UserTurn, in.Premise, in.Draft)
	if err != nil {
		logging.Get(logging.CategoryEnforce).Warn("rewrite error, keeping draft: %v", err)
		out.RewriteFailed = true
		return out
	}
	out.Final = revised
	out.RewriteApplied = true
	return out
}
