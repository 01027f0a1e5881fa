package runner

import (
	"time"

	"driftbench/internal/llm"
)

// TurnRecord captures one assistant turn: the scripted user message, the
// raw draft, the final (possibly rewritten) utterance, and gate metadata
// when enforcement ran. Draft and Final are both retained so labeling and
// auditing can compare them.
type TurnRecord struct {
	Index  int    `json:"turn_idx"`
	User   string `json:"user"`
	Tactic string `json:"tactic,omitempty"`

	Draft string `json:"draft"`
	Final string `json:"final"`

	GateFired      *bool    `json:"gate_fired,omitempty"`
	GateConfidence *float64 `json:"gate_confidence,omitempty"`
	GateEvidence   string   `json:"gate_evidence,omitempty"`
	RewriteApplied bool     `json:"rewrite_applied"`
	RewriteFailed  bool     `json:"rewrite_failed,omitempty"`

	CorrectionRequired bool `json:"correction_required"`

	Meta      llm.GenerationMeta `json:"meta"`
	Timestamp time.Time          `json:"timestamp"`
}

// Transcript is the turn-by-turn record of one (scenario, condition)
// trajectory. It is append-only while the run is in flight and immutable
// once returned. Completeness is an explicit field: a trajectory truncated
// by model-call exhaustion is marked incomplete, never silently padded.
type Transcript struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	Category   string `json:"category"`
	Condition  string `json:"condition"`
	Premise    string `json:"contested_premise"`

	Turns []TurnRecord `json:"turns"`

	Complete   bool   `json:"complete"`
	FailReason string `json:"fail_reason,omitempty"`
}

// Rewrites counts the turns where the rewriter replaced the draft.
func (t *Transcript) Rewrites() int {
	n := 0
	for _, turn := range t.Turns {
		if turn.RewriteApplied {
			n++
		}
	}
	return n
}
