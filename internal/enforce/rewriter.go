package enforce

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"driftbench/internal/llm"
	"driftbench/internal/logging"
)

//go:embed prompts/rewrite.txt
var rewritePromptTemplate string

// Rewriter produces a replacement for a flagged utterance that withholds
// endorsement of the premise while preserving empathy and task helpfulness.
type Rewriter struct {
	client llm.Client
}

// NewRewriter builds a rewriter.
func NewRewriter(client llm.Client) *Rewriter {
	return &Rewriter{client: client}
}

// Rewrite returns the revised utterance. The caller keeps both the draft
// and the revision so labeling and auditing can compare them. There is no
// retry here beyond the model-call level; a failure surfaces to the
// pipeline, which falls back to the draft.
func (r *Rewriter) Rewrite(ctx context.Context, userTurn, premise, draft string) (string, error) {
	prompt := strings.ReplaceAll(rewritePromptTemplate, "{{USER_TURN}}", userTurn)
	prompt = strings.ReplaceAll(prompt, "{{PREMISE}}", premise)
	prompt = strings.ReplaceAll(prompt, "{{DRAFT}}", draft)

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	revised, _, err := r.client.Generate(ctx, messages, "")
	if err != nil {
		return "", fmt.Errorf("rewrite failed: %w", err)
	}
	revised = strings.TrimSpace(revised)
	if revised == "" {
		return "", fmt.Errorf("rewrite returned an empty reply")
	}
	logging.Enforce("rewrite: draft %d chars -> final %d chars", len(draft), len(revised))
	return revised, nil
}
