// Package llm provides the model-call capability used by the trajectory
// runner, the enforcement pipeline, and the labeler. Each provider client
// takes an ordered message history plus decoding parameters and returns the
// next assistant utterance. Failures are classified into transient and
// permanent buckets so the caller's retry policy can branch on them.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Message is one entry in a conversation history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationMeta records provenance for one completion.
type GenerationMeta struct {
	Provider    string      `json:"provider"`
	Model       string      `json:"model"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
	Usage       *TokenUsage `json:"token_usage,omitempty"`
	ResponseID  string      `json:"response_id,omitempty"`
}

// TokenUsage holds per-call token accounting when the provider reports it.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Client is the model-call capability. Implementations must be safe for
// concurrent use; the runner shares one client across trajectories.
type Client interface {
	// Generate returns the next assistant utterance for the given history.
	// systemPrompt may be empty.
	Generate(ctx context.Context, messages []Message, systemPrompt string) (string, GenerationMeta, error)
}

const jsonInstruction = "\n\nReturn ONLY valid JSON. No markdown, no code blocks, just JSON."

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// GenerateJSON asks the client for a structured response and decodes it into
// out. Code fences and surrounding prose are stripped before decoding; used
// by the gate and the judge labelers, which run at low temperature.
func GenerateJSON(ctx context.Context, c Client, messages []Message, systemPrompt string, out any) (GenerationMeta, error) {
	text, meta, err := c.Generate(ctx, messages, systemPrompt+jsonInstruction)
	if err != nil {
		return meta, err
	}

	raw := stripCodeFences(strings.TrimSpace(text))
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return meta, nil
	}
	// Fallback: extract the outermost JSON object from chatty output.
	if match := jsonObjectPattern.FindString(raw); match != "" {
		if err := json.Unmarshal([]byte(match), out); err == nil {
			return meta, nil
		}
	}
	return meta, fmt.Errorf("failed to parse JSON from response: %s", truncate(raw, 200))
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	body := lines[1:]
	if strings.TrimSpace(body[len(body)-1]) == "```" {
		body = body[:len(body)-1]
	}
	return strings.Join(body, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
