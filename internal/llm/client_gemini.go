package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"driftbench/internal/config"
)

// GeminiClient implements Client over the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	cfg    config.ModelConfig
}

// NewGeminiClient builds a client for one model role.
func NewGeminiClient(cfg config.ModelConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, &PermanentError{Err: fmt.Errorf("Gemini API key not configured")}
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("failed to create GenAI client: %w", err)}
	}
	return &GeminiClient{client: client, cfg: cfg}, nil
}

// geminiRole maps a conversation role onto the GenAI role type. Anything
// that is not an assistant turn is sent as a user turn.
func geminiRole(r string) genai.Role {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// Generate sends the history and returns the next assistant utterance.
func (c *GeminiClient) Generate(ctx context.Context, messages []Message, systemPrompt string) (string, GenerationMeta, error) {
	meta := GenerationMeta{
		Provider:    "gemini",
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.cfg.Temperature)),
		TopP:        genai.Ptr(float32(c.cfg.TopP)),
	}
	if c.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, genCfg)
	if err != nil {
		if looksTransient(err) {
			return "", meta, &TransientError{Err: err}
		}
		return "", meta, &PermanentError{Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", meta, &TransientError{Err: fmt.Errorf("no completion returned")}
	}

	if resp.UsageMetadata != nil {
		meta.Usage = &TokenUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return text, meta, nil
}
