package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"driftbench/internal/config"
)

// OpenAIClient implements Client over the official OpenAI SDK.
type OpenAIClient struct {
	client openai.Client
	cfg    config.ModelConfig
}

// NewOpenAIClient builds a client for one model role.
func NewOpenAIClient(cfg config.ModelConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, &PermanentError{Err: fmt.Errorf("OpenAI API key not configured")}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, option.WithRequestTimeout(cfg.TimeoutDuration()))
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

// Generate sends the history and returns the next assistant utterance.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, systemPrompt string) (string, GenerationMeta, error) {
	meta := GenerationMeta{
		Provider:    "openai",
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    toOpenAIMessages(messages, systemPrompt),
		Temperature: openai.Float(c.cfg.Temperature),
		TopP:        openai.Float(c.cfg.TopP),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", meta, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", meta, &TransientError{Err: fmt.Errorf("no completion returned")}
	}

	meta.ResponseID = resp.ID
	meta.Usage = &TokenUsage{
		Input:  int(resp.Usage.PromptTokens),
		Output: int(resp.Usage.CompletionTokens),
		Total:  int(resp.Usage.TotalTokens),
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), meta, nil
}

func toOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, err)
	}
	if looksTransient(err) {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}
