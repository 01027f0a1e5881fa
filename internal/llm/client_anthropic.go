package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"driftbench/internal/config"
)

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	cfg        config.ModelConfig
	httpClient *http.Client
}

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// NewAnthropicClient builds a client for one model role.
func NewAnthropicClient(cfg config.ModelConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, &PermanentError{Err: fmt.Errorf("Anthropic API key not configured")}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		cfg:     cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
		},
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the history and returns the next assistant utterance.
func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, systemPrompt string) (string, GenerationMeta, error) {
	meta := GenerationMeta{
		Provider:    "anthropic",
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Messages:    toAnthropicMessages(messages),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", meta, &PermanentError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", meta, &PermanentError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", meta, &TransientError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", meta, &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", meta, classifyStatus(resp.StatusCode,
			fmt.Errorf("API request failed: %s", truncate(string(body), 200)))
	}

	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return "", meta, &TransientError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if ar.Error != nil {
		return "", meta, &PermanentError{Err: fmt.Errorf("API error: %s", ar.Error.Message)}
	}
	if len(ar.Content) == 0 {
		return "", meta, &TransientError{Err: fmt.Errorf("no completion returned")}
	}

	var result strings.Builder
	for _, content := range ar.Content {
		if content.Type == "text" {
			result.WriteString(content.Text)
		}
	}

	meta.ResponseID = ar.ID
	meta.Usage = &TokenUsage{
		Input:  ar.Usage.InputTokens,
		Output: ar.Usage.OutputTokens,
		Total:  ar.Usage.InputTokens + ar.Usage.OutputTokens,
	}
	return strings.TrimSpace(result.String()), meta, nil
}

func toAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return out
}
