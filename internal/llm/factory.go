package llm

import (
	"fmt"

	"driftbench/internal/config"
)

// New builds a provider client from a model-role configuration.
func New(cfg config.ModelConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	case "gemini":
		return NewGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}
