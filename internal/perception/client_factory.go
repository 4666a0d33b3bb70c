package perception

import (
	"context"
	"strings"

	"aisatoshi/internal/config"
	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// NewClient builds the configured provider client wrapped in a TracingClient.
func NewClient(ctx context.Context, cfg config.LLMConfig) (types.LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	var (
		inner types.LLMClient
		err   error
	)
	switch provider {
	case "gemini", "":
		inner, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "openai":
		inner, err = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, types.ConfigurationError("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logging.Perception("LLM client ready: %s", inner.Name())
	return NewTracingClient(inner), nil
}
