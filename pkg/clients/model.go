package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
)

// NewModel builds the chat model for the configured provider, defaulting to
// the fast model. Callers switch to the reasoning model per request.
func NewModel(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case ProviderGoogle, "":
		return GoogleAi(ctx, cfg.GoogleApiKey, cfg.FastModel)
	case ProviderOpenAI:
		return OpenAI(cfg.OpenAIApiKey, cfg.OpenAIBaseURL, cfg.FastModel)
	default:
		return nil, fmt.Errorf("invalid LLM provider: %s", cfg.LLMProvider)
	}
}
