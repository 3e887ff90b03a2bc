package clients

import (
	"errors"

	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultOpenAIModel = "o3-mini"

// OpenAI also serves OpenAI-compatible endpoints through baseURL.
func OpenAI(apiKey, baseURL, model string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}
