package embeddings

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	DefaultModel      = "gemini-embedding-001"
	DefaultDimensions = 768

	// maxBatch is the Gemini API's per-request content limit.
	maxBatch = 100

	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// GoogleEmbedder embeds learnings and report chunks with the Gemini API.
type GoogleEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GoogleEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is not set")
	}
	if model == "" {
		model = DefaultModel
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}

	return &GoogleEmbedder{
		client:     client,
		model:      model,
		dimensions: int32(dimensions),
	}, nil
}

func (e *GoogleEmbedder) Dimensions() int {
	return int(e.dimensions)
}

// EmbedQuery embeds a search query.
func (e *GoogleEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts for storage, batching requests.
func (e *GoogleEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := e.embed(ctx, texts[start:end], taskDocument)
		if err != nil {
			return nil, err
		}
		result = append(result, vecs...)
	}
	return result, nil
}

func (e *GoogleEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	dims := e.dimensions
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             task,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(res.Embeddings))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
