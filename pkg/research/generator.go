package research

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// GenerateRequest asks the model for one JSON object matching Schema.
// Name identifies the call site in logs and metrics.
type GenerateRequest struct {
	Name   string
	Model  string
	System string
	Prompt string
	Schema *jsonschema.Schema
}

// Generator produces structured output. Implementations decode the object
// into out and return an error when it does not conform to the schema.
type Generator interface {
	GenerateObject(ctx context.Context, req GenerateRequest, out any) error
}

// SearchRequest is one search-service call.
type SearchRequest struct {
	Query   string
	Limit   int
	Timeout time.Duration
	Formats []string
}

// Page is a single search hit. Pages without URL or Markdown are ignored.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// Searcher runs a web search and scrapes the hits. Rate-limit failures are
// reported as *retry.RateLimitError.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Page, error)
}

// mustSchema derives the response schema for T. The response types in this
// package are fixed, so a failure is a programming error.
func mustSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(err)
	}
	return s
}
