package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
)

// LLMGenerator implements research.Generator on top of any langchaingo model
// by asking for JSON output and validating it against the request schema.
type LLMGenerator struct {
	LLM    llms.Model
	Logger *slog.Logger

	// resolved is keyed by the schema's JSON encoding. Callers may pass a
	// fresh *jsonschema.Schema on every request.
	mu       sync.Mutex
	resolved map[string]*jsonschema.Resolved
}

func NewLLMGenerator(llm llms.Model, logger *slog.Logger) *LLMGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{
		LLM:      llm,
		Logger:   logger,
		resolved: make(map[string]*jsonschema.Resolved),
	}
}

func (g *LLMGenerator) GenerateObject(ctx context.Context, req research.GenerateRequest, out any) error {
	var schemaJSON []byte
	if req.Schema != nil {
		b, err := json.Marshal(req.Schema)
		if err != nil {
			return fmt.Errorf("%s: failed to encode schema: %w", req.Name, err)
		}
		schemaJSON = b
	}
	system := systemWithSchema(req.System, schemaJSON)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{llms.WithJSONMode()}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	resp, err := g.LLM.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Name, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s: model returned no choices", req.Name)
	}

	content := stripCodeFence(resp.Choices[0].Content)

	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		g.Logger.Warn("Model returned invalid JSON", "name", req.Name, "error", err)
		return fmt.Errorf("%s: invalid JSON: %w", req.Name, err)
	}
	if req.Schema != nil {
		resolved, err := g.resolve(req.Schema, string(schemaJSON))
		if err != nil {
			return err
		}
		if err := resolved.Validate(raw); err != nil {
			g.Logger.Warn("Model output does not match schema", "name", req.Name, "error", err)
			return fmt.Errorf("%s: schema validation: %w", req.Name, err)
		}
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%s: decode: %w", req.Name, err)
	}
	return nil
}

func (g *LLMGenerator) resolve(s *jsonschema.Schema, key string) (*jsonschema.Resolved, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved == nil {
		g.resolved = make(map[string]*jsonschema.Resolved)
	}
	if r, ok := g.resolved[key]; ok {
		return r, nil
	}
	r, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}
	g.resolved[key] = r
	return r, nil
}

func systemWithSchema(system string, schemaJSON []byte) string {
	if schemaJSON == nil {
		return system + "\n\n# Response Format\nRespond with a single JSON object."
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, schemaJSON, "", "  "); err != nil {
		indented.Reset()
		indented.Write(schemaJSON)
	}
	return system + "\n\n# Response Format\nRespond with a single JSON object that matches this JSON schema:\n" + indented.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ research.Generator = (*LLMGenerator)(nil)
