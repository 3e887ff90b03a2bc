// Package knowledge indexes finished research jobs into the vector store and
// answers semantic queries over what past jobs learned.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const (
	KindLearning = "learning"
	KindReport   = "report"

	DefaultTopK = 5
)

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error)
	GetContentByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error)
	DeleteByMetadata(ctx context.Context, filter map[string]any) (int64, error)
}

type Toolset struct {
	Store    Store
	Embedder Embedder
	Splitter *splitter.TextSplitter
	Logger   *slog.Logger
}

func NewToolset(store Store, embedder Embedder, chunkSize, chunkOverlap int, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{
		Store:    store,
		Embedder: embedder,
		Splitter: splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		Logger:   logger,
	}
}

// IndexJob stores every learning of a finished job plus its report in
// chunks, replacing whatever was indexed for the job before.
func (t *Toolset) IndexJob(ctx context.Context, jobID, query string, result *research.Result, report string) (int, error) {
	if result == nil {
		return 0, errors.New("nothing to index")
	}
	if _, err := t.Store.DeleteByMetadata(ctx, map[string]any{"job_id": jobID}); err != nil {
		return 0, err
	}

	var docs []vectorstore.Document
	for _, l := range result.Learnings {
		docs = append(docs, vectorstore.Document{
			Content: l.Text,
			Metadata: map[string]any{
				"job_id": jobID,
				"kind":   KindLearning,
				"source": l.SourceURL,
				"query":  query,
			},
		})
	}

	if strings.TrimSpace(report) != "" {
		chunks, err := t.Splitter.SplitText(report)
		if err != nil {
			return 0, fmt.Errorf("failed to split report: %w", err)
		}
		for i, c := range chunks {
			docs = append(docs, vectorstore.Document{
				Content: c,
				Metadata: map[string]any{
					"job_id": jobID,
					"kind":   KindReport,
					"chunk":  i,
					"query":  query,
				},
			})
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := t.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(docs), len(vecs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	if err := t.Store.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	t.Logger.Info("Indexed research job", "job", jobID, "documents", len(docs))
	return len(docs), nil
}

type SearchContentArgs struct {
	Query  string `json:"query" jsonschema:"The search query"`
	TopK   int    `json:"topK,omitempty" jsonschema:"Number of results to return (default 5)"`
	JobID  string `json:"jobId,omitempty" jsonschema:"Only search what this research job learned"`
	Source string `json:"source,omitempty" jsonschema:"Only return content from this source URL"`
	Kind   string `json:"kind,omitempty" jsonschema:"Either learning or report"`
}

type SearchHit struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	JobID   string  `json:"jobId,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Score   float64 `json:"score"`
}

func (t *Toolset) SearchContent(ctx context.Context, args SearchContentArgs) ([]SearchHit, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	if args.TopK <= 0 {
		args.TopK = DefaultTopK
	}

	filter := map[string]any{}
	if args.JobID != "" {
		filter["job_id"] = args.JobID
	}
	if args.Source != "" {
		filter["source"] = args.Source
	}
	if args.Kind != "" {
		filter["kind"] = args.Kind
	}

	t.Logger.Info("Search content", "query", args.Query, "topK", args.TopK, "filter", filter)

	vec, err := t.Embedder.EmbedQuery(ctx, args.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	results, err := t.Store.SimilaritySearch(ctx, vec, args.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			Content: r.Document.Content,
			Source:  metaString(r.Document.Metadata, "source"),
			JobID:   metaString(r.Document.Metadata, "job_id"),
			Kind:    metaString(r.Document.Metadata, "kind"),
			Score:   r.Score,
		})
	}
	return hits, nil
}

// FindContentBySource returns everything learned from one URL across jobs.
func (t *Toolset) FindContentBySource(ctx context.Context, source string) ([]vectorstore.Document, error) {
	return t.FindContentByMetadata(ctx, map[string]any{"source": source})
}

// FindContentByMetadata accepts the $and/$or/$not filter language of the
// vector store.
func (t *Toolset) FindContentByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error) {
	docs, err := t.Store.GetContentByMetadata(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find content: %w", err)
	}
	return docs, nil
}

// FormatHits renders hits as plain text for tool output.
func FormatHits(hits []SearchHit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		var sb strings.Builder
		source := h.Source
		if source == "" {
			source = "report"
		}
		fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", source, h.Content)
		if h.JobID != "" {
			fmt.Fprintf(&sb, "\n[Job]: %s", h.JobID)
		}
		fmt.Fprintf(&sb, "\n[Score]: %.3f", h.Score)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
