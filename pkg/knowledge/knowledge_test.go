package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

type fakeEmbedder struct {
	queries []string
	err     error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	return []float32{1, 0}, f.err
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeStore struct {
	docs        []vectorstore.Document
	deleted     []map[string]any
	lastFilter  map[string]any
	lastTopK    int
	searchReply []vectorstore.SimilaritySearchResult
}

func (f *fakeStore) AddDocuments(_ context.Context, docs []vectorstore.Document) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error) {
	f.lastTopK = topK
	f.lastFilter = filter
	return f.searchReply, nil
}

func (f *fakeStore) GetContentByMetadata(_ context.Context, filter map[string]any) ([]vectorstore.Document, error) {
	f.lastFilter = filter
	return f.docs, nil
}

func (f *fakeStore) DeleteByMetadata(_ context.Context, filter map[string]any) (int64, error) {
	f.deleted = append(f.deleted, filter)
	return 0, nil
}

func newTestToolset(store Store, emb Embedder) *Toolset {
	return NewToolset(store, emb, 40, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIndexJob(t *testing.T) {
	store := &fakeStore{}
	ts := newTestToolset(store, &fakeEmbedder{})

	result := &research.Result{Learnings: []research.Learning{
		{Text: "Battery prices fell 90% since 2010", SourceURL: "https://a.example"},
		{Text: "Solid state cells ship in 2027", SourceURL: "https://b.example"},
	}}
	report := strings.Repeat("word ", 30)

	n, err := ts.IndexJob(context.Background(), "job-1", "batteries", result, report)
	require.NoError(t, err)

	assert.Equal(t, len(store.docs), n)
	assert.Greater(t, n, 3, "report is chunked")
	assert.Equal(t, []map[string]any{{"job_id": "job-1"}}, store.deleted)

	first := store.docs[0]
	assert.Equal(t, "Battery prices fell 90% since 2010", first.Content)
	assert.Equal(t, KindLearning, first.Metadata["kind"])
	assert.Equal(t, "https://a.example", first.Metadata["source"])
	assert.Equal(t, "job-1", first.Metadata["job_id"])
	assert.Equal(t, KindReport, store.docs[2].Metadata["kind"])
	for _, d := range store.docs {
		assert.Len(t, d.Embedding, 2)
	}
}

func TestIndexJob_EmbedFailure(t *testing.T) {
	store := &fakeStore{}
	ts := newTestToolset(store, &fakeEmbedder{err: errors.New("quota")})

	_, err := ts.IndexJob(context.Background(), "job-1", "q",
		&research.Result{Learnings: []research.Learning{{Text: "x", SourceURL: "u"}}}, "")
	assert.ErrorContains(t, err, "quota")
	assert.Empty(t, store.docs)
}

func TestIndexJob_Nothing(t *testing.T) {
	ts := newTestToolset(&fakeStore{}, &fakeEmbedder{})
	n, err := ts.IndexJob(context.Background(), "job-1", "q", &research.Result{}, "  ")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchContent(t *testing.T) {
	store := &fakeStore{searchReply: []vectorstore.SimilaritySearchResult{{
		Document: vectorstore.Document{
			Content:  "Battery prices fell",
			Metadata: map[string]any{"source": "https://a.example", "job_id": "job-1", "kind": KindLearning},
		},
		Score: 0.91,
	}}}
	emb := &fakeEmbedder{}
	ts := newTestToolset(store, emb)

	hits, err := ts.SearchContent(context.Background(), SearchContentArgs{Query: "battery cost", JobID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"battery cost"}, emb.queries)
	assert.Equal(t, DefaultTopK, store.lastTopK)
	assert.Equal(t, map[string]any{"job_id": "job-1"}, store.lastFilter)
	require.Len(t, hits, 1)
	assert.Equal(t, SearchHit{Content: "Battery prices fell", Source: "https://a.example", JobID: "job-1", Kind: KindLearning, Score: 0.91}, hits[0])

	text := FormatHits(hits)
	assert.Contains(t, text, "[Source]: https://a.example\n[Content]: Battery prices fell")
	assert.Contains(t, text, "[Score]: 0.910")
}

func TestSearchContent_RequiresQuery(t *testing.T) {
	ts := newTestToolset(&fakeStore{}, &fakeEmbedder{})
	_, err := ts.SearchContent(context.Background(), SearchContentArgs{Query: " "})
	assert.Error(t, err)
}

func TestFindContentBySource(t *testing.T) {
	store := &fakeStore{docs: []vectorstore.Document{{Content: "x"}}}
	ts := newTestToolset(store, &fakeEmbedder{})

	docs, err := ts.FindContentBySource(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, map[string]any{"source": "https://a.example"}, store.lastFilter)
}
