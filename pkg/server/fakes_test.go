package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/research"
)

type startFunc func(ctx context.Context, req research.StartRequest, onProgress func(research.Progress)) (*research.StartResponse, error)

type fakeResearcher struct {
	start  startFunc
	logger *slog.Logger
}

func (f fakeResearcher) Start(ctx context.Context, req research.StartRequest, onProgress func(research.Progress)) (*research.StartResponse, error) {
	if f.logger != nil {
		f.logger.Info("Starting research", "query", req.Query)
	}
	return f.start(ctx, req, onProgress)
}

func factory(start startFunc) ResearcherFactory {
	return func(logger *slog.Logger) Researcher {
		return fakeResearcher{start: start, logger: logger}
	}
}

// scripted answers with questions without feedback, otherwise reports two
// progress updates and a finished result.
func scripted(ctx context.Context, req research.StartRequest, onProgress func(research.Progress)) (*research.StartResponse, error) {
	if req.Feedback == "" {
		return &research.StartResponse{Questions: []string{"Which region?"}}, nil
	}
	for i := 1; i <= 2; i++ {
		if onProgress != nil {
			onProgress(research.Progress{TotalQueries: 2, CompletedQueries: i, TotalDepth: req.Depth, TotalBreadth: req.Breadth})
		}
	}
	return &research.StartResponse{
		Report: "# Report\n\n## References\n\n1. https://a.example",
		Result: &research.Result{
			Learnings:   []research.Learning{{Text: "fact", SourceURL: "https://a.example"}},
			VisitedURLs: []string{"https://a.example"},
			Breakdown:   []research.Contribution{{Query: "q1", Learnings: []research.Learning{{Text: "fact", SourceURL: "https://a.example"}}, SourceURLs: []string{"https://a.example"}}},
			Stats:       research.Stats{GenerationCalls: 5, SearchCalls: 2},
		},
	}, nil
}

func failing(context.Context, research.StartRequest, func(research.Progress)) (*research.StartResponse, error) {
	return nil, &research.PlanningError{Query: "q", Err: errors.New("model unavailable")}
}

type memLog struct {
	level   string
	message string
	meta    string
}

type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*database.Job
	logs     map[uuid.UUID][]memLog
	progress map[uuid.UUID][][]byte
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     map[uuid.UUID]*database.Job{},
		logs:     map[uuid.UUID][]memLog{},
		progress: map[uuid.UUID][][]byte{},
	}
}

func (m *memStore) InsertLog(_ context.Context, jobID uuid.UUID, _ time.Time, level, message string, metadata []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = append(m.logs[jobID], memLog{level: level, message: message, meta: string(metadata)})
	return nil
}

func (m *memStore) CreateJob(_ context.Context, req database.NewJob) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &database.Job{
		ID: uuid.New(), Query: req.Query, Breadth: req.Breadth, Depth: req.Depth, Feedback: req.Feedback,
		Status: database.JobPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) ListJobs(context.Context, int) ([]database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := []database.Job{}
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func (m *memStore) update(id uuid.UUID, fn func(j *database.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetJobStatus(_ context.Context, id uuid.UUID, status database.JobStatus) error {
	return m.update(id, func(j *database.Job) { j.Status = status })
}

func (m *memStore) SaveJobProgress(_ context.Context, id uuid.UUID, progress []byte) error {
	m.mu.Lock()
	m.progress[id] = append(m.progress[id], progress)
	m.mu.Unlock()
	return m.update(id, func(j *database.Job) { j.Progress = progress })
}

func (m *memStore) CompleteJob(_ context.Context, id uuid.UUID, report string, result []byte) error {
	return m.update(id, func(j *database.Job) {
		j.Status = database.JobCompleted
		j.Report = &report
		j.Result = result
	})
}

func (m *memStore) FailJob(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(j *database.Job) {
		j.Status = database.JobFailed
		j.Error = &reason
	})
}

func (m *memStore) GetJobLogs(_ context.Context, jobID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.LogEntry{}
	for i, l := range m.logs[jobID] {
		out = append(out, database.LogEntry{ID: int64(i + 1), Level: l.level, Message: l.message})
	}
	return out, nil
}

func (m *memStore) status(id uuid.UUID) database.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

type fakeKnowledge struct {
	mu      sync.Mutex
	indexed []string
	args    []knowledge.SearchContentArgs
	hits    []knowledge.SearchHit
}

func (f *fakeKnowledge) IndexJob(_ context.Context, jobID, _ string, result *research.Result, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, jobID)
	return len(result.Learnings), nil
}

func (f *fakeKnowledge) SearchContent(_ context.Context, args knowledge.SearchContentArgs) ([]knowledge.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, args)
	return f.hits, nil
}

func (f *fakeKnowledge) indexedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
