package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/research"
)

// Researcher runs the start flow: clarifying questions or a full report.
type Researcher interface {
	Start(ctx context.Context, req research.StartRequest, onProgress func(research.Progress)) (*research.StartResponse, error)
}

// ResearcherFactory builds a Researcher that logs to logger, so each job
// can carry its own log sink.
type ResearcherFactory func(logger *slog.Logger) Researcher

type JobStore interface {
	LogWriter
	CreateJob(ctx context.Context, req database.NewJob) (*database.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, limit int) ([]database.Job, error)
	SetJobStatus(ctx context.Context, id uuid.UUID, status database.JobStatus) error
	SaveJobProgress(ctx context.Context, id uuid.UUID, progress []byte) error
	CompleteJob(ctx context.Context, id uuid.UUID, report string, result []byte) error
	FailJob(ctx context.Context, id uuid.UUID, reason string) error
	GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error)
}

type KnowledgeBase interface {
	IndexJob(ctx context.Context, jobID, query string, result *research.Result, report string) (int, error)
	SearchContent(ctx context.Context, args knowledge.SearchContentArgs) ([]knowledge.SearchHit, error)
}

var (
	ErrJobsDisabled      = errors.New("jobs require a database")
	ErrKnowledgeDisabled = errors.New("knowledge search requires a database and an embedder")
	ErrFeedbackRequired  = errors.New("feedback is required; call POST /api/research without feedback to get clarifying questions")
)

type Service struct {
	NewResearcher ResearcherFactory
	Jobs          JobStore
	Knowledge     KnowledgeBase
	Metrics       *Metrics
	Logger        *slog.Logger

	DefaultBreadth int
	DefaultDepth   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the optional parts; jobs and knowledge may be nil when no
// database is configured.
func NewService(newResearcher ResearcherFactory, jobs JobStore, kb KnowledgeBase, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		NewResearcher:  newResearcher,
		Jobs:           jobs,
		Knowledge:      kb,
		Metrics:        metrics,
		Logger:         logger,
		DefaultBreadth: 4,
		DefaultDepth:   2,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Research runs the start flow synchronously.
func (s *Service) Research(ctx context.Context, req research.StartRequest, onProgress func(research.Progress)) (*research.StartResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	done := s.Metrics.track()
	resp, err := s.NewResearcher(s.Logger).Start(ctx, req, onProgress)
	done(resp, err)
	return resp, err
}

func (s *Service) CreateJob(ctx context.Context, req research.StartRequest) (*database.Job, error) {
	if s.Jobs == nil {
		return nil, ErrJobsDisabled
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Feedback) == "" {
		return nil, ErrFeedbackRequired
	}

	job, err := s.Jobs.CreateJob(ctx, database.NewJob{
		Query:    req.Query,
		Breadth:  req.Breadth,
		Depth:    req.Depth,
		Feedback: req.Feedback,
	})
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWorker(job.ID, req)
	}()

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	if s.Jobs == nil {
		return nil, ErrJobsDisabled
	}
	return s.Jobs.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]database.Job, error) {
	if s.Jobs == nil {
		return nil, ErrJobsDisabled
	}
	return s.Jobs.ListJobs(ctx, 50)
}

func (s *Service) GetJobLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	if s.Jobs == nil {
		return nil, ErrJobsDisabled
	}
	return s.Jobs.GetJobLogs(ctx, id)
}

func (s *Service) SearchLearnings(ctx context.Context, args knowledge.SearchContentArgs) ([]knowledge.SearchHit, error) {
	if s.Knowledge == nil {
		return nil, ErrKnowledgeDisabled
	}
	return s.Knowledge.SearchContent(ctx, args)
}

// Shutdown cancels running jobs and waits for their workers to record the
// outcome, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runWorker(jobID uuid.UUID, req research.StartRequest) {
	ctx := s.ctx
	logger := slog.New(NewDBLogHandler(s.Jobs, jobID, s.Logger.Handler())).With("job", jobID.String())

	if err := s.Jobs.SetJobStatus(ctx, jobID, database.JobRunning); err != nil {
		logger.Error("Failed to mark job running", "error", err)
	}

	onProgress := func(p research.Progress) {
		progressJSON, err := json.Marshal(p)
		if err != nil {
			logger.Error("Failed to marshal progress", "error", err)
			return
		}
		if err := s.Jobs.SaveJobProgress(context.WithoutCancel(ctx), jobID, progressJSON); err != nil {
			logger.Error("Failed to save progress to DB", "error", err)
		}
	}

	done := s.Metrics.track()
	resp, err := s.NewResearcher(logger).Start(ctx, req, onProgress)
	done(resp, err)
	if err == nil && (resp == nil || resp.Result == nil) {
		err = errors.New("research returned no result")
	}
	if err != nil {
		s.failJob(ctx, logger, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		s.failJob(ctx, logger, jobID, fmt.Sprintf("Failed to encode result: %v", err))
		return
	}
	if err := s.Jobs.CompleteJob(context.WithoutCancel(ctx), jobID, resp.Report, resultJSON); err != nil {
		logger.Error("Failed to save final report to DB", "error", err)
		return
	}
	logger.Info("Job completed", "learnings", len(resp.Result.Learnings), "failed_queries", len(resp.Result.FailedQueries))

	if s.Knowledge != nil {
		if _, err := s.Knowledge.IndexJob(ctx, jobID.String(), req.Query, resp.Result, resp.Report); err != nil {
			logger.Warn("Failed to index job", "error", err)
		}
	}
}

func (s *Service) failJob(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, reason string) {
	logger.Error(reason)
	if err := s.Jobs.FailJob(context.WithoutCancel(ctx), jobID, reason); err != nil {
		logger.Error("Failed to mark job failed", "error", err)
	}
}
