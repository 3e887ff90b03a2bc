package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mikeboe/deep-research/pkg/retry"
)

const (
	DefaultConcurrency       = 2
	DefaultSearchLimit       = 5
	DefaultSearchTimeout     = 15 * time.Second
	DefaultGenerationTimeout = 60 * time.Second
	DefaultFeedbackQuestions = 3

	// Budgets, in runes, for content sent to the model.
	PageContentLimit = 25_000
	ReportInputLimit = 150_000
)

type Engine struct {
	gen      Generator
	searcher Searcher
	logger   *slog.Logger

	concurrency       int
	model             string
	reportModel       string
	searchLimit       int
	searchTimeout     time.Duration
	generationTimeout time.Duration
	retryPolicy       retry.Policy
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency sets how many branches may search and distill at once,
// across all recursion levels of one invocation.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithReportModel overrides the model used for the final report.
func WithReportModel(model string) Option {
	return func(e *Engine) { e.reportModel = model }
}

func WithSearchLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.searchLimit = n
		}
	}
}

func WithSearchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.searchTimeout = d
		}
	}
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.generationTimeout = d
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.retryPolicy = p }
}

func NewEngine(gen Generator, searcher Searcher, opts ...Option) *Engine {
	e := &Engine{
		gen:               gen,
		searcher:          searcher,
		logger:            slog.Default(),
		concurrency:       DefaultConcurrency,
		searchLimit:       DefaultSearchLimit,
		searchTimeout:     DefaultSearchTimeout,
		generationTimeout: DefaultGenerationTimeout,
		retryPolicy:       retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retryPolicy.Logger == nil {
		e.retryPolicy.Logger = e.logger
	}
	if e.reportModel == "" {
		e.reportModel = e.model
	}
	return e
}

// run is the state shared by every level of one top-level invocation.
type run struct {
	limiter  *semaphore.Weighted
	tracker  *Tracker
	counters *counters
}

// Research expands req.Query into search queries, distills what the searches
// return and recurses into follow-up directions until req.Depth is used up.
// onProgress may be nil; it is never called after Research returns.
func (e *Engine) Research(ctx context.Context, req Request, onProgress func(Progress)) (*Result, error) {
	breadth, depth := max(req.Breadth, 1), max(req.Depth, 1)

	r := &run{
		limiter: semaphore.NewWeighted(int64(e.concurrency)),
		tracker: NewTracker(Progress{
			CurrentDepth:   depth,
			TotalDepth:     depth,
			CurrentBreadth: breadth,
			TotalBreadth:   breadth,
		}, onProgress),
		counters: newCounters(),
	}
	defer r.tracker.Close()
	stop := context.AfterFunc(ctx, r.tracker.Close)
	defer stop()

	e.logger.Info("Starting research", "query", req.Query, "breadth", breadth, "depth", depth)

	res, err := e.researchLevel(ctx, r, req.Query, breadth, depth, req.Learnings, req.VisitedURLs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research cancelled: %w", err)
	}

	result := &Result{
		Learnings:     res.learnings,
		VisitedURLs:   res.urls,
		Breakdown:     res.breakdown,
		FailedQueries: res.failed,
		Stats:         r.counters.snapshot(),
	}
	if result.Learnings == nil {
		result.Learnings = []Learning{}
	}
	if result.VisitedURLs == nil {
		result.VisitedURLs = []string{}
	}
	if result.Breakdown == nil {
		result.Breakdown = []Contribution{}
	}

	e.logger.Info("Research complete",
		"learnings", len(result.Learnings),
		"urls", len(result.VisitedURLs),
		"failed_queries", len(result.FailedQueries),
		"generation_calls", result.Stats.GenerationCalls,
		"search_calls", result.Stats.SearchCalls,
		"elapsed", result.Stats.Elapsed,
	)
	return result, nil
}

func (e *Engine) researchLevel(ctx context.Context, r *run, query string, breadth, depth int, learnings []Learning, urls []string) (branchResult, error) {
	queries, err := e.planQueries(ctx, r, query, learnings, breadth)
	if err != nil {
		return branchResult{}, err
	}

	r.tracker.Update(func(p *Progress) {
		p.TotalQueries += len(queries)
		if len(queries) > 0 {
			p.CurrentQuery = queries[0].Query
		}
	})

	results := make([]branchResult, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results[i] = e.runBranch(ctx, r, q, breadth, depth, learnings, urls)
			return nil
		})
	}
	_ = g.Wait()

	return mergeResults(results), nil
}

func (e *Engine) runBranch(ctx context.Context, r *run, q SerpQuery, breadth, depth int, learnings []Learning, urls []string) branchResult {
	newBreadth, newDepth := ceilHalf(breadth), depth-1

	found, err := e.searchAndDistill(ctx, r, q, newBreadth)
	if err != nil {
		e.logger.Error("Error running query", "query", q.Query, "error", &BranchError{Query: q.Query, Err: err})
		r.tracker.Update(func(p *Progress) { p.CompletedQueries++ })
		return branchResult{failed: []string{q.Query}}
	}

	contribution := Contribution{
		Query:        q.Query,
		ResearchGoal: q.ResearchGoal,
		Learnings:    found.learnings,
		SourceURLs:   found.urls,
	}
	allLearnings := append(append([]Learning{}, learnings...), found.learnings...)
	allURLs := append(append([]string{}, urls...), found.urls...)

	if newDepth <= 0 {
		r.tracker.Update(func(p *Progress) {
			p.CurrentDepth = 0
			p.CompletedQueries++
			p.CurrentQuery = q.Query
		})
		return branchResult{
			learnings: allLearnings,
			urls:      allURLs,
			breakdown: []Contribution{contribution},
		}
	}

	r.tracker.Update(func(p *Progress) {
		p.CurrentDepth = newDepth
		p.CurrentBreadth = newBreadth
		p.CompletedQueries++
		p.CurrentQuery = q.Query
	})
	e.logger.Info("Researching deeper", "query", q.Query, "breadth", newBreadth, "depth", newDepth)

	deeper, err := e.researchLevel(ctx, r, nextQuery(q, found.followUps), newBreadth, newDepth, allLearnings, allURLs)
	if err != nil {
		e.logger.Error("Error running query", "query", q.Query, "error", &BranchError{Query: q.Query, Err: err})
		return branchResult{failed: []string{q.Query}}
	}

	contribution.SubContributions = deeper.breakdown
	return branchResult{
		learnings: deeper.learnings,
		urls:      deeper.urls,
		breakdown: []Contribution{contribution},
		failed:    deeper.failed,
	}
}

// searchAndDistill is the only step gated by the shared limiter. The slot is
// released before the caller recurses, otherwise a parent would wait on its
// own children.
func (e *Engine) searchAndDistill(ctx context.Context, r *run, q SerpQuery, numFollowUps int) (distilled, error) {
	if err := r.limiter.Acquire(ctx, 1); err != nil {
		return distilled{}, err
	}
	defer r.limiter.Release(1)

	pages, err := retry.Do(ctx, e.retryPolicy, func(ctx context.Context) ([]Page, error) {
		r.counters.searches.Add(1)
		ctx, cancel := context.WithTimeout(ctx, e.searchTimeout)
		defer cancel()
		return e.searcher.Search(ctx, SearchRequest{
			Query:   q.Query,
			Limit:   e.searchLimit,
			Timeout: e.searchTimeout,
			Formats: []string{"markdown"},
		})
	})
	if err != nil {
		return distilled{}, fmt.Errorf("search failed: %w", err)
	}

	return e.processSearchResult(ctx, r, q.Query, pages, numFollowUps)
}

func (e *Engine) generate(ctx context.Context, r *run, req GenerateRequest, out any) error {
	if req.Model == "" {
		req.Model = e.model
	}
	if req.System == "" {
		req.System = SystemPrompt()
	}
	if r != nil {
		r.counters.generations.Add(1)
	}
	return e.gen.GenerateObject(ctx, req, out)
}

func nextQuery(q SerpQuery, followUps []string) string {
	var b strings.Builder
	b.WriteString("Previous research goal: ")
	b.WriteString(q.ResearchGoal)
	b.WriteString("\nFollow-up research directions: ")
	for _, f := range followUps {
		b.WriteString("\n")
		b.WriteString(f)
	}
	return strings.TrimSpace(b.String())
}

// mergeResults folds sibling branches: learnings and URLs are deduplicated by
// value in first-seen order, contributions keep query order.
func mergeResults(results []branchResult) branchResult {
	var out branchResult
	seenLearnings := make(map[Learning]struct{})
	seenURLs := make(map[string]struct{})

	for _, res := range results {
		for _, l := range res.learnings {
			if _, ok := seenLearnings[l]; ok {
				continue
			}
			seenLearnings[l] = struct{}{}
			out.learnings = append(out.learnings, l)
		}
		for _, u := range res.urls {
			if _, ok := seenURLs[u]; ok {
				continue
			}
			seenURLs[u] = struct{}{}
			out.urls = append(out.urls, u)
		}
		out.breakdown = append(out.breakdown, res.breakdown...)
		out.failed = append(out.failed, res.failed...)
	}
	return out
}

func ceilHalf(n int) int {
	return (n + 1) / 2
}
