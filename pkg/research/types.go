package research

import (
	"sync/atomic"
	"time"
)

// Learning is one attributed fact distilled from a single page.
type Learning struct {
	Text      string `json:"learning" yaml:"learning"`
	SourceURL string `json:"sourceUrl" yaml:"sourceUrl"`
}

// SerpQuery is a planned search query and the goal it serves.
type SerpQuery struct {
	Query        string `json:"query" jsonschema:"The SERP query"`
	ResearchGoal string `json:"researchGoal" jsonschema:"First talk about the goal of the research that this query is meant to accomplish, then go deeper into how to advance the research once the results are found, mention additional research directions. Be as specific as possible, especially for additional research directions."`
}

// Contribution records what one branch found and the branches it spawned.
type Contribution struct {
	Query            string         `json:"query" yaml:"query"`
	ResearchGoal     string         `json:"researchGoal" yaml:"researchGoal"`
	Learnings        []Learning     `json:"learnings" yaml:"learnings"`
	SourceURLs       []string       `json:"sourceUrls" yaml:"sourceUrls"`
	SubContributions []Contribution `json:"subContributions,omitempty" yaml:"subContributions,omitempty"`
}

// Progress is the most recent known state of one research invocation.
type Progress struct {
	CurrentDepth     int    `json:"currentDepth"`
	TotalDepth       int    `json:"totalDepth"`
	CurrentBreadth   int    `json:"currentBreadth"`
	TotalBreadth     int    `json:"totalBreadth"`
	CurrentQuery     string `json:"currentQuery,omitempty"`
	TotalQueries     int    `json:"totalQueries"`
	CompletedQueries int    `json:"completedQueries"`
}

// Result is the aggregate returned by Research.
type Result struct {
	Learnings   []Learning     `json:"learnings"`
	VisitedURLs []string       `json:"visitedUrls"`
	Breakdown   []Contribution `json:"breakdown"`

	// FailedQueries lists branches that were dropped after an isolated failure.
	FailedQueries []string `json:"failedQueries,omitempty"`
	Stats         Stats    `json:"stats"`
}

// Request starts a research invocation. Learnings and VisitedURLs seed the
// accumulated context and are usually empty.
type Request struct {
	Query       string
	Breadth     int
	Depth       int
	Learnings   []Learning
	VisitedURLs []string
}

// Stats is a per-invocation snapshot of external call counts.
type Stats struct {
	GenerationCalls int64         `json:"generationCalls"`
	SearchCalls     int64         `json:"searchCalls"`
	StartedAt       time.Time     `json:"startedAt"`
	Elapsed         time.Duration `json:"elapsed"`
}

type counters struct {
	started     time.Time
	generations atomic.Int64
	searches    atomic.Int64
}

func newCounters() *counters {
	return &counters{started: time.Now()}
}

func (c *counters) snapshot() Stats {
	return Stats{
		GenerationCalls: c.generations.Load(),
		SearchCalls:     c.searches.Load(),
		StartedAt:       c.started,
		Elapsed:         time.Since(c.started),
	}
}

// branchResult is what one level hands back to its parent.
type branchResult struct {
	learnings []Learning
	urls      []string
	breakdown []Contribution
	failed    []string
}
