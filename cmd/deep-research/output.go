package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"github.com/mikeboe/deep-research/pkg/research"
)

type breakdownFile struct {
	Query         string                  `yaml:"query"`
	Learnings     []research.Learning     `yaml:"learnings"`
	VisitedURLs   []string                `yaml:"visitedUrls"`
	FailedQueries []string                `yaml:"failedQueries,omitempty"`
	Breakdown     []research.Contribution `yaml:"breakdown"`
}

func writeBreakdown(path, query string, result *research.Result) error {
	data, err := yaml.Marshal(breakdownFile{
		Query:         query,
		Learnings:     result.Learnings,
		VisitedURLs:   result.VisitedURLs,
		FailedQueries: result.FailedQueries,
		Breakdown:     result.Breakdown,
	})
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write breakdown: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, result *research.Result) {
	texts := make([]string, len(result.Learnings))
	for i, l := range result.Learnings {
		texts[i] = l.Text
	}
	fmt.Fprintf(out, "\n\nLearnings:\n\n%s\n", strings.Join(texts, "\n"))
	fmt.Fprintf(out, "\n\nVisited URLs (%d):\n\n%s\n", len(result.VisitedURLs), strings.Join(result.VisitedURLs, "\n"))
	if len(result.FailedQueries) > 0 {
		fmt.Fprintf(out, "\n\nFailed queries (%d):\n\n%s\n", len(result.FailedQueries), strings.Join(result.FailedQueries, "\n"))
	}
	fmt.Fprintf(out, "\n%d generation calls, %d search calls in %s\n",
		result.Stats.GenerationCalls, result.Stats.SearchCalls, result.Stats.Elapsed.Round(time.Second))
}

// renderMarkdown styles the report for the terminal, falling back to the
// raw text if rendering fails.
func renderMarkdown(report string, width int) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return report
	}
	out, err := r.Render(report)
	if err != nil {
		return report
	}
	return out
}
