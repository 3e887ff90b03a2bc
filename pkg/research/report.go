package research

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

type reportResponse struct {
	ReportMarkdown string `json:"reportMarkdown" jsonschema:"Final report on the topic in Markdown"`
}

var reportSchema = mustSchema[reportResponse]()

// WriteReport turns the learnings into a Markdown report with inline
// citations and appends a References section numbered by first-seen URL
// order. The References section is always built locally.
func (e *Engine) WriteReport(ctx context.Context, prompt string, learnings []Learning, visitedURLs []string) (string, error) {
	urls, citation := numberURLs(visitedURLs)

	blocks := make([]string, len(learnings))
	for i, l := range learnings {
		text := l.Text
		if n, ok := citation[l.SourceURL]; ok {
			text += " [" + strconv.Itoa(n) + "]"
		}
		blocks[i] = "<learning>\n" + text + "\n</learning>"
	}
	learningsString := splitter.Trim(strings.Join(blocks, "\n"), ReportInputLimit)

	e.logger.Info("Writing final report", "learnings", len(learnings), "sources", len(urls))

	var resp reportResponse
	err := e.generate(ctx, nil, GenerateRequest{
		Name:  "final-report",
		Model: e.reportModel,
		Prompt: fmt.Sprintf(
			"Given the following prompt from the user, write a final report on the topic using the learnings below. "+
				"The report should be detailed (at least 3 pages) and include all learnings with their numbered citations "+
				"(e.g. [1], [2], etc.) inline where appropriate. Each fact or learning should be followed by its citation "+
				"number in square brackets.\n\n<prompt>%s</prompt>\n\nLearnings:\n\n<learnings>\n%s\n</learnings>",
			prompt, learningsString),
		Schema: reportSchema,
	}, &resp)
	if err != nil {
		return "", &SynthesisError{Err: err}
	}
	if strings.TrimSpace(resp.ReportMarkdown) == "" {
		return "", &SynthesisError{Err: errors.New("model returned an empty report")}
	}

	return resp.ReportMarkdown + References(urls), nil
}

// References renders the numbered source list appended to every report.
func References(urls []string) string {
	var b strings.Builder
	b.WriteString("\n\n## References\n\n")
	for i, u := range urls {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, u)
	}
	return b.String()
}

// numberURLs assigns 1-based citation numbers by first appearance.
func numberURLs(visited []string) ([]string, map[string]int) {
	urls := make([]string, 0, len(visited))
	citation := make(map[string]int, len(visited))
	for _, u := range visited {
		if _, ok := citation[u]; ok {
			continue
		}
		urls = append(urls, u)
		citation[u] = len(urls)
	}
	return urls, citation
}
