package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

type learningResponse struct {
	Learning string `json:"learning" jsonschema:"Extracted learning from the individual content"`
}

type followUpResponse struct {
	FollowUpQuestions []string `json:"followUpQuestions" jsonschema:"List of follow-up questions"`
}

var (
	learningSchema = mustSchema[learningResponse]()
	followUpSchema = mustSchema[followUpResponse]()
)

// distilled is what one query's search produced.
type distilled struct {
	learnings []Learning
	urls      []string
	followUps []string
}

type pageContent struct {
	url     string
	content string
}

func (e *Engine) distillLearning(ctx context.Context, r *run, content, url string) (Learning, error) {
	ctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Given the following content fetched from <url>%s</url>, extract a concise yet detailed learning. "+
			"Include key entities, metrics, and dates if present.\n\n<content>\n%s\n</content>",
		url, content)

	var resp learningResponse
	err := e.generate(ctx, r, GenerateRequest{
		Name:   "learning",
		Prompt: prompt,
		Schema: learningSchema,
	}, &resp)
	if err != nil {
		return Learning{}, err
	}

	text := strings.TrimSpace(resp.Learning)
	if text == "" {
		return Learning{}, errors.New("model returned an empty learning")
	}
	return Learning{Text: text, SourceURL: url}, nil
}

func (e *Engine) planFollowUps(ctx context.Context, r *run, query string, contents []string, n int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	blocks := make([]string, len(contents))
	for i, c := range contents {
		blocks[i] = "<content>\n" + c + "\n</content>"
	}
	prompt := fmt.Sprintf(
		"Given the aggregated contents from a SERP search for the query <query>%s</query>, "+
			"generate a list of follow-up questions to further research the topic. Return a maximum of %d questions.\n\n"+
			"<contents>\n%s\n</contents>",
		query, n, strings.Join(blocks, "\n"))

	var resp followUpResponse
	err := e.generate(ctx, r, GenerateRequest{
		Name:   "follow-up-questions",
		Prompt: prompt,
		Schema: followUpSchema,
	}, &resp)
	if err != nil {
		return nil, err
	}

	questions := make([]string, 0, len(resp.FollowUpQuestions))
	for _, q := range resp.FollowUpQuestions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if n > 0 && len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}

// processSearchResult distills one learning per page, concurrently, and plans
// follow-up questions over all pages. A page whose learning fails is skipped.
func (e *Engine) processSearchResult(ctx context.Context, r *run, query string, pages []Page, numFollowUps int) (distilled, error) {
	var contents []pageContent
	for _, p := range pages {
		if p.URL == "" || strings.TrimSpace(p.Markdown) == "" {
			continue
		}
		contents = append(contents, pageContent{url: p.URL, content: splitter.Trim(p.Markdown, PageContentLimit)})
	}
	e.logger.Info("Ran query", "query", query, "content_items", len(contents))

	var out distilled
	if len(contents) == 0 {
		return out, nil
	}

	learnings := make([]*Learning, len(contents))
	var g errgroup.Group
	for i, c := range contents {
		g.Go(func() error {
			l, err := e.distillLearning(ctx, r, c.content, c.url)
			if err != nil {
				e.logger.Warn("Failed to distill learning", "query", query, "url", c.url, "error", err)
				return nil
			}
			learnings[i] = &l
			return nil
		})
	}
	_ = g.Wait()

	texts := make([]string, len(contents))
	for i, c := range contents {
		texts[i] = c.content
		out.urls = append(out.urls, c.url)
		if learnings[i] != nil {
			out.learnings = append(out.learnings, *learnings[i])
		}
	}

	followUps, err := e.planFollowUps(ctx, r, query, texts, numFollowUps)
	if err != nil {
		return distilled{}, fmt.Errorf("follow-up questions failed: %w", err)
	}
	out.followUps = followUps

	e.logger.Info("Created learnings", "query", query, "learnings", len(out.learnings), "follow_ups", len(followUps))
	return out, nil
}
