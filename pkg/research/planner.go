package research

import (
	"context"
	"fmt"
	"strings"
)

type serpQueriesResponse struct {
	Queries []SerpQuery `json:"queries"`
}

// planQueries asks the model for at most maxQueries distinct search queries.
// Failures are not retried here.
func (e *Engine) planQueries(ctx context.Context, r *run, topic string, prior []Learning, maxQueries int) ([]SerpQuery, error) {
	prompt := fmt.Sprintf(
		"Given the following prompt from the user, generate a list of SERP queries to research the topic. "+
			"Return a maximum of %d queries, but feel free to return less if the original prompt is clear. "+
			"Make sure each query is unique and not similar to each other: <prompt>%s</prompt>\n\n",
		maxQueries, topic)
	if len(prior) > 0 {
		texts := make([]string, len(prior))
		for i, l := range prior {
			texts[i] = l.Text
		}
		prompt += "Here are some learnings from previous research, use them to generate more specific queries: " +
			strings.Join(texts, "\n")
	}

	schema := mustSchema[serpQueriesResponse]()
	schema.Properties["queries"].Description = fmt.Sprintf("List of SERP queries, max of %d", maxQueries)

	var resp serpQueriesResponse
	err := e.generate(ctx, r, GenerateRequest{
		Name:   "serp-queries",
		Prompt: prompt,
		Schema: schema,
	}, &resp)
	if err != nil {
		return nil, &PlanningError{Query: topic, Err: err}
	}

	for i, q := range resp.Queries {
		if strings.TrimSpace(q.Query) == "" {
			return nil, &PlanningError{Query: topic, Err: fmt.Errorf("query %d is empty", i)}
		}
	}

	queries := resp.Queries
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}

	e.logger.Info("Created queries", "count", len(queries), "queries", queries)
	return queries, nil
}
