package research

import (
	"context"
	"fmt"
	"strings"
)

const (
	MinBreadth = 1
	MaxBreadth = 10
	MinDepth   = 1
	MaxDepth   = 5
)

// StartRequest is what CLI and HTTP callers send. A blank Feedback asks for
// clarifying questions instead of running research.
type StartRequest struct {
	Query    string `json:"query"`
	Breadth  int    `json:"breadth"`
	Depth    int    `json:"depth"`
	Feedback string `json:"feedback"`
}

// StartResponse carries either Questions or a finished Report with its Result.
type StartResponse struct {
	Questions []string `json:"questions,omitempty"`
	Report    string   `json:"report,omitempty"`
	Result    *Result  `json:"result,omitempty"`
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (r StartRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return &ValidationError{Field: "query", Message: "must not be empty"}
	}
	if r.Breadth < MinBreadth || r.Breadth > MaxBreadth {
		return &ValidationError{Field: "breadth", Message: fmt.Sprintf("must be between %d and %d", MinBreadth, MaxBreadth)}
	}
	if r.Depth < MinDepth || r.Depth > MaxDepth {
		return &ValidationError{Field: "depth", Message: fmt.Sprintf("must be between %d and %d", MinDepth, MaxDepth)}
	}
	return nil
}

// CombinedQuery merges the topic with the caller's answers.
func (r StartRequest) CombinedQuery() string {
	return fmt.Sprintf("Research Topic: %s\nAdditional Context: %s", strings.TrimSpace(r.Query), strings.TrimSpace(r.Feedback))
}

// CombineAnswers renders interactive question/answer pairs into one query.
func CombineAnswers(query string, questions, answers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Initial Query: %s\nFollow-up Questions and Answers:", query)
	for i, q := range questions {
		a := ""
		if i < len(answers) {
			a = answers[i]
		}
		fmt.Fprintf(&b, "\nQ: %s\nA: %s", q, a)
	}
	return b.String()
}

// Start is the single entrypoint for callers: it returns clarifying questions
// when no feedback was given, otherwise it researches the combined query and
// writes the report.
func (e *Engine) Start(ctx context.Context, req StartRequest, onProgress func(Progress)) (*StartResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Feedback) == "" {
		questions, err := e.GenerateFeedback(ctx, req.Query, DefaultFeedbackQuestions)
		if err != nil {
			return nil, err
		}
		return &StartResponse{Questions: questions}, nil
	}

	combined := req.CombinedQuery()
	result, err := e.Research(ctx, Request{Query: combined, Breadth: req.Breadth, Depth: req.Depth}, onProgress)
	if err != nil {
		return nil, err
	}

	report, err := e.WriteReport(ctx, combined, result.Learnings, result.VisitedURLs)
	if err != nil {
		return nil, err
	}

	return &StartResponse{Report: report, Result: result}, nil
}
