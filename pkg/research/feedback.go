package research

import (
	"context"
	"fmt"
	"strings"
)

type feedbackResponse struct {
	Questions []string `json:"questions" jsonschema:"Follow up questions to clarify the research direction"`
}

// GenerateFeedback asks for up to n clarifying questions about query before
// research starts. n <= 0 uses DefaultFeedbackQuestions.
func (e *Engine) GenerateFeedback(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultFeedbackQuestions
	}

	schema := mustSchema[feedbackResponse]()
	schema.Properties["questions"].Description = fmt.Sprintf("Follow up questions to clarify the research direction, max of %d", n)

	var resp feedbackResponse
	err := e.generate(ctx, nil, GenerateRequest{
		Name: "feedback",
		Prompt: fmt.Sprintf(
			"Given the following query from the user, ask some follow up questions to clarify the research direction. "+
				"Return a maximum of %d questions, but feel free to return less if the original query is clear: <query>%s</query>",
			n, query),
		Schema: schema,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("feedback generation failed: %w", err)
	}

	questions := make([]string, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}
