package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mikeboe/deep-research/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handlerFunc func(req GenerateRequest) (any, error)

// fakeGenerator answers by request name and records every call.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    []GenerateRequest
	handlers map[string]handlerFunc
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{handlers: map[string]handlerFunc{
		"serp-queries":        planByPrompt,
		"learning":            learningByURL,
		"follow-up-questions": followUps,
		"feedback": func(GenerateRequest) (any, error) {
			return feedbackResponse{Questions: []string{"Which region?", "Which period?"}}, nil
		},
		"final-report": func(GenerateRequest) (any, error) {
			return reportResponse{ReportMarkdown: "# Report\n\nBody [1]."}, nil
		},
	}}
}

func (f *fakeGenerator) on(name string, h handlerFunc) *fakeGenerator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
	return f
}

func (f *fakeGenerator) GenerateObject(ctx context.Context, req GenerateRequest, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h := f.handlers[req.Name]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("unexpected request %q", req.Name)
	}
	v, err := h(req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeGenerator) callsNamed(name string) []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []GenerateRequest
	for _, c := range f.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// planByPrompt returns exactly as many queries as the prompt allows. Query
// names encode their position in the tree: root/0, root/0/1, ...
func planByPrompt(req GenerateRequest) (any, error) {
	id := topicID(req.Prompt)
	n := maxQueries(req.Prompt)
	resp := serpQueriesResponse{}
	for i := range n {
		q := id + "/" + strconv.Itoa(i)
		resp.Queries = append(resp.Queries, SerpQuery{Query: q, ResearchGoal: "explore " + q})
	}
	return resp, nil
}

func learningByURL(req GenerateRequest) (any, error) {
	return learningResponse{Learning: "learned " + between(req.Prompt, "<url>", "</url>")}, nil
}

func followUps(req GenerateRequest) (any, error) {
	q := between(req.Prompt, "<query>", "</query>")
	return followUpResponse{FollowUpQuestions: []string{"what next for " + q + "?"}}, nil
}

func topicID(prompt string) string {
	topic := between(prompt, "<prompt>", "</prompt>")
	if i := strings.Index(topic, "explore "); i >= 0 {
		rest := topic[i+len("explore "):]
		if j := strings.Index(rest, "\n"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return "root"
}

func maxQueries(prompt string) int {
	var n int
	rest := prompt[strings.Index(prompt, "Return a maximum of ")+len("Return a maximum of "):]
	_, _ = fmt.Sscanf(rest, "%d", &n)
	return n
}

func between(s, open, close string) string {
	i := strings.Index(s, open)
	if i < 0 {
		return ""
	}
	s = s[i+len(open):]
	if j := strings.Index(s, close); j >= 0 {
		return s[:j]
	}
	return s
}

// fakeSearcher returns one page per query by default and tracks how many
// searches run at the same time.
type fakeSearcher struct {
	mu          sync.Mutex
	calls       []SearchRequest
	inFlight    int
	maxInFlight int
	delay       time.Duration
	pages       func(query string) ([]Page, error)
}

func (s *fakeSearcher) Search(ctx context.Context, req SearchRequest) ([]Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pages != nil {
		return s.pages(req.Query)
	}
	return []Page{{URL: "https://example.com/" + req.Query, Markdown: "content about " + req.Query}}, nil
}

func (s *fakeSearcher) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Query
	}
	return out
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}
