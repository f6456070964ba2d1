package research

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

func quietLogger() *internal.Logger {
	l := internal.NewLogger(internal.LogLevelError)
	l.SetOutput(io.Discard)
	return l
}

// fakeModel answers planner and writer prompts from scripted functions
type fakeModel struct {
	mu          sync.Mutex
	plan        func(call int) (string, error)
	write       func(call int, prompt string) (string, error)
	tokens      int
	cost        float64
	planCalls   int
	writerCalls int
}

func (m *fakeModel) Complete(_ context.Context, messages []ports.Message, _ int, _ float64) (*ports.Completion, error) {
	m.mu.Lock()
	isPlan := len(messages) > 0 && messages[0].Content == plannerSystemPrompt
	var call int
	if isPlan {
		m.planCalls++
		call = m.planCalls
	} else {
		m.writerCalls++
		call = m.writerCalls
	}
	m.mu.Unlock()

	var (
		text string
		err  error
	)
	prompt := messages[len(messages)-1].Content
	switch {
	case isPlan && m.plan != nil:
		text, err = m.plan(call)
	case !isPlan && m.write != nil:
		text, err = m.write(call, prompt)
	default:
		text = "Summary of the findings [1].\n\nFurther detail [2]."
	}
	if err != nil {
		return nil, err
	}
	return &ports.Completion{
		Text:  text,
		Usage: ports.UsageData{TotalTokens: m.tokens, Model: "fake", Provider: "fake"},
		Cost:  m.cost,
	}, nil
}

func (m *fakeModel) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planCalls, m.writerCalls
}

func planJSON(subtasks ...string) func(int) (string, error) {
	return func(int) (string, error) {
		parts := make([]string, len(subtasks))
		for i, st := range subtasks {
			desc, types, _ := strings.Cut(st, "|")
			parts[i] = fmt.Sprintf(`{"description":%q,"source_types":[%q],"priority":%d}`, desc, types, i+1)
		}
		return `{"subtasks":[` + strings.Join(parts, ",") + `]}`, nil
	}
}

// fakeSearch dispatches on the query text
type fakeSearch struct {
	mu      sync.Mutex
	handle  func(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error)
	queries []string
}

func (s *fakeSearch) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, req.Query)
	s.mu.Unlock()
	return s.handle(ctx, req)
}

func (s *fakeSearch) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// results builds n distinct hits on distinct hosts
func results(prefix string, n int) []ports.SearchResult {
	host := strings.ReplaceAll(strings.ToLower(prefix), " ", "-")
	out := make([]ports.SearchResult, n)
	for i := range out {
		out[i] = ports.SearchResult{
			URL:     fmt.Sprintf("https://%s%d.example.com/article", host, i),
			Title:   fmt.Sprintf("%s result %d", prefix, i),
			Snippet: fmt.Sprintf("Evidence about %s number %d with supporting figures.", prefix, i),
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeExtractor struct {
	docs map[string]string
}

func (f fakeExtractor) Extract(_ context.Context, doc models.DocumentRef) (*ports.ExtractedDocument, error) {
	text, ok := f.docs[doc.Name]
	if !ok {
		return nil, fmt.Errorf("unreadable document %s", doc.Name)
	}
	return &ports.ExtractedDocument{Name: doc.Name, Title: doc.Name, MediaType: "text/plain", Text: text}, nil
}
