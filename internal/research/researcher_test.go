package research

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"aletheia/models"
	"aletheia/ports"
)

func newTestResearcher(search ports.SearchPort, corpus *documentCorpus) *Researcher {
	return NewResearcher(ResearcherDeps{
		Search:       search,
		Corpus:       corpus,
		FetchSem:     semaphore.NewWeighted(4),
		FetchTimeout: 50 * time.Millisecond,
		Logger:       quietLogger(),
	})
}

func TestResearch_TimeoutDropsOnlyThatFetch(t *testing.T) {
	search := &fakeSearch{handle: func(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		if req.SourceType == models.SourceWeb {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return results("news", 2), nil
	}}
	st := models.SubTask{ID: "S1", Description: "news coverage", SourceTypes: []models.SourceType{models.SourceWeb, models.SourceNews}}

	evidence, stats := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})

	assert.Equal(t, FetchStats{Fetches: 2, Dropped: 1}, stats)
	require.Len(t, evidence, 2)
	for _, ev := range evidence {
		assert.True(t, ev.HasTag("news"))
		assert.True(t, ev.HasTag(models.SubTaskTag("S1")))
		assert.Equal(t, "S1", ev.SubTaskID)
		assert.NotEmpty(t, ev.RetrievalCallID)
		assert.NotEmpty(t, ev.ContentHash)
	}
}

func TestResearch_SlowProviderIgnoredAfterTimeout(t *testing.T) {
	search := &fakeSearch{handle: func(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		time.Sleep(80 * time.Millisecond)
		return results("late", 2), nil
	}}
	st := models.SubTask{ID: "S1", Description: "late results", SourceTypes: []models.SourceType{models.SourceWeb}}

	evidence, stats := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})
	assert.Empty(t, evidence)
	assert.Equal(t, 1, stats.Dropped)
}

func TestResearch_ProviderIgnoringContextIsNotAwaited(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	search := &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		if req.SourceType == models.SourceWeb {
			// never looks at ctx
			select {
			case <-release:
			case <-time.After(1500 * time.Millisecond):
			}
			return results("late", 2), nil
		}
		return results("news", 2), nil
	}}
	st := models.SubTask{ID: "S1", Description: "stuck provider", SourceTypes: []models.SourceType{models.SourceWeb, models.SourceNews}}

	start := time.Now()
	evidence, stats := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond, "timed-out fetch must not be awaited")
	assert.Equal(t, 2, stats.Fetches)
	assert.Equal(t, 1, stats.Dropped)
	require.Len(t, evidence, 2)
	for _, ev := range evidence {
		assert.True(t, ev.HasTag(string(models.SourceNews)))
	}
}

func TestResearch_CapsEachProviderCall(t *testing.T) {
	search := &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		return results(string(req.SourceType), 5), nil
	}}
	st := models.SubTask{ID: "S1", Description: "two mixes", SourceTypes: []models.SourceType{models.SourceWeb, models.SourceAcademic}}

	evidence, _ := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{MaxResults: 2})
	perType := map[string]int{}
	for _, ev := range evidence {
		for _, tag := range []models.SourceType{models.SourceWeb, models.SourceAcademic} {
			if ev.HasTag(string(tag)) {
				perType[string(tag)]++
			}
		}
	}
	assert.Len(t, evidence, 4)
	assert.Equal(t, map[string]int{"web": 2, "academic": 2}, perType)
}

func TestResearch_DomainFilters(t *testing.T) {
	search := &fakeSearch{handle: func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{
			{URL: "https://www.example.org/a", Title: "Allowed", Snippet: "allowed text"},
			{URL: "https://docs.example.org/b", Title: "Allowed subdomain", Snippet: "subdomain text"},
			{URL: "https://spam.example.org/c", Title: "Blocked", Snippet: "blocked text"},
			{URL: "https://elsewhere.com/d", Title: "Not allowed", Snippet: "other text"},
		}, nil
	}}
	st := models.SubTask{ID: "S1", Description: "filters", SourceTypes: []models.SourceType{models.SourceWeb}}
	c := models.Constraints{AllowedDomains: []string{"example.org"}, BlockedDomains: []string{"spam.example.org"}}

	evidence, _ := newTestResearcher(search, nil).Research(context.Background(), st, c)
	var urls []string
	for _, ev := range evidence {
		urls = append(urls, ev.Source.URL)
	}
	assert.ElementsMatch(t, []string{"https://www.example.org/a", "https://docs.example.org/b"}, urls)
}

func TestResearch_DiscardsMalformedResults(t *testing.T) {
	search := &fakeSearch{handle: func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{
			{URL: "ftp://files.example.com/x", Title: "FTP", Snippet: "not http"},
			{URL: "", Title: "No URL", Snippet: "missing"},
			{URL: "https://empty.example.com", Title: "", Snippet: "   "},
			{URL: "https://good.example.com/page", Title: "<b>Good</b> page", Snippet: "<p>Clean   text</p>"},
		}, nil
	}}
	st := models.SubTask{ID: "S1", Description: "good page", SourceTypes: []models.SourceType{models.SourceWeb}}

	evidence, stats := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})
	require.Len(t, evidence, 1)
	assert.Equal(t, "Good page", evidence[0].Source.Title)
	assert.Equal(t, "Clean text", evidence[0].Excerpt)
	assert.Zero(t, stats.Dropped)
}

func TestResearch_HonorsMaxResults(t *testing.T) {
	search := &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		assert.Equal(t, 2, req.MaxResults)
		return results("many", 6), nil
	}}
	st := models.SubTask{ID: "S1", Description: "many", SourceTypes: []models.SourceType{models.SourceWeb}}
	evidence, _ := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{MaxResults: 2})
	assert.Len(t, evidence, 2)
}

func TestResearch_SortedAndDeterministic(t *testing.T) {
	search := &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		return results(string(req.SourceType), 4), nil
	}}
	st := models.SubTask{ID: "S1", Description: "web academic", SourceTypes: []models.SourceType{models.SourceWeb, models.SourceAcademic}}
	evidence, _ := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})
	require.Len(t, evidence, 8)
	for i := 1; i < len(evidence); i++ {
		assert.GreaterOrEqual(t, evidence[i-1].Score, evidence[i].Score)
	}
}

func TestResearch_RefinementTagsParent(t *testing.T) {
	search := &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		return results("refine", 1), nil
	}}
	st := models.SubTask{ID: "R2.1", ParentID: "S1", Description: "refine", SourceTypes: []models.SourceType{models.SourceWeb}}
	evidence, _ := newTestResearcher(search, nil).Research(context.Background(), st, models.Constraints{})
	require.Len(t, evidence, 1)
	assert.True(t, evidence[0].HasTag(models.SubTaskTag("R2.1")))
	assert.True(t, evidence[0].HasTag(models.SubTaskTag("S1")))
}

func TestResearch_DocumentPassages(t *testing.T) {
	corpus := newDocumentCorpus(
		[]models.DocumentRef{{Name: "notes.md"}, {Name: "broken.pdf"}},
		fakeExtractor{docs: map[string]string{
			"notes.md": "Battery chemistry overview.\n\nSolid state batteries improve density.\n\n" + strings.Repeat("filler ", 20),
		}},
		quietLogger(),
	)
	search := &fakeSearch{handle: func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		t.Error("document sub-tasks must not hit web search")
		return nil, nil
	}}
	st := models.SubTask{ID: "S1", Description: "solid state battery density", SourceTypes: []models.SourceType{models.SourceDocument}}

	evidence, stats := newTestResearcher(search, corpus).Research(context.Background(), st, models.Constraints{})
	require.NotEmpty(t, evidence)
	assert.Equal(t, 1, stats.Fetches)
	assert.Zero(t, stats.Dropped)
	for _, ev := range evidence {
		assert.True(t, strings.HasPrefix(ev.Source.URL, "doc://notes.md#p"))
		assert.True(t, ev.HasTag("document"))
	}
	assert.Contains(t, evidence[0].Excerpt, "Solid state")
}

func TestSplitPassages(t *testing.T) {
	text := strings.Repeat("a", 500) + "\n\n" + strings.Repeat("b", 500) + "\n\n" + "short"
	passages := splitPassages(text)
	require.Len(t, passages, 2)
	assert.Equal(t, strings.Repeat("a", 500), passages[0])
	assert.True(t, strings.HasSuffix(passages[1], "short"))
}

func TestDomainPermitted(t *testing.T) {
	tests := []struct {
		name string
		url  string
		c    models.Constraints
		want bool
	}{
		{"no lists", "https://any.com", models.Constraints{}, true},
		{"blocked exact", "https://bad.com/x", models.Constraints{BlockedDomains: []string{"bad.com"}}, false},
		{"blocked parent", "https://a.bad.com/x", models.Constraints{BlockedDomains: []string{"bad.com"}}, false},
		{"suffix is not subdomain", "https://notbad.com", models.Constraints{BlockedDomains: []string{"bad.com"}}, true},
		{"allowed with www", "https://www.good.org", models.Constraints{AllowedDomains: []string{"www.good.org"}}, true},
		{"outside allow list", "https://other.org", models.Constraints{AllowedDomains: []string{"good.org"}}, false},
		{"unparseable", "::::", models.Constraints{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domainPermitted(tt.url, tt.c))
		})
	}
}

func TestWithinWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-2 * time.Hour)
	assert.True(t, withinWindow(nil, 24*time.Hour, now))
	assert.True(t, withinWindow(&old, 0, now))
	assert.False(t, withinWindow(&old, 24*time.Hour, now))
	assert.True(t, withinWindow(&recent, 24*time.Hour, now))
}
