package research

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	vectorRecallK       = 3
	memoryTag           = "memory"
)

// FetchStats counts retrieval calls made for one sub-task
type FetchStats struct {
	Fetches int // retrieval calls dispatched
	Dropped int // calls that errored or timed out
}

func (s *FetchStats) add(o FetchStats) {
	s.Fetches += o.Fetches
	s.Dropped += o.Dropped
}

// ResearcherDeps wires the researcher. Vectors and Corpus are optional.
type ResearcherDeps struct {
	Search       ports.SearchPort
	Vectors      ports.VectorStorePort
	Corpus       *documentCorpus
	FetchSem     *semaphore.Weighted
	FetchTimeout time.Duration
	Logger       *internal.Logger
	Now          func() time.Time
}

// Researcher runs fetch, extract and rank for one sub-task
type Researcher struct {
	search       ports.SearchPort
	vectors      ports.VectorStorePort
	corpus       *documentCorpus
	fetchSem     *semaphore.Weighted
	fetchTimeout time.Duration
	logger       *internal.Logger
	now          func() time.Time
}

func NewResearcher(deps ResearcherDeps) *Researcher {
	r := &Researcher{
		search:       deps.Search,
		vectors:      deps.Vectors,
		corpus:       deps.Corpus,
		fetchSem:     deps.FetchSem,
		fetchTimeout: deps.FetchTimeout,
		logger:       deps.Logger.With("Researcher"),
		now:          deps.Now,
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = DefaultFetchTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Research never fails as a whole: failed fetches are dropped and counted
func (r *Researcher) Research(ctx context.Context, subtask models.SubTask, constraints models.Constraints) ([]models.Evidence, FetchStats) {
	constraints = constraints.Normalize()
	scorer := NewScorer(subtask.Description)

	var (
		mu       sync.Mutex
		evidence []models.Evidence
		stats    FetchStats
	)
	collect := func(ev []models.Evidence, st FetchStats) {
		mu.Lock()
		defer mu.Unlock()
		evidence = append(evidence, ev...)
		stats.add(st)
	}

	var g errgroup.Group
	spawn := func(name string, fn func() ([]models.Evidence, FetchStats)) {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("%s/%s retrieval panicked: %v", subtask.ID, name, p)
					collect(nil, FetchStats{Fetches: 1, Dropped: 1})
				}
			}()
			collect(fn())
			return nil
		})
	}
	for _, st := range subtask.SourceTypes {
		sourceType := st
		if sourceType == models.SourceDocument {
			spawn(string(sourceType), func() ([]models.Evidence, FetchStats) {
				return r.researchDocuments(ctx, subtask, constraints, scorer)
			})
			continue
		}
		if r.search == nil {
			continue
		}
		spawn(string(sourceType), func() ([]models.Evidence, FetchStats) {
			return r.fetch(ctx, subtask, sourceType, constraints, scorer)
		})
	}
	if r.vectors != nil {
		spawn(memoryTag, func() ([]models.Evidence, FetchStats) {
			return r.recall(ctx, subtask, constraints, scorer), FetchStats{}
		})
	}
	_ = g.Wait()

	// goroutines finish in any order
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].Score != evidence[j].Score {
			return evidence[i].Score > evidence[j].Score
		}
		return evidence[i].ID < evidence[j].ID
	})

	r.logger.Debug("%s: %d evidence from %d fetches (%d dropped)", subtask.ID, len(evidence), stats.Fetches, stats.Dropped)
	return evidence, stats
}

// fetch is one isolated retrieval call with its own id and timeout
func (r *Researcher) fetch(ctx context.Context, subtask models.SubTask, sourceType models.SourceType, c models.Constraints, scorer *Scorer) ([]models.Evidence, FetchStats) {
	stats := FetchStats{Fetches: 1}
	callID := uuid.NewString()

	if r.fetchSem != nil {
		if err := r.fetchSem.Acquire(ctx, 1); err != nil {
			stats.Dropped = 1
			return nil, stats
		}
		defer r.fetchSem.Release(1)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	req := ports.SearchRequest{
		Query:          subtask.Description,
		MaxResults:     c.MaxResults,
		AllowedDomains: c.AllowedDomains,
		BlockedDomains: c.BlockedDomains,
		TimeWindow:     c.TimeWindow,
		Locale:         c.Locale,
		SourceType:     sourceType,
	}

	type searchOutcome struct {
		results []ports.SearchResult
		err     error
	}
	// buffered so a provider that ignores ctx can finish without a reader
	done := make(chan searchOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- searchOutcome{err: fmt.Errorf("search panicked: %v", p)}
			}
		}()
		results, err := r.search.Search(fetchCtx, req)
		done <- searchOutcome{results: results, err: err}
	}()

	var results []ports.SearchResult
	var err error
	select {
	case out := <-done:
		results, err = out.results, out.err
		if err == nil && fetchCtx.Err() != nil {
			err = fetchCtx.Err()
		}
	case <-fetchCtx.Done():
		err = fetchCtx.Err()
	}
	if err != nil {
		stats.Dropped = 1
		r.logger.Warn("%s/%s fetch %s dropped: %v", subtask.ID, sourceType, callID, err)
		return nil, stats
	}

	fetchedAt := r.now()
	tags := evidenceTags(subtask, string(sourceType))
	var out []models.Evidence
	for i, res := range results {
		if i >= c.MaxResults {
			break
		}
		norm, ok := normalizeResult(res)
		if !ok || !domainPermitted(norm.URL, c) || !withinWindow(norm.PublishedAt, c.TimeWindow, fetchedAt) {
			continue
		}
		provider := norm.ProviderScore
		if provider <= 0 {
			provider = positionScore(i, len(results))
		}
		src := models.Source{URL: norm.URL, Title: norm.Title, FetchedAt: fetchedAt, PublishedAt: norm.PublishedAt}
		score := scorer.Score(provider, norm.Title, norm.Snippet)
		id := fmt.Sprintf("%s#%d", callID, i)
		out = append(out, models.NewEvidence(id, src, norm.Snippet, callID, subtask.ID, score, tags))
	}
	return out, stats
}

// researchDocuments ranks uploaded-document passages with the same scorer
func (r *Researcher) researchDocuments(ctx context.Context, subtask models.SubTask, c models.Constraints, scorer *Scorer) ([]models.Evidence, FetchStats) {
	if !r.corpus.available() {
		return nil, FetchStats{}
	}
	callID := uuid.NewString()
	passages, failed := r.corpus.Passages(ctx)
	stats := FetchStats{Fetches: 1}
	if len(passages) == 0 && failed > 0 {
		stats.Dropped = 1
	}

	type scored struct {
		p     passage
		score float64
	}
	ranked := make([]scored, 0, len(passages))
	for _, p := range passages {
		ranked = append(ranked, scored{p: p, score: scorer.Score(0.5, p.title, p.text)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > c.MaxResults {
		ranked = ranked[:c.MaxResults]
	}

	fetchedAt := r.now()
	tags := evidenceTags(subtask, string(models.SourceDocument))
	out := make([]models.Evidence, 0, len(ranked))
	for i, s := range ranked {
		title := fmt.Sprintf("%s (passage %d)", s.p.title, s.p.index)
		src := models.Source{URL: s.p.url(), Title: title, FetchedAt: fetchedAt}
		id := fmt.Sprintf("%s#%d", callID, i)
		out = append(out, models.NewEvidence(id, src, s.p.text, callID, subtask.ID, s.score, tags))
	}
	return out, stats
}

// recall pulls similar, previously curated evidence from the vector store
func (r *Researcher) recall(ctx context.Context, subtask models.SubTask, c models.Constraints, scorer *Scorer) []models.Evidence {
	callID := uuid.NewString()
	hits, err := r.vectors.Query(ctx, subtask.Description, vectorRecallK)
	if err != nil {
		r.logger.Warn("%s vector recall failed: %v", subtask.ID, err)
		return nil
	}
	var out []models.Evidence
	for i, hit := range hits {
		prior := hit.Evidence
		if !domainPermitted(prior.Source.URL, c) {
			continue
		}
		tags := evidenceTags(subtask, memoryTag)
		for _, t := range prior.Tags {
			if isSourceTag(t) {
				tags = append(tags, t)
			}
		}
		score := scorer.Score(hit.Similarity, prior.Source.Title, prior.Excerpt)
		id := fmt.Sprintf("%s#%d", callID, i)
		out = append(out, models.NewEvidence(id, prior.Source, prior.Excerpt, callID, subtask.ID, score, tags))
	}
	return out
}

func evidenceTags(subtask models.SubTask, first string) []string {
	tags := []string{first, models.SubTaskTag(subtask.ID)}
	if subtask.ParentID != "" {
		tags = append(tags, models.SubTaskTag(subtask.ParentID))
	}
	return tags
}

func isSourceTag(tag string) bool {
	_, ok := models.ParseSourceType(tag)
	return ok && !strings.Contains(tag, ":")
}

var (
	htmlTag    = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

func cleanText(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// normalizeResult trims and validates a raw hit; malformed hits are rejected
func normalizeResult(res ports.SearchResult) (ports.SearchResult, bool) {
	res.URL = strings.TrimSpace(res.URL)
	u, err := url.Parse(res.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return res, false
	}
	res.Title = cleanText(res.Title)
	res.Snippet = cleanText(res.Snippet)
	if res.Title == "" && res.Snippet == "" {
		return res, false
	}
	if res.Snippet == "" {
		res.Snippet = res.Title
	}
	return res, true
}

// domainPermitted applies allow and block lists, matching subdomains
func domainPermitted(rawURL string, c models.Constraints) bool {
	host := models.DomainOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range c.BlockedDomains {
		if domainMatches(host, d) {
			return false
		}
	}
	if len(c.AllowedDomains) == 0 {
		return true
	}
	for _, d := range c.AllowedDomains {
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

func domainMatches(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func withinWindow(published *time.Time, window time.Duration, now time.Time) bool {
	if published == nil || window <= 0 {
		return true
	}
	return !published.Before(now.Add(-window))
}
