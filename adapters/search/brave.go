package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

const defaultBraveURL = "https://api.search.brave.com/res/v1"

// Brave implements SearchPort against the Brave Search API
type Brave struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewBrave creates a Brave client; baseURL is the API root holding /web/search and /news/search
func NewBrave(apiKey, baseURL string) (*Brave, error) {
	if apiKey == "" {
		return nil, errors.ConfigInvalid("missing Brave API key")
	}
	if baseURL == "" {
		baseURL = defaultBraveURL
	}
	return &Brave{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}, nil
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age"`
}

type braveWebResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveNewsResponse struct {
	Results []braveResult `json:"results"`
}

// freshness maps a time window onto Brave's coarse buckets
func freshness(window time.Duration) string {
	switch {
	case window <= 0:
		return ""
	case window <= 24*time.Hour:
		return "pd"
	case window <= 7*24*time.Hour:
		return "pw"
	case window <= 31*24*time.Hour:
		return "pm"
	case window <= 366*24*time.Hour:
		return "py"
	}
	return ""
}

// composeQuery folds domain constraints into search operators
func composeQuery(req ports.SearchRequest) string {
	q := req.Query
	allowed := req.AllowedDomains
	if len(allowed) == 0 && req.SourceType == models.SourceAcademic {
		allowed = academicDomains
	}
	if len(allowed) > 0 {
		sites := make([]string, len(allowed))
		for i, d := range allowed {
			sites[i] = "site:" + d
		}
		q += " (" + strings.Join(sites, " OR ") + ")"
	}
	for _, d := range req.BlockedDomains {
		q += " -site:" + d
	}
	return q
}

func (b *Brave) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	path := "/web/search"
	if req.SourceType == models.SourceNews {
		path = "/news/search"
	}

	params := url.Values{}
	params.Set("q", composeQuery(req))
	if req.MaxResults > 0 {
		params.Set("count", strconv.Itoa(req.MaxResults))
	}
	if f := freshness(req.TimeWindow); f != "" {
		params.Set("freshness", f)
	}
	if req.Locale != "" {
		params.Set("search_lang", req.Locale)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", b.apiKey)

	var results []braveResult
	if req.SourceType == models.SourceNews {
		var decoded braveNewsResponse
		if err := doJSON(b.client, httpReq, "brave", &decoded); err != nil {
			return nil, err
		}
		results = decoded.Results
	} else {
		var decoded braveWebResponse
		if err := doJSON(b.client, httpReq, "brave", &decoded); err != nil {
			return nil, err
		}
		results = decoded.Web.Results
	}

	// Brave reports no score
	out := make([]ports.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, ports.SearchResult{
			URL:         strings.TrimSpace(r.URL),
			Title:       r.Title,
			Snippet:     r.Description,
			PublishedAt: parseDate(r.PageAge),
		})
	}
	return out, nil
}
