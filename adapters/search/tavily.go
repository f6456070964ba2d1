package search

import (
	"context"
	"math"
	"net/http"
	"strings"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// Tavily implements SearchPort against the Tavily search API
type Tavily struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavily creates a Tavily client; an empty endpoint uses the public API
func NewTavily(apiKey, endpoint string) (*Tavily, error) {
	if apiKey == "" {
		return nil, errors.ConfigInvalid("missing Tavily API key")
	}
	if endpoint == "" {
		endpoint = defaultTavilyURL
	}
	return &Tavily{apiKey: apiKey, endpoint: endpoint, client: &http.Client{}}, nil
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	Topic          string   `json:"topic"`
	MaxResults     int      `json:"max_results"`
	Days           int      `json:"days,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
	SearchDepth    string   `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	body := tavilyRequest{
		APIKey:         t.apiKey,
		Query:          req.Query,
		Topic:          "general",
		MaxResults:     req.MaxResults,
		IncludeDomains: req.AllowedDomains,
		ExcludeDomains: req.BlockedDomains,
		SearchDepth:    "basic",
	}
	switch req.SourceType {
	case models.SourceNews:
		body.Topic = "news"
	case models.SourceAcademic:
		body.SearchDepth = "advanced"
		if len(body.IncludeDomains) == 0 {
			body.IncludeDomains = academicDomains
		}
	}
	if req.TimeWindow > 0 {
		body.Days = int(math.Ceil(req.TimeWindow.Hours() / 24))
	}

	httpReq, err := postJSON(ctx, t.endpoint, body)
	if err != nil {
		return nil, err
	}

	var decoded tavilyResponse
	if err := doJSON(t.client, httpReq, "tavily", &decoded); err != nil {
		return nil, err
	}

	out := make([]ports.SearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, ports.SearchResult{
			URL:           strings.TrimSpace(r.URL),
			Title:         r.Title,
			Snippet:       r.Content,
			PublishedAt:   parseDate(r.PublishedDate),
			ProviderScore: r.Score,
		})
	}
	return out, nil
}
