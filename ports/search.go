package ports

import (
	"context"
	"time"

	"aletheia/models"
)

// SearchRequest is one retrieval call issued by the researcher
type SearchRequest struct {
	Query          string            `json:"query"`
	MaxResults     int               `json:"max_results"`
	AllowedDomains []string          `json:"allowed_domains,omitempty"`
	BlockedDomains []string          `json:"blocked_domains,omitempty"`
	TimeWindow     time.Duration     `json:"time_window,omitempty"`
	Locale         string            `json:"locale,omitempty"`
	SourceType     models.SourceType `json:"source_type"`
}

// SearchResult is a raw provider hit. ProviderScore is zero when the provider reports none.
type SearchResult struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	ProviderScore float64    `json:"provider_score,omitempty"`
}

// SearchPort is the web search capability. Result order is not guaranteed.
type SearchPort interface {
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

// FetchCache is a content-addressed store of search results. Entries are immutable once written.
type FetchCache interface {
	Get(ctx context.Context, key string) ([]SearchResult, bool, error)
	Set(ctx context.Context, key string, results []SearchResult) error
}
