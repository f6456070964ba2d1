package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxExcerptRunes bounds the excerpt length of a single piece of evidence
const MaxExcerptRunes = 1200

// SourceType is the kind of source a sub-task should draw from
type SourceType string

const (
	SourceWeb      SourceType = "web"
	SourceAcademic SourceType = "academic"
	SourceNews     SourceType = "news"
	SourceDocument SourceType = "document"
)

// AllSourceTypes in canonical order
var AllSourceTypes = []SourceType{SourceWeb, SourceAcademic, SourceNews, SourceDocument}

// ParseSourceType normalizes a free-form source type
func ParseSourceType(raw string) (SourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "web", "general", "website":
		return SourceWeb, true
	case "academic", "scholarly", "paper", "papers", "journal":
		return SourceAcademic, true
	case "news", "press", "media":
		return SourceNews, true
	case "document", "documents", "doc", "upload", "uploads", "file":
		return SourceDocument, true
	}
	return "", false
}

// Source is the provenance of a piece of evidence
type Source struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	FetchedAt   time.Time  `json:"fetched_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Domain returns the lower-cased host of the source URL without a www. prefix
func (s Source) Domain() string {
	return DomainOf(s.URL)
}

// DomainOf extracts the registrable-looking host from a URL
func DomainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Evidence is an immutable, provenance-carrying fact
type Evidence struct {
	ID              string   `json:"id"`
	Source          Source   `json:"source"`
	Excerpt         string   `json:"excerpt"`
	ContentHash     string   `json:"content_hash"`
	RetrievalCallID string   `json:"retrieval_call_id"`
	SubTaskID       string   `json:"subtask_id"`
	Score           float64  `json:"score"`
	Tags            []string `json:"tags,omitempty"`
	CitationKey     string   `json:"citation_key,omitempty"`
}

// NewEvidence builds evidence with a bounded excerpt and its content hash
func NewEvidence(id string, src Source, excerpt, retrievalCallID, subTaskID string, score float64, tags []string) Evidence {
	excerpt = TruncateRunes(strings.TrimSpace(excerpt), MaxExcerptRunes)
	return Evidence{
		ID:              id,
		Source:          src,
		Excerpt:         excerpt,
		ContentHash:     ContentHash(src.URL, excerpt),
		RetrievalCallID: retrievalCallID,
		SubTaskID:       subTaskID,
		Score:           score,
		Tags:            append([]string(nil), tags...),
	}
}

// ContentHash is the stable dedup key of url+excerpt
func ContentHash(rawURL, excerpt string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(rawURL)))
	h.Write([]byte{0})
	h.Write([]byte(excerpt))
	return hex.EncodeToString(h.Sum(nil))
}

// HasTag reports whether the evidence carries tag
func (e Evidence) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Copy returns a deep copy so that re-scoring never touches the original
func (e Evidence) Copy() Evidence {
	cp := e
	cp.Tags = append([]string(nil), e.Tags...)
	if e.Source.PublishedAt != nil {
		p := *e.Source.PublishedAt
		cp.Source.PublishedAt = &p
	}
	return cp
}

// SubTaskTag is the tag linking evidence to the sub-task it supports
func SubTaskTag(id string) string {
	return "subtask:" + id
}

// EvidenceSet is the curated, deduplicated, ranked evidence of one iteration
type EvidenceSet struct {
	Iteration int        `json:"iteration"`
	Items     []Evidence `json:"items"`
	Cap       int        `json:"cap"`
	CreatedAt time.Time  `json:"created_at"`
}

// Len returns the number of members
func (s *EvidenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// ByCitationKey looks up a member by its citation key
func (s *EvidenceSet) ByCitationKey(key string) (Evidence, bool) {
	if s == nil {
		return Evidence{}, false
	}
	for _, e := range s.Items {
		if e.CitationKey == key {
			return e, true
		}
	}
	return Evidence{}, false
}

// TruncateRunes cuts s to at most n runes
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
