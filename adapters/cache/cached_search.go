package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"aletheia/internal"
	"aletheia/ports"
)

// CachedSearch is a read-through SearchPort decorator
type CachedSearch struct {
	next   ports.SearchPort
	cache  ports.FetchCache
	logger *internal.Logger
}

// NewCachedSearch wraps next with cache
func NewCachedSearch(next ports.SearchPort, cache ports.FetchCache, logger *internal.Logger) *CachedSearch {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &CachedSearch{next: next, cache: cache, logger: logger.With("FetchCache")}
}

// Key is the sha256 of the canonical request: query trimmed and lower-cased,
// domain lists lower-cased and sorted
func Key(req ports.SearchRequest) string {
	canon := req
	canon.Query = strings.ToLower(strings.Join(strings.Fields(req.Query), " "))
	canon.Locale = strings.ToLower(req.Locale)
	canon.AllowedDomains = canonicalDomains(req.AllowedDomains)
	canon.BlockedDomains = canonicalDomains(req.BlockedDomains)

	raw, _ := json.Marshal(canon)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func canonicalDomains(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, d := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(d)))
	}
	sort.Strings(out)
	return out
}

func (s *CachedSearch) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	key := Key(req)
	if hit, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("cache read failed, searching directly: %v", err)
	} else if ok {
		s.logger.Trace("hit %s", key[:12])
		return hit, nil
	}

	results, err := s.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	// empty answers are not cached so a transient miss is retried next time
	if len(results) > 0 {
		if err := s.cache.Set(ctx, key, results); err != nil {
			s.logger.Warn("cache write failed: %v", err)
		}
	}
	return results, nil
}
