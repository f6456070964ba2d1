package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

func quietLogger() *internal.Logger {
	l := internal.NewLogger(internal.LogLevelError)
	l.SetOutput(io.Discard)
	return l
}

type countingSearch struct {
	mu      sync.Mutex
	calls   int
	results []ports.SearchResult
	err     error
}

func (c *countingSearch) Search(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.results, c.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]ports.SearchResult, bool, error) {
	return nil, false, fmt.Errorf("connection refused")
}

func (brokenCache) Set(context.Context, string, []ports.SearchResult) error {
	return fmt.Errorf("connection refused")
}

func TestKey_Canonical(t *testing.T) {
	a := ports.SearchRequest{Query: "Solid  State ", AllowedDomains: []string{"B.org", "a.org"}, MaxResults: 5, SourceType: models.SourceWeb}
	b := ports.SearchRequest{Query: "solid state", AllowedDomains: []string{"a.org", "b.org"}, MaxResults: 5, SourceType: models.SourceWeb}
	assert.Equal(t, Key(a), Key(b))
	assert.Len(t, Key(a), 64)

	c := b
	c.SourceType = models.SourceNews
	assert.NotEqual(t, Key(b), Key(c))

	d := b
	d.MaxResults = 6
	assert.NotEqual(t, Key(b), Key(d))
}

func TestCachedSearch_ReadThrough(t *testing.T) {
	next := &countingSearch{results: []ports.SearchResult{{URL: "https://a.com", Title: "A"}}}
	s := NewCachedSearch(next, NewMemoryCache(0), quietLogger())
	req := ports.SearchRequest{Query: "q", MaxResults: 3}

	for i := 0; i < 3; i++ {
		res, err := s.Search(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, res, 1)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCachedSearch_EmptyAndErrorsNotCached(t *testing.T) {
	next := &countingSearch{}
	mem := NewMemoryCache(0)
	s := NewCachedSearch(next, mem, quietLogger())

	_, err := s.Search(context.Background(), ports.SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Zero(t, mem.Len())

	next.err = fmt.Errorf("boom")
	_, err = s.Search(context.Background(), ports.SearchRequest{Query: "q"})
	assert.Error(t, err)
	assert.Zero(t, mem.Len())
	assert.Equal(t, 2, next.calls)
}

func TestCachedSearch_CacheFailureFallsThrough(t *testing.T) {
	next := &countingSearch{results: []ports.SearchResult{{URL: "https://a.com"}}}
	s := NewCachedSearch(next, brokenCache{}, quietLogger())
	res, err := s.Search(context.Background(), ports.SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestMemoryCache_TTLAndImmutability(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []ports.SearchResult{{URL: "first"}}))
	require.NoError(t, c.Set(ctx, "k", []ports.SearchResult{{URL: "second"}}))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got[0].URL)

	got[0].URL = "mutated"
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "first", again[0].URL)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []ports.SearchResult{{URL: "second"}}))
	got, ok, _ = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "second", got[0].URL)
}

func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisConnection(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	c := NewRedisCache(client, time.Minute)
	defer c.Close()

	key := uuid.NewString()
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []ports.SearchResult{{URL: "https://a.com", Title: "A"}}))
	require.NoError(t, c.Set(ctx, key, []ports.SearchResult{{URL: "https://b.com"}}))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://a.com", got[0].URL)
	client.Del(ctx, keyPrefix+key)
}
