package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"aletheia/models"
)

func ev(url, title, excerpt string) models.Evidence {
	return models.NewEvidence(url, models.Source{URL: url, Title: title}, excerpt, "call", "S1", 0.5, nil)
}

func TestEmbed(t *testing.T) {
	v := Embed("Solid state battery density")
	assert.Len(t, v, Dimensions)
	assert.InDelta(t, 1.0, floats.Norm(v, 2), 1e-9)

	assert.Zero(t, floats.Norm(Embed("a of"), 2))
	assert.Equal(t, Embed("Battery density"), Embed("battery, DENSITY!"))
}

func TestMemoryStore_QueryRanksBySimilarity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []models.Evidence{
		ev("https://a.com", "Solid state batteries", "Energy density of solid state battery cells keeps rising"),
		ev("https://b.com", "Gardening", "Tomatoes need sunlight and water"),
		ev("https://c.com", "Battery recycling", "Recycling lithium battery packs"),
	}))

	hits, err := s.Query(ctx, "solid state battery energy density", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://a.com", hits[0].Evidence.Source.URL)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)

	top, err := s.Query(ctx, "battery", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	none, err := s.Query(ctx, "", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_UpsertDeduplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e := ev("https://a.com", "Title", "same excerpt text")
	require.NoError(t, s.Upsert(ctx, []models.Evidence{e, e}))
	require.NoError(t, s.Upsert(ctx, []models.Evidence{e}))
	assert.Equal(t, 1, s.Len())
}
