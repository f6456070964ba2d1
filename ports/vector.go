package ports

import (
	"context"

	"aletheia/models"
)

// VectorHit is evidence recalled from the vector store
type VectorHit struct {
	Evidence   models.Evidence
	Similarity float64
}

// VectorStorePort is optional retrieval augmentation
type VectorStorePort interface {
	Upsert(ctx context.Context, evidence []models.Evidence) error
	Query(ctx context.Context, text string, k int) ([]VectorHit, error)
}

// NopVectorStore is used when augmentation is disabled
type NopVectorStore struct{}

func (NopVectorStore) Upsert(context.Context, []models.Evidence) error { return nil }

func (NopVectorStore) Query(context.Context, string, int) ([]VectorHit, error) { return nil, nil }
