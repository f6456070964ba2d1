package ports

import (
	"context"

	"aletheia/models"
)

// ExtractedDocument is the plain text pulled out of an uploaded document
type ExtractedDocument struct {
	Name      string
	Title     string
	MediaType string
	Text      string
}

// DocExtractPort turns uploaded documents into text
type DocExtractPort interface {
	Extract(ctx context.Context, doc models.DocumentRef) (*ExtractedDocument, error)
}
