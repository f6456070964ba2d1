package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

const passageTargetRunes = 800

type passage struct {
	doc   string
	title string
	index int
	text  string
}

func (p passage) url() string {
	return fmt.Sprintf("doc://%s#p%d", url.PathEscape(p.doc), p.index)
}

// documentCorpus extracts each uploaded document of a task once and serves its passages
type documentCorpus struct {
	docs      []models.DocumentRef
	extractor ports.DocExtractPort
	logger    *internal.Logger

	once     sync.Once
	passages []passage
	failed   int
}

func newDocumentCorpus(docs []models.DocumentRef, extractor ports.DocExtractPort, logger *internal.Logger) *documentCorpus {
	return &documentCorpus{docs: docs, extractor: extractor, logger: logger}
}

func (c *documentCorpus) available() bool {
	return c != nil && c.extractor != nil && len(c.docs) > 0
}

// Passages returns every passage of every document that could be extracted
func (c *documentCorpus) Passages(ctx context.Context) ([]passage, int) {
	if !c.available() {
		return nil, 0
	}
	c.once.Do(func() {
		for _, doc := range c.docs {
			extracted, err := c.extractor.Extract(ctx, doc)
			if err != nil {
				c.failed++
				c.logger.Warn("document %s skipped: %v", doc.Name, err)
				continue
			}
			title := extracted.Title
			if title == "" {
				title = doc.Name
			}
			for i, text := range splitPassages(extracted.Text) {
				c.passages = append(c.passages, passage{doc: doc.Name, title: title, index: i + 1, text: text})
			}
		}
		c.logger.Debug("extracted %d passages from %d documents", len(c.passages), len(c.docs)-c.failed)
	})
	return c.passages, c.failed
}

// splitPassages groups paragraphs into chunks of roughly passageTargetRunes
func splitPassages(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, models.TruncateRunes(s, models.MaxExcerptRunes))
		}
		cur.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(para) > passageTargetRunes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}
