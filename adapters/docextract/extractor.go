package docextract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

// MaxDocumentBytes bounds a single upload
const MaxDocumentBytes = 20 << 20

// Extractor implements DocExtractPort for plain text, markdown, CSV, HTML and XLSX
type Extractor struct{}

// New creates an extractor
func New() *Extractor {
	return &Extractor{}
}

var mediaTypes = map[string]string{
	".txt":  "text/plain",
	".text": "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func (e *Extractor) Extract(ctx context.Context, doc models.DocumentRef) (*ports.ExtractedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := doc.Name
	if name == "" {
		name = filepath.Base(doc.Path)
	}
	ext := strings.ToLower(filepath.Ext(name))
	mediaType, ok := mediaTypes[ext]
	if !ok {
		return nil, errors.UnsupportedDocument(name)
	}

	data, err := load(doc)
	if err != nil {
		return nil, err
	}

	out := &ports.ExtractedDocument{Name: name, MediaType: mediaType}
	switch ext {
	case ".csv":
		out.Text, err = csvText(data)
	case ".html", ".htm":
		out.Title, out.Text, err = htmlText(data)
	case ".xlsx":
		out.Text, err = xlsxText(data)
	default:
		if !utf8.Valid(data) {
			return nil, errors.UnsupportedDocument(name + " (not UTF-8 text)")
		}
		out.Text = string(data)
		if ext == ".md" {
			out.Title = markdownTitle(out.Text)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extract %s", name)
	}
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}

func load(doc models.DocumentRef) ([]byte, error) {
	if len(doc.Content) > 0 {
		if len(doc.Content) > MaxDocumentBytes {
			return nil, errors.ValidationError(fmt.Sprintf("document %s exceeds %d bytes", doc.Name, MaxDocumentBytes))
		}
		return doc.Content, nil
	}
	if doc.Path == "" {
		return nil, errors.ValidationError(fmt.Sprintf("document %s has no content", doc.Name))
	}
	info, err := os.Stat(doc.Path)
	if err != nil {
		return nil, errors.NotFound("document " + doc.Path)
	}
	if info.Size() > MaxDocumentBytes {
		return nil, errors.ValidationError(fmt.Sprintf("document %s exceeds %d bytes", doc.Path, MaxDocumentBytes))
	}
	return os.ReadFile(doc.Path)
}

func markdownTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// csvText renders each row as "header: value" pairs, one paragraph per row
func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	return rowsText(rows), nil
}

func rowsText(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	headers := rows[0]
	var paras []string
	for _, row := range rows[1:] {
		var parts []string
		for j, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if j < len(headers) && strings.TrimSpace(headers[j]) != "" {
				parts = append(parts, strings.TrimSpace(headers[j])+": "+cell)
			} else {
				parts = append(parts, cell)
			}
		}
		if len(parts) > 0 {
			paras = append(paras, strings.Join(parts, "; "))
		}
	}
	return strings.Join(paras, "\n\n")
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "table": true, "blockquote": true, "pre": true,
}

// htmlText returns the page title and its visible text, one paragraph per block element
func htmlText(data []byte) (string, string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var (
		title   string
		inTitle bool
		skip    int
		b       strings.Builder
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return title, collapseBlankLines(b.String()), nil
			}
			return "", "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := z.TagName()
			tag := string(tn)
			switch {
			case tag == "script" || tag == "style" || tag == "noscript":
				skip++
			case tag == "title":
				inTitle = true
			case blockTags[tag]:
				b.WriteString("\n\n")
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			tag := string(tn)
			switch {
			case tag == "script" || tag == "style" || tag == "noscript":
				if skip > 0 {
					skip--
				}
			case tag == "title":
				inTitle = false
			case blockTags[tag]:
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if inTitle {
				title = text
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
	}
}

func collapseBlankLines(s string) string {
	var paras []string
	for _, p := range strings.Split(s, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}

// xlsxText renders every sheet, each row as header: value pairs
func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if text := rowsText(rows); text != "" {
			sections = append(sections, sheet+"\n\n"+text)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}
