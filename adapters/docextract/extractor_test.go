package docextract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"aletheia/internal/errors"
	"aletheia/models"
)

func TestExtract_PlainAndMarkdown(t *testing.T) {
	e := New()
	out, err := e.Extract(context.Background(), models.DocumentRef{Name: "notes.md", Content: []byte("# Battery notes\n\nCells degrade.\n")})
	require.NoError(t, err)
	assert.Equal(t, "Battery notes", out.Title)
	assert.Equal(t, "text/markdown", out.MediaType)
	assert.Equal(t, "# Battery notes\n\nCells degrade.", out.Text)

	out, err = e.Extract(context.Background(), models.DocumentRef{Name: "a.TXT", Content: []byte("plain")})
	require.NoError(t, err)
	assert.Equal(t, "plain", out.Text)
}

func TestExtract_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0644))

	out, err := New().Extract(context.Background(), models.DocumentRef{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "report.txt", out.Name)
	assert.Equal(t, "on disk", out.Text)

	_, err = New().Extract(context.Background(), models.DocumentRef{Path: filepath.Join(t.TempDir(), "missing.txt")})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestExtract_CSV(t *testing.T) {
	out, err := New().Extract(context.Background(), models.DocumentRef{
		Name:    "data.csv",
		Content: []byte("year,capacity\n2023,120\n2024,\n,\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "year: 2023; capacity: 120\n\nyear: 2024", out.Text)
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>Grid  storage</title><style>p{color:red}</style></head>
<body><h1>Overview</h1><p>Storage is <b>growing</b> fast.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`
	out, err := New().Extract(context.Background(), models.DocumentRef{Name: "page.html", Content: []byte(page)})
	require.NoError(t, err)
	assert.Equal(t, "Grid storage", out.Title)
	assert.Equal(t, "Overview\n\nStorage is growing fast.\n\none\n\ntwo", out.Text)
	assert.NotContains(t, out.Text, "alert")
	assert.NotContains(t, out.Text, "color")
}

func TestExtract_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"region", "share"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"EU", "31%"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	out, err := New().Extract(context.Background(), models.DocumentRef{Name: "shares.xlsx", Content: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, "Sheet1\n\nregion: EU; share: 31%", out.Text)
}

func TestExtract_Unsupported(t *testing.T) {
	tests := []models.DocumentRef{
		{Name: "scan.pdf", Content: []byte("%PDF-1.7")},
		{Name: "photo.png", Content: []byte{0x89, 'P', 'N', 'G'}},
		{Name: "noext", Content: []byte("x")},
		{Name: "binary.txt", Content: []byte{0xff, 0xfe, 0xfd}},
	}
	for _, doc := range tests {
		t.Run(doc.Name, func(t *testing.T) {
			_, err := New().Extract(context.Background(), doc)
			assert.True(t, errors.HasCode(err, errors.CodeUnsupportedDocument), "got %v", err)
		})
	}
}

func TestExtract_EmptyAndCancelled(t *testing.T) {
	_, err := New().Extract(context.Background(), models.DocumentRef{Name: "empty.txt"})
	assert.True(t, errors.HasCode(err, errors.CodeValidationError))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Extract(ctx, models.DocumentRef{Name: "a.txt", Content: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}
