package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"aletheia/models"
)

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article class="report">
{{.Body}}
</article>
<footer class="diagnostics">
<p>Iterations: {{.Report.IterationCount}} · Completion: {{printf "%.2f" .Report.FinalCompletionScore}}{{if .Report.Degraded}} · degraded{{end}}</p>
</footer>
</body>
</html>
`))

// ReportMarkdown returns the report body followed by a numbered bibliography
func ReportMarkdown(report *models.Report) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(report.Body))
	if len(report.Bibliography) == 0 {
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString("\n\n## Sources\n\n")
	for _, entry := range report.Bibliography {
		title := entry.Source.Title
		if title == "" {
			title = entry.Source.URL
		}
		fmt.Fprintf(&b, "%d. [%s](%s)", entry.Number, escapeLinkText(title), entry.Source.URL)
		if entry.Source.PublishedAt != nil {
			fmt.Fprintf(&b, " (%s)", entry.Source.PublishedAt.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHTML renders the report and its bibliography as a standalone HTML page
func RenderHTML(report *models.Report, title string) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("no report to render")
	}

	// parsers are single use
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	body := markdown.ToHTML([]byte(ReportMarkdown(report)), p, renderer)

	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title  string
		Body   template.HTML
		Report *models.Report
	}{Title: title, Body: template.HTML(body), Report: report})
	if err != nil {
		return nil, fmt.Errorf("failed to render report page: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeLinkText(s string) string {
	r := strings.NewReplacer("[", `\[`, "]", `\]`)
	return r.Replace(s)
}
