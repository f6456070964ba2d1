package research

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

// Writer synthesizes a cited report from one curated evidence set
type Writer struct {
	model       ports.ModelClientPort
	logger      *internal.Logger
	backoff     time.Duration
	maxTokens   int
	temperature float64
	now         func() time.Time
}

func NewWriter(model ports.ModelClientPort, logger *internal.Logger, backoff time.Duration, maxTokens int) *Writer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Writer{
		model:       model,
		logger:      logger.With("Writer"),
		backoff:     backoff,
		maxTokens:   maxTokens,
		temperature: 0.3,
		now:         time.Now,
	}
}

// Write makes one model call and enforces grounding on the result. On failure it
// returns a degraded copy of previous, or an error when there is none.
func (w *Writer) Write(ctx context.Context, plan *models.ResearchPlan, set models.EvidenceSet, previous *models.Report) (*models.Report, error) {
	report, err := w.draft(ctx, plan, set)
	if err == nil {
		return report, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if previous == nil {
		return nil, errors.Wrapf(err, "writer failed in iteration %d with no earlier report", set.Iteration)
	}

	w.logger.Warn("iteration %d falling back to report of iteration %d: %v", set.Iteration, previous.Iteration, err)
	fallback := previous.Clone()
	fallback.Iteration = set.Iteration
	fallback.Degraded = true
	fallback.CreatedAt = w.now()
	fallback.AddNote(fmt.Sprintf("iteration %d: writer failed, kept report of iteration %d (%v)", set.Iteration, previous.Iteration, err))
	return fallback, nil
}

func (w *Writer) draft(ctx context.Context, plan *models.ResearchPlan, set models.EvidenceSet) (*models.Report, error) {
	if set.Len() == 0 {
		return nil, errors.New(errors.CodeValidationError, "no curated evidence to write from")
	}
	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: writerSystemPrompt},
		{Role: ports.RoleUser, Content: buildWriterPrompt(plan, set)},
	}
	out, err := completeWithRetry(ctx, w.model, w.logger, w.backoff, messages, w.maxTokens, w.temperature)
	if err != nil {
		return nil, errors.ExternalServiceError("model", err)
	}

	body, bib, dropped := Ground(out.Text, set)
	if strings.TrimSpace(stripHeadings(body)) == "" {
		return nil, errors.New(errors.CodeValidationError, "no grounded content left after citation checks")
	}
	if dropped > 0 {
		w.logger.Info("iteration %d: dropped %d ungrounded paragraphs", set.Iteration, dropped)
	}

	report := &models.Report{
		TaskID:       plan.TaskID,
		Iteration:    set.Iteration,
		Body:         body,
		Bibliography: bib,
		CreatedAt:    w.now(),
	}
	report.Diagnostics.UngroundedDropped = dropped
	return report, nil
}

const writerSystemPrompt = `You are a research writer. Write a markdown report that answers the question using ONLY the numbered sources given.
Every paragraph that states a fact must cite at least one source with markers like [1] or [2][5]. Do not cite numbers that are not listed.
Use headings for structure. Do not add a bibliography section.`

func buildWriterPrompt(plan *models.ResearchPlan, set models.EvidenceSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSub-questions:\n", plan.Query)
	for _, st := range plan.SubTasks {
		fmt.Fprintf(&b, "- %s\n", st.Description)
	}
	b.WriteString("\nSources:\n")
	for i, ev := range set.Items {
		fmt.Fprintf(&b, "[%d] = %s | %s (%s)\n%s\n\n", i+1, ev.CitationKey, ev.Source.Title, ev.Source.URL, ev.Excerpt)
	}
	return b.String()
}

var (
	citationGroup = regexp.MustCompile(`\[\s*(?:SRC)?\s*\d+(?:\s*[,;]\s*(?:SRC)?\s*\d+)*\s*\]`)
	citationNum   = regexp.MustCompile(`\d+`)
	simpleMarker  = regexp.MustCompile(`\[(\d+)\]`)
	listItem      = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

// Ground normalizes citation markers, removes markers that do not resolve,
// drops paragraphs without a valid marker (headings stay), renumbers markers
// by first appearance and builds a bibliography of exactly the cited entries.
func Ground(text string, set models.EvidenceSet) (string, []models.BibEntry, int) {
	n := set.Len()
	normalized := citationGroup.ReplaceAllStringFunc(text, func(group string) string {
		var b strings.Builder
		for _, num := range citationNum.FindAllString(group, -1) {
			k, err := strconv.Atoi(num)
			if err == nil && k >= 1 && k <= n {
				fmt.Fprintf(&b, "[%d]", k)
			}
		}
		return b.String()
	})

	dropped := 0
	var kept []string
	for _, para := range strings.Split(strings.ReplaceAll(normalized, "\r\n", "\n"), "\n\n") {
		para = strings.TrimRight(para, " \t\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		if isHeading(para) {
			kept = append(kept, para)
			continue
		}
		if isList(para) {
			var lines []string
			for _, line := range strings.Split(para, "\n") {
				if simpleMarker.MatchString(line) {
					lines = append(lines, line)
				} else if strings.TrimSpace(line) != "" {
					dropped++
				}
			}
			if len(lines) > 0 {
				kept = append(kept, strings.Join(lines, "\n"))
			}
			continue
		}
		if !simpleMarker.MatchString(para) {
			dropped++
			continue
		}
		kept = append(kept, para)
	}
	body := strings.Join(trimTrailingHeadings(kept), "\n\n")

	renumber := make(map[int]int)
	var bib []models.BibEntry
	body = simpleMarker.ReplaceAllStringFunc(body, func(m string) string {
		old, _ := strconv.Atoi(m[1 : len(m)-1])
		num, ok := renumber[old]
		if !ok {
			num = len(renumber) + 1
			renumber[old] = num
			ev := set.Items[old-1]
			bib = append(bib, models.BibEntry{Number: num, CitationKey: ev.CitationKey, Source: ev.Source})
		}
		return fmt.Sprintf("[%d]", num)
	})
	return body, bib, dropped
}

func isHeading(para string) bool {
	return !strings.Contains(para, "\n") && strings.HasPrefix(strings.TrimSpace(para), "#")
}

func isList(para string) bool {
	for _, line := range strings.Split(para, "\n") {
		if strings.TrimSpace(line) != "" && !listItem.MatchString(line) {
			return false
		}
	}
	return true
}

// trimTrailingHeadings removes headings left with no content under them at the end
func trimTrailingHeadings(paras []string) []string {
	for len(paras) > 0 && isHeading(paras[len(paras)-1]) {
		paras = paras[:len(paras)-1]
	}
	return paras
}

func stripHeadings(body string) string {
	var b strings.Builder
	for _, para := range strings.Split(body, "\n\n") {
		if !isHeading(para) {
			b.WriteString(para)
		}
	}
	return b.String()
}
