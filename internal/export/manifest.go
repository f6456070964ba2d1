package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

// Sheet names in the audit manifest
const (
	SheetSummary      = "Summary"
	SheetEvidence     = "Evidence"
	SheetBibliography = "Bibliography"
	SheetAssessments  = "Assessments"
	SheetUsage        = "Usage"
)

// Manifest is everything persisted for one task
type Manifest struct {
	Task       *models.ResearchTask
	Plan       *models.ResearchPlan
	Iterations []*models.IterationRecord
	Report     *models.Report
	Usage      []*models.ModelUsage
}

// LoadManifest gathers every stored artifact of a task. A missing plan or
// report is tolerated so failed tasks can still be audited.
func LoadManifest(ctx context.Context, store ports.ArtifactRepository, id uuid.UUID) (Manifest, error) {
	task, err := store.GetTask(ctx, id)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Task: task}
	if m.Plan, err = store.GetPlan(ctx, id); err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return m, err
	}
	if m.Iterations, err = store.ListIterations(ctx, id); err != nil {
		return m, err
	}
	if m.Report, err = store.GetReport(ctx, id); err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return m, err
	}
	if usage, ok := store.(ports.UsageRepository); ok {
		if m.Usage, err = usage.UsageForTask(ctx, id); err != nil {
			return m, err
		}
	}
	return m, nil
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (w *sheetWriter) write(values ...interface{}) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(w.sheet, cell, &values)
}

// WriteManifest writes the audit workbook for a task
func WriteManifest(out io.Writer, m Manifest) error {
	if m.Task == nil {
		return fmt.Errorf("manifest requires a task")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	for _, name := range []string{SheetEvidence, SheetBibliography, SheetAssessments, SheetUsage} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	steps := []func(*excelize.File, Manifest) error{
		writeSummary, writeEvidence, writeBibliography, writeAssessments, writeUsage,
	}
	for _, step := range steps {
		if err := step(f, m); err != nil {
			return err
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, m Manifest) error {
	w := &sheetWriter{f: f, sheet: SheetSummary}
	task := m.Task
	rows := [][]interface{}{
		{"Task", task.ID.String()},
		{"Query", task.Query},
		{"Scope", string(task.Scope)},
		{"Status", string(task.Status)},
		{"Iterations", task.Iteration},
		{"Degraded", task.Degraded},
		{"Created", task.CreatedAt.Format(time.RFC3339)},
	}
	if task.Error != "" {
		rows = append(rows, []interface{}{"Error", task.Error})
	}
	if m.Report != nil {
		rows = append(rows,
			[]interface{}{"Final completion score", m.Report.FinalCompletionScore},
			[]interface{}{"Fetches", m.Report.Diagnostics.TotalFetches},
			[]interface{}{"Dropped fetches", m.Report.Diagnostics.DroppedFetches},
			[]interface{}{"Tokens", m.Report.Diagnostics.TotalTokens},
			[]interface{}{"Cost", m.Report.Diagnostics.TotalCost},
		)
	}
	if m.Plan != nil {
		rows = append(rows, []interface{}{})
		rows = append(rows, []interface{}{"Sub-task", "Description", "Source types", "Priority"})
		for _, st := range m.Plan.SubTasks {
			rows = append(rows, []interface{}{st.ID, st.Description, joinSourceTypes(st.SourceTypes), st.Priority})
		}
	}
	for _, row := range rows {
		if err := w.write(row...); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

func writeEvidence(f *excelize.File, m Manifest) error {
	w := &sheetWriter{f: f, sheet: SheetEvidence}
	if err := w.write("Iteration", "Citation", "Sub-task", "Score", "URL", "Title", "Published", "Excerpt"); err != nil {
		return err
	}
	for _, rec := range sortedIterations(m.Iterations) {
		for _, ev := range rec.EvidenceSet.Items {
			published := ""
			if ev.Source.PublishedAt != nil {
				published = ev.Source.PublishedAt.Format("2006-01-02")
			}
			if err := w.write(rec.Index, ev.CitationKey, ev.SubTaskID, ev.Score, ev.Source.URL, ev.Source.Title, published, ev.Excerpt); err != nil {
				return fmt.Errorf("failed to write evidence row: %w", err)
			}
		}
	}
	return nil
}

func writeBibliography(f *excelize.File, m Manifest) error {
	w := &sheetWriter{f: f, sheet: SheetBibliography}
	if err := w.write("Number", "Citation", "URL", "Title"); err != nil {
		return err
	}
	if m.Report == nil {
		return nil
	}
	for _, entry := range m.Report.Bibliography {
		if err := w.write(entry.Number, entry.CitationKey, entry.Source.URL, entry.Source.Title); err != nil {
			return fmt.Errorf("failed to write bibliography row: %w", err)
		}
	}
	return nil
}

func writeAssessments(f *excelize.File, m Manifest) error {
	w := &sheetWriter{f: f, sheet: SheetAssessments}
	if err := w.write("Iteration", "Score", "Level", "Fetches", "Dropped", "Tokens", "Cost", "Gaps", "Refinement queries"); err != nil {
		return err
	}
	for _, rec := range sortedIterations(m.Iterations) {
		a := rec.Assessment
		if err := w.write(rec.Index, a.Score, string(a.Level), rec.FetchCount, rec.DroppedCount, rec.Tokens, rec.Cost,
			strings.Join(a.Gaps, "; "), strings.Join(a.RefinementQueries, "; ")); err != nil {
			return fmt.Errorf("failed to write assessment row: %w", err)
		}
	}
	return nil
}

func writeUsage(f *excelize.File, m Manifest) error {
	w := &sheetWriter{f: f, sheet: SheetUsage}
	if err := w.write("Iteration", "Stage", "Provider", "Model", "Prompt tokens", "Completion tokens", "Total tokens", "Cost"); err != nil {
		return err
	}
	for _, u := range m.Usage {
		if err := w.write(u.Iteration, string(u.Stage), u.Provider, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.Cost); err != nil {
			return fmt.Errorf("failed to write usage row: %w", err)
		}
	}
	return nil
}

func sortedIterations(recs []*models.IterationRecord) []*models.IterationRecord {
	out := append([]*models.IterationRecord(nil), recs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func joinSourceTypes(types []models.SourceType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
