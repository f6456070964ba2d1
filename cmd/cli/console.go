package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"aletheia/models"
)

// consoleSink prints stage events as they happen
type consoleSink struct{}

func newConsoleSink() *consoleSink {
	return &consoleSink{}
}

func (s *consoleSink) Emit(ev models.StageEvent) {
	line := describeEvent(ev)
	switch ev.Stage {
	case models.StageCompleted:
		pterm.Success.Println(line)
	case models.StageFailed:
		pterm.Error.Println(line)
	case models.StageCancelled:
		pterm.Warning.Println(line)
	default:
		pterm.Info.Println(line)
	}
}

func describeEvent(ev models.StageEvent) string {
	var b strings.Builder
	if ev.Iteration > 0 {
		fmt.Fprintf(&b, "[iter %d] ", ev.Iteration)
	}
	b.WriteString(string(ev.Stage))
	fmt.Fprintf(&b, " (%s)", (time.Duration(ev.ElapsedMs) * time.Millisecond).String())
	if ev.FetchCount > 0 {
		fmt.Fprintf(&b, " fetches=%d", ev.FetchCount)
	}
	if ev.DroppedCount > 0 {
		fmt.Fprintf(&b, " dropped=%d", ev.DroppedCount)
	}
	if ev.Message != "" {
		b.WriteString(": ")
		b.WriteString(ev.Message)
	}
	return b.String()
}

func taskTable(tasks []*models.ResearchTask) pterm.TableData {
	data := pterm.TableData{{"ID", "Status", "Scope", "Created", "Query"}}
	for _, t := range tasks {
		data = append(data, []string{
			t.ID.String(),
			string(t.Status),
			string(t.Scope),
			t.CreatedAt.Format("2006-01-02 15:04"),
			shorten(t.Query, 60),
		})
	}
	return data
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printReportSummary(report *models.Report) {
	if report == nil {
		return
	}
	pterm.DefaultSection.Println("Summary")
	pterm.Printfln("Iterations: %d  Completion: %.2f  Sources: %d",
		report.IterationCount, report.FinalCompletionScore, len(report.Bibliography))
	if report.Degraded {
		pterm.Warning.Println("Report is degraded; see diagnostics")
	}
	for _, note := range report.Diagnostics.Notes {
		pterm.Printfln("  - %s", note)
	}
}
