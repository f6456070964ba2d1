package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletionLevel is the coarse classification of a completion score
type CompletionLevel string

const (
	LevelInsufficient  CompletionLevel = "insufficient"
	LevelPartial       CompletionLevel = "partial"
	LevelAdequate      CompletionLevel = "adequate"
	LevelComprehensive CompletionLevel = "comprehensive"
)

// Score thresholds separating the completion levels
const (
	PartialThreshold       = 0.4
	AdequateThreshold      = 0.6
	ComprehensiveThreshold = 0.85
)

// LevelForScore maps a score onto its level
func LevelForScore(score float64) CompletionLevel {
	switch {
	case score < PartialThreshold:
		return LevelInsufficient
	case score < AdequateThreshold:
		return LevelPartial
	case score < ComprehensiveThreshold:
		return LevelAdequate
	default:
		return LevelComprehensive
	}
}

// Rank orders levels so they can be compared
func (l CompletionLevel) Rank() int {
	switch l {
	case LevelPartial:
		return 1
	case LevelAdequate:
		return 2
	case LevelComprehensive:
		return 3
	}
	return 0
}

// AtLeast reports whether l is at or above other
func (l CompletionLevel) AtLeast(other CompletionLevel) bool {
	return l.Rank() >= other.Rank()
}

// CompletionAssessment is the evaluator output for one iteration
type CompletionAssessment struct {
	Iteration         int                `json:"iteration"`
	Score             float64            `json:"score"`
	Level             CompletionLevel    `json:"level"`
	CoverageBySubTask map[string]float64 `json:"coverage_by_subtask"`
	Gaps              []string           `json:"gaps"`
	RefinementQueries []string           `json:"refinement_queries"`
}

// BibEntry maps an in-text marker number to curated evidence
type BibEntry struct {
	Number      int    `json:"number"`
	CitationKey string `json:"citation_key"`
	Source      Source `json:"source"`
}

// Diagnostics summarizes resource use and recoverable failures
type Diagnostics struct {
	TotalFetches      int      `json:"total_fetches"`
	DroppedFetches    int      `json:"dropped_fetches"`
	ElapsedMs         int64    `json:"elapsed_ms"`
	TotalCost         float64  `json:"total_cost"`
	TotalTokens       int      `json:"total_tokens"`
	UngroundedDropped int      `json:"ungrounded_dropped"`
	Notes             []string `json:"notes,omitempty"`
}

// Report is a draft per iteration and, once the loop stops, the terminal artifact
type Report struct {
	TaskID               uuid.UUID   `json:"task_id"`
	Iteration            int         `json:"iteration"`
	Body                 string      `json:"body"`
	Bibliography         []BibEntry  `json:"bibliography"`
	IterationCount       int         `json:"iteration_count"`
	FinalCompletionScore float64     `json:"final_completion_score"`
	Degraded             bool        `json:"degraded"`
	Diagnostics          Diagnostics `json:"diagnostics"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Clone deep-copies a report
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Bibliography = append([]BibEntry(nil), r.Bibliography...)
	cp.Diagnostics.Notes = append([]string(nil), r.Diagnostics.Notes...)
	return &cp
}

// AddNote appends a diagnostic note
func (r *Report) AddNote(note string) {
	r.Diagnostics.Notes = append(r.Diagnostics.Notes, note)
}

// IterationRecord is the append-only history entry of one completed iteration
type IterationRecord struct {
	Index        int                  `json:"index"`
	Increment    *PlanIncrement       `json:"increment,omitempty"`
	EvidenceSet  EvidenceSet          `json:"evidence_set"`
	Report       *Report              `json:"report,omitempty"`
	Assessment   CompletionAssessment `json:"assessment"`
	FetchCount   int                  `json:"fetch_count"`
	DroppedCount int                  `json:"dropped_count"`
	Cost         float64              `json:"cost"`
	Tokens       int                  `json:"tokens"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// Stage names used in trace events
type Stage string

const (
	StagePlanning    Stage = "planning"
	StageResearching Stage = "researching"
	StageCurating    Stage = "curating"
	StageWriting     Stage = "writing"
	StageEvaluating  Stage = "evaluating"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

// StageEvent is emitted once per stage transition
type StageEvent struct {
	TaskID       uuid.UUID `json:"task_id" db:"task_id"`
	Stage        Stage     `json:"stage" db:"stage"`
	Iteration    int       `json:"iteration" db:"iteration"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	ElapsedMs    int64     `json:"elapsed_ms" db:"elapsed_ms"`
	FetchCount   int       `json:"fetch_count,omitempty" db:"fetch_count"`
	DroppedCount int       `json:"dropped_count,omitempty" db:"dropped_count"`
	Message      string    `json:"message,omitempty" db:"message"`
}
