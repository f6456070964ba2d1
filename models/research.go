package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a research task
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusPlanning    TaskStatus = "planning"
	TaskStatusResearching TaskStatus = "researching"
	TaskStatusCurating    TaskStatus = "curating"
	TaskStatusWriting     TaskStatus = "writing"
	TaskStatusEvaluating  TaskStatus = "evaluating"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsIterating reports whether the status belongs to the iteration sub-loop
func (s TaskStatus) IsIterating() bool {
	switch s {
	case TaskStatusResearching, TaskStatusCurating, TaskStatusWriting, TaskStatusEvaluating:
		return true
	}
	return false
}

// transitions lists the allowed moves of the task state machine. Cancellation
// is accepted from every non-terminal state.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:     {TaskStatusPlanning},
	TaskStatusPlanning:    {TaskStatusResearching, TaskStatusFailed},
	TaskStatusResearching: {TaskStatusCurating, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusCurating:    {TaskStatusWriting, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusWriting:     {TaskStatusEvaluating, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusEvaluating:  {TaskStatusResearching, TaskStatusCompleted, TaskStatusFailed},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TaskStatusCancelled {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Scope controls how wide the planner decomposes a query
type Scope string

const (
	ScopeFocused       Scope = "focused"
	ScopeBroad         Scope = "broad"
	ScopeComprehensive Scope = "comprehensive"
)

// ParseScope validates a scope string; empty input yields ScopeBroad
func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case "":
		return ScopeBroad, nil
	case ScopeFocused, ScopeBroad, ScopeComprehensive:
		return Scope(raw), nil
	}
	return "", fmt.Errorf("unknown scope %q", raw)
}

// Budget is the combined resource ceiling of a task. Zero values for tokens,
// cost and wall time mean unlimited.
type Budget struct {
	MaxIterations int           `json:"max_iterations"`
	MaxTokens     int           `json:"max_tokens"`
	MaxCost       float64       `json:"max_cost"`
	MaxWallTime   time.Duration `json:"max_wall_time"`
}

// DefaultMaxIterations is used when a budget leaves MaxIterations unset
const DefaultMaxIterations = 3

// WithDefaults fills unset fields
func (b Budget) WithDefaults() Budget {
	if b.MaxIterations <= 0 {
		b.MaxIterations = DefaultMaxIterations
	}
	return b
}

// Constraints bound the retrieval performed by the researcher
type Constraints struct {
	MaxResults     int           `json:"max_results"`
	AllowedDomains []string      `json:"allowed_domains,omitempty"`
	BlockedDomains []string      `json:"blocked_domains,omitempty"`
	TimeWindow     time.Duration `json:"time_window,omitempty"`
	Locale         string        `json:"locale,omitempty"`
}

const (
	DefaultMaxResults = 6
	MaxResultsCap     = 20
)

// Normalize applies the default and the hard cap on MaxResults
func (c Constraints) Normalize() Constraints {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxResults > MaxResultsCap {
		c.MaxResults = MaxResultsCap
	}
	return c
}

// DocumentRef points at an uploaded document that can back evidence
type DocumentRef struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Content []byte `json:"-"`
}

// ResearchTask is the unit of work driven by the orchestrator
type ResearchTask struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Query       string        `json:"query" db:"query"`
	Scope       Scope         `json:"scope" db:"scope"`
	Budget      Budget        `json:"budget"`
	Constraints Constraints   `json:"constraints"`
	Documents   []DocumentRef `json:"documents,omitempty"`
	Status      TaskStatus    `json:"status" db:"status"`
	Iteration   int           `json:"iteration" db:"iteration"`
	Degraded    bool          `json:"degraded" db:"degraded"`
	Error       string        `json:"error,omitempty" db:"error_message"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	mu          sync.RWMutex
}

// NewResearchTask creates a pending task
func NewResearchTask(query string, scope Scope, budget Budget, constraints Constraints) *ResearchTask {
	if scope == "" {
		scope = ScopeBroad
	}
	return &ResearchTask{
		ID:          uuid.New(),
		Query:       query,
		Scope:       scope,
		Budget:      budget.WithDefaults(),
		Constraints: constraints.Normalize(),
		Status:      TaskStatusPending,
		CreatedAt:   time.Now(),
	}
}

// Transition moves the task to a new status, rejecting illegal moves
func (t *ResearchTask) Transition(to TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", t.Status, to)
	}
	now := time.Now()
	if t.Status == TaskStatusPending && !to.IsTerminal() {
		t.StartedAt = &now
	}
	t.Status = to
	if to.IsTerminal() {
		t.CompletedAt = &now
	}
	return nil
}

// GetStatus returns the current status
func (t *ResearchTask) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// SetIteration records the iteration currently in flight
func (t *ResearchTask) SetIteration(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Iteration = n
}

// MarkDegraded flags the task as having absorbed a recoverable failure
func (t *ResearchTask) MarkDegraded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Degraded = true
}

// SetError records a failure message
func (t *ResearchTask) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = msg
}

// Snapshot returns a copy that is safe to hand to other goroutines
func (t *ResearchTask) Snapshot() *ResearchTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp := &ResearchTask{
		ID:          t.ID,
		Query:       t.Query,
		Scope:       t.Scope,
		Budget:      t.Budget,
		Constraints: t.Constraints,
		Documents:   append([]DocumentRef(nil), t.Documents...),
		Status:      t.Status,
		Iteration:   t.Iteration,
		Degraded:    t.Degraded,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	return cp
}
