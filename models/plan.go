package models

import (
	"time"

	"github.com/google/uuid"
)

// SubTask is one decomposed unit of the research plan
type SubTask struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	SourceTypes []SourceType `json:"source_types"`
	Priority    int          `json:"priority"`
	ParentID    string       `json:"parent_id,omitempty"`
	Iteration   int          `json:"iteration"`
}

// Targets reports whether the sub-task asks for the given source type
func (s SubTask) Targets(t SourceType) bool {
	for _, st := range s.SourceTypes {
		if st == t {
			return true
		}
	}
	return false
}

// RootID is the id of the original plan sub-task this one rolls up into
func (s SubTask) RootID() string {
	if s.ParentID != "" {
		return s.ParentID
	}
	return s.ID
}

// SourceKey is a canonical string for the source-type set
func (s SubTask) SourceKey() string {
	key := ""
	for _, t := range AllSourceTypes {
		if s.Targets(t) {
			key += string(t) + "|"
		}
	}
	return key
}

// ResearchPlan is produced once per task and never edited
type ResearchPlan struct {
	TaskID    uuid.UUID `json:"task_id"`
	Query     string    `json:"query"`
	Scope     Scope     `json:"scope"`
	SubTasks  []SubTask `json:"subtasks"`
	CreatedAt time.Time `json:"created_at"`
}

// SubTask finds an original sub-task by id
func (p *ResearchPlan) SubTask(id string) (SubTask, bool) {
	if p == nil {
		return SubTask{}, false
	}
	for _, st := range p.SubTasks {
		if st.ID == id {
			return st, true
		}
	}
	return SubTask{}, false
}

// PlanIncrement carries refinement sub-tasks added for a later iteration
type PlanIncrement struct {
	Iteration int       `json:"iteration"`
	SubTasks  []SubTask `json:"subtasks"`
}
