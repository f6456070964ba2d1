package models

import (
	"time"

	"github.com/google/uuid"
)

// ModelUsage represents a single model call's token usage and cost
type ModelUsage struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TaskID           uuid.UUID `json:"task_id" db:"task_id"`
	Iteration        int       `json:"iteration" db:"iteration"`
	Stage            Stage     `json:"stage" db:"stage"` // planning or writing
	Provider         string    `json:"provider" db:"provider"`
	Model            string    `json:"model" db:"model"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	Cost             float64   `json:"cost" db:"cost"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates usage of one task
type UsageSummary struct {
	TaskID       uuid.UUID     `json:"task_id"`
	RequestCount int           `json:"request_count"`
	TotalTokens  int           `json:"total_tokens"`
	TotalCost    float64       `json:"total_cost"`
	ByStage      map[Stage]int `json:"by_stage"`
}

// Summarize folds usage records into a summary
func Summarize(taskID uuid.UUID, usages []*ModelUsage) UsageSummary {
	s := UsageSummary{TaskID: taskID, ByStage: make(map[Stage]int)}
	for _, u := range usages {
		s.RequestCount++
		s.TotalTokens += u.TotalTokens
		s.TotalCost += u.Cost
		s.ByStage[u.Stage] += u.TotalTokens
	}
	return s
}
