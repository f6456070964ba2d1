package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/models"
)

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   models.StageEvent
		want string
	}{
		{"planning", models.StageEvent{Stage: models.StagePlanning, ElapsedMs: 1500}, "planning (1.5s)"},
		{"researching with counts", models.StageEvent{Stage: models.StageResearching, Iteration: 2, ElapsedMs: 20, FetchCount: 6, DroppedCount: 1},
			"[iter 2] researching (20ms) fetches=6 dropped=1"},
		{"failed with message", models.StageEvent{Stage: models.StageFailed, Iteration: 1, Message: "budget exhausted"},
			"[iter 1] failed (0s): budget exhausted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeEvent(tt.ev))
		})
	}
}

func TestTaskTable(t *testing.T) {
	task := models.NewResearchTask("a question", models.ScopeFocused, models.Budget{}, models.Constraints{})
	task.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	task.CreatedAt = time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	data := taskTable([]*models.ResearchTask{task})
	require.Len(t, data, 2)
	assert.Equal(t, []string{"ID", "Status", "Scope", "Created", "Query"}, data[0])
	assert.Equal(t, []string{task.ID.String(), "pending", "focused", "2026-01-02 03:04", "a question"}, data[1])
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 10))
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
}
