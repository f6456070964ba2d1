package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal"
	"aletheia/internal/research"
	"aletheia/models"
)

func seedTask(t *testing.T, store artifactStore, query string, withReport bool) *models.ResearchTask {
	t.Helper()
	ctx := context.Background()
	task := models.NewResearchTask(query, models.ScopeBroad, models.Budget{MaxIterations: 2}, models.Constraints{})
	require.NoError(t, store.SaveTask(ctx, task))
	require.NoError(t, store.SavePlan(ctx, &models.ResearchPlan{TaskID: task.ID, Query: query, SubTasks: []models.SubTask{{ID: "S1", Description: "d"}}}))
	require.NoError(t, store.AppendIteration(ctx, task.ID, &models.IterationRecord{Index: 1}))
	require.NoError(t, store.AppendEvent(ctx, models.StageEvent{TaskID: task.ID, Stage: models.StagePlanning}))
	require.NoError(t, store.RecordUsage(ctx, &models.ModelUsage{ID: uuid.New(), TaskID: task.ID, TotalTokens: 10}))
	if withReport {
		require.NoError(t, store.SaveReport(ctx, &models.Report{TaskID: task.ID, Iteration: 1, Body: "Body [1]."}))
	}
	return task
}

func TestImportAll_CopiesArtifacts(t *testing.T) {
	ctx := context.Background()
	src := research.NewResearchStorage(t.TempDir())
	dst := research.NewMemoryStore()
	logger := internal.NewLogger(internal.LogLevelError)

	done := seedTask(t, src, "finished", true)
	partial := seedTask(t, src, "partial", false)

	migrated, skipped, err := importAll(ctx, src, dst, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, migrated)
	assert.Zero(t, skipped)

	report, err := dst.GetReport(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "Body [1].", report.Body)

	plan, err := dst.GetPlan(ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", plan.Query)

	iterations, err := dst.ListIterations(ctx, partial.ID)
	require.NoError(t, err)
	assert.Len(t, iterations, 1)

	usage, err := dst.UsageForTask(ctx, done.ID)
	require.NoError(t, err)
	assert.Len(t, usage, 1)
}

func TestImportAll_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := research.NewResearchStorage(t.TempDir())
	dst := research.NewMemoryStore()
	logger := internal.NewLogger(internal.LogLevelError)
	task := seedTask(t, src, "again", true)

	_, _, err := importAll(ctx, src, dst, logger)
	require.NoError(t, err)
	migrated, skipped, err := importAll(ctx, src, dst, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)
	assert.Zero(t, skipped)

	events, err := dst.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
