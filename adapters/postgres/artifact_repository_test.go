package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal/errors"
	"aletheia/internal/migration"
	"aletheia/models"
)

func testDB(t *testing.T) *sqlx.DB {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, migration.NewRunner().Run(ctx, db))
	return db
}

func TestArtifactRepository_TaskRoundTrip(t *testing.T) {
	repo := NewArtifactRepository(testDB(t))
	ctx := context.Background()

	task := models.NewResearchTask("grid storage", models.ScopeFocused,
		models.Budget{MaxIterations: 2, MaxCost: 1.5, MaxWallTime: time.Minute},
		models.Constraints{BlockedDomains: []string{"spam.com"}})
	task.Documents = []models.DocumentRef{{Name: "notes.md"}}
	require.NoError(t, repo.SaveTask(ctx, task))

	require.NoError(t, task.Transition(models.TaskStatusPlanning))
	task.SetError("")
	require.NoError(t, repo.SaveTask(ctx, task))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPlanning, got.Status)
	assert.Equal(t, time.Minute, got.Budget.MaxWallTime)
	assert.Equal(t, []string{"spam.com"}, got.Constraints.BlockedDomains)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "notes.md", got.Documents[0].Name)
	assert.NotNil(t, got.StartedAt)

	_, err = repo.GetTask(ctx, uuid.New())
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	tasks, err := repo.ListTasks(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestArtifactRepository_WriteOnce(t *testing.T) {
	repo := NewArtifactRepository(testDB(t))
	ctx := context.Background()

	task := models.NewResearchTask("write once", models.ScopeBroad, models.Budget{}, models.Constraints{})
	require.NoError(t, repo.SaveTask(ctx, task))

	plan := &models.ResearchPlan{TaskID: task.ID, Query: task.Query, SubTasks: []models.SubTask{{ID: "S1", Description: "d"}}}
	require.NoError(t, repo.SavePlan(ctx, plan))
	assert.True(t, errors.HasCode(repo.SavePlan(ctx, plan), errors.CodeConflict))

	for _, idx := range []int{2, 1} {
		require.NoError(t, repo.AppendIteration(ctx, task.ID, &models.IterationRecord{Index: idx}))
	}
	assert.True(t, errors.HasCode(repo.AppendIteration(ctx, task.ID, &models.IterationRecord{Index: 1}), errors.CodeConflict))
	assert.True(t, errors.HasCode(repo.AppendIteration(ctx, uuid.New(), &models.IterationRecord{Index: 1}), errors.CodeNotFound))

	recs, err := repo.ListIterations(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Index)

	report := &models.Report{TaskID: task.ID, Iteration: 2, Body: "Body [1]."}
	require.NoError(t, repo.SaveReport(ctx, report))
	assert.True(t, errors.HasCode(repo.SaveReport(ctx, report), errors.CodeConflict))

	got, err := repo.GetReport(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Body [1].", got.Body)

	_, err = repo.GetPlan(ctx, uuid.New())
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = repo.GetIteration(ctx, task.ID, 9)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestArtifactRepository_EventsAndUsage(t *testing.T) {
	repo := NewArtifactRepository(testDB(t))
	ctx := context.Background()

	task := models.NewResearchTask("events", models.ScopeBroad, models.Budget{}, models.Constraints{})
	require.NoError(t, repo.SaveTask(ctx, task))

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, stage := range []models.Stage{models.StagePlanning, models.StageResearching} {
		require.NoError(t, repo.AppendEvent(ctx, models.StageEvent{TaskID: task.ID, Stage: stage, Iteration: 1, Timestamp: now}))
	}
	events, err := repo.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.StageResearching, events[1].Stage)

	require.NoError(t, repo.RecordUsage(ctx, &models.ModelUsage{
		ID: uuid.New(), TaskID: task.ID, Iteration: 1, Stage: models.StageWriting,
		Provider: "openai", Model: "m", TotalTokens: 42, Cost: 0.01, CreatedAt: now,
	}))
	usage, err := repo.UsageForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 42, usage[0].TotalTokens)
	assert.Equal(t, models.StageWriting, usage[0].Stage)
}
