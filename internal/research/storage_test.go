package research

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

type artifactStore interface {
	ports.ArtifactRepository
	ports.UsageRepository
}

func stores(t *testing.T) map[string]artifactStore {
	return map[string]artifactStore{
		"memory": NewMemoryStore(),
		"file":   NewResearchStorage(t.TempDir()),
	}
}

func TestStores_WriteOnceArtifacts(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			taskID := uuid.New()

			plan := &models.ResearchPlan{TaskID: taskID, Query: "q", SubTasks: []models.SubTask{{ID: "S1", Description: "d"}}}
			require.NoError(t, store.SavePlan(ctx, plan))
			assert.True(t, errors.HasCode(store.SavePlan(ctx, plan), errors.CodeConflict))

			rec := &models.IterationRecord{Index: 1, Assessment: models.CompletionAssessment{Score: 0.5}}
			require.NoError(t, store.AppendIteration(ctx, taskID, rec))
			assert.True(t, errors.HasCode(store.AppendIteration(ctx, taskID, rec), errors.CodeConflict))

			report := &models.Report{TaskID: taskID, Iteration: 1, Body: "Body [1]."}
			require.NoError(t, store.SaveReport(ctx, report))
			assert.True(t, errors.HasCode(store.SaveReport(ctx, report), errors.CodeConflict))

			got, err := store.GetReport(ctx, taskID)
			require.NoError(t, err)
			assert.Equal(t, "Body [1].", got.Body)

			gotPlan, err := store.GetPlan(ctx, taskID)
			require.NoError(t, err)
			assert.Equal(t, "S1", gotPlan.SubTasks[0].ID)
		})
	}
}

func TestStores_NotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New()

			_, err := store.GetTask(ctx, id)
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))
			_, err = store.GetPlan(ctx, id)
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))
			_, err = store.GetIteration(ctx, id, 1)
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))
			_, err = store.GetReport(ctx, id)
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))

			events, err := store.ListEvents(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestStores_IterationsInOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New()
			for _, idx := range []int{2, 1, 3} {
				require.NoError(t, store.AppendIteration(ctx, id, &models.IterationRecord{Index: idx}))
			}
			recs, err := store.ListIterations(ctx, id)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i, rec := range recs {
				assert.Equal(t, i+1, rec.Index)
			}

			rec, err := store.GetIteration(ctx, id, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, rec.Index)
		})
	}
}

func TestStores_TasksEventsAndUsage(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := models.NewResearchTask("older", models.ScopeBroad, models.Budget{}, models.Constraints{})
			older.CreatedAt = time.Now().Add(-time.Hour)
			newer := models.NewResearchTask("newer", models.ScopeBroad, models.Budget{}, models.Constraints{})
			require.NoError(t, store.SaveTask(ctx, older))
			require.NoError(t, store.SaveTask(ctx, newer))

			require.NoError(t, newer.Transition(models.TaskStatusPlanning))
			require.NoError(t, store.SaveTask(ctx, newer))

			tasks, err := store.ListTasks(ctx, 10)
			require.NoError(t, err)
			require.Len(t, tasks, 2)
			assert.Equal(t, "newer", tasks[0].Query)
			assert.Equal(t, models.TaskStatusPlanning, tasks[0].Status)

			limited, err := store.ListTasks(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			for _, stage := range []models.Stage{models.StagePlanning, models.StageResearching} {
				require.NoError(t, store.AppendEvent(ctx, models.StageEvent{TaskID: newer.ID, Stage: stage}))
			}
			events, err := store.ListEvents(ctx, newer.ID)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, models.StageResearching, events[1].Stage)

			require.NoError(t, store.RecordUsage(ctx, &models.ModelUsage{ID: uuid.New(), TaskID: newer.ID, TotalTokens: 42, Cost: 0.1}))
			usage, err := store.UsageForTask(ctx, newer.ID)
			require.NoError(t, err)
			require.Len(t, usage, 1)
			assert.Equal(t, 42, usage[0].TotalTokens)
		})
	}
}

func TestResearchStorage_CleanupOldFiles(t *testing.T) {
	base := t.TempDir()
	rs := NewResearchStorage(base)
	ctx := context.Background()

	stale := models.NewResearchTask("stale", models.ScopeBroad, models.Budget{}, models.Constraints{})
	fresh := models.NewResearchTask("fresh", models.ScopeBroad, models.Budget{}, models.Constraints{})
	require.NoError(t, rs.SaveTask(ctx, stale))
	require.NoError(t, rs.SaveTask(ctx, fresh))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(base, stale.ID.String(), "task.json"), old, old))
	require.NoError(t, os.WriteFile(filepath.Join(base, "README"), []byte("not a task"), 0644))

	removed, err := rs.CleanupOldFiles(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = rs.GetTask(ctx, stale.ID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = rs.GetTask(ctx, fresh.ID)
	assert.NoError(t, err)
}
