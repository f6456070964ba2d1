package research

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

func newTestManager(t *testing.T, search *fakeSearch, slots int) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	orch := NewOrchestrator(Deps{
		Model:  &fakeModel{plan: planJSON("alpha|web")},
		Search: search,
		Store:  store,
		Usage:  store,
		Logger: quietLogger(),
	}, Options{RetryBackoff: time.Millisecond, FetchTimeout: time.Minute})
	m := NewManager(context.Background(), orch, store, slots, models.Budget{MaxIterations: 1}, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, store
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManager_SubmitRunsToCompletion(t *testing.T) {
	m, store := newTestManager(t, &fakeSearch{handle: func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		return results(req.Query, 2), nil
	}}, 2)

	task, err := m.Submit(context.Background(), SubmitRequest{Query: "  alpha  "})
	require.NoError(t, err)
	assert.Equal(t, "alpha", task.Query)
	assert.Equal(t, models.ScopeBroad, task.Scope)
	assert.Equal(t, 1, task.Budget.MaxIterations)

	report, err := m.Wait(waitCtx(t), task.ID)
	require.NoError(t, err)
	require.NotNil(t, report)

	got, err := m.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	stored, err := store.GetReport(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Body, stored.Body)

	assert.True(t, errors.HasCode(m.Cancel(task.ID), errors.CodeConflict))
	assert.Zero(t, m.Active())
}

func TestManager_RejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t, &fakeSearch{}, 1)

	_, err := m.Submit(context.Background(), SubmitRequest{Query: " "})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = m.Submit(context.Background(), SubmitRequest{Query: "q", Scope: "everything"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = m.Submit(context.Background(), SubmitRequest{Query: "q", Budget: models.Budget{MaxCost: -1}})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestManager_UnknownTask(t *testing.T) {
	m, _ := newTestManager(t, &fakeSearch{}, 1)
	id := uuid.New()

	assert.True(t, errors.HasCode(m.Cancel(id), errors.CodeNotFound))
	_, err := m.Get(context.Background(), id)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	_, err = m.Wait(context.Background(), id)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestManager_CancelRunningAndPending(t *testing.T) {
	started := make(chan struct{}, 1)
	search := &fakeSearch{handle: func(ctx context.Context, _ ports.SearchRequest) ([]ports.SearchResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m, store := newTestManager(t, search, 1)

	running, err := m.Submit(context.Background(), SubmitRequest{Query: "first"})
	require.NoError(t, err)
	<-started

	pending, err := m.Submit(context.Background(), SubmitRequest{Query: "second"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Active())

	require.NoError(t, m.Cancel(pending.ID))
	_, err = m.Wait(waitCtx(t), pending.ID)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
	got, err := m.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, m.Cancel(running.ID))
	_, err = m.Wait(waitCtx(t), running.ID)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))

	saved, err := store.GetTask(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, saved.Status)

	tasks, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestManager_ShutdownStopsTasks(t *testing.T) {
	search := &fakeSearch{handle: func(ctx context.Context, _ ports.SearchRequest) ([]ports.SearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m, _ := newTestManager(t, search, 1)
	task, err := m.Submit(context.Background(), SubmitRequest{Query: "long"})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(waitCtx(t)))
	_, err = m.Wait(context.Background(), task.ID)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}
