package research

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

// SubmitRequest is the intake payload for a new task
type SubmitRequest struct {
	Query       string
	Scope       models.Scope
	Budget      models.Budget
	Constraints models.Constraints
	Documents   []models.DocumentRef
}

type taskEntry struct {
	task   *models.ResearchTask
	cancel context.CancelFunc
	done   chan struct{}
	report *models.Report
	err    error
}

// Manager is the registry of running tasks. Each task gets one driver goroutine;
// at most `slots` tasks run at once, the rest wait in pending.
type Manager struct {
	orch   *Orchestrator
	store  ports.ArtifactRepository
	slots  *semaphore.Weighted
	logger *internal.Logger

	base       context.Context
	stopAll    context.CancelFunc
	defaultCfg models.Budget

	mu    sync.RWMutex
	tasks map[uuid.UUID]*taskEntry
	wg    sync.WaitGroup
}

// NewManager creates a registry; tasks run on a context derived from ctx
func NewManager(ctx context.Context, orch *Orchestrator, store ports.ArtifactRepository, slots int, defaults models.Budget, logger *internal.Logger) *Manager {
	if slots <= 0 {
		slots = 1
	}
	base, stop := context.WithCancel(ctx)
	return &Manager{
		orch:       orch,
		store:      store,
		slots:      semaphore.NewWeighted(int64(slots)),
		logger:     logger.With("Manager"),
		base:       base,
		stopAll:    stop,
		defaultCfg: defaults,
		tasks:      make(map[uuid.UUID]*taskEntry),
	}
}

// Submit validates the request, registers a pending task and starts its driver
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.ResearchTask, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.InvalidInput("query must not be empty")
	}
	if _, err := models.ParseScope(string(req.Scope)); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if req.Budget.MaxIterations < 0 || req.Budget.MaxTokens < 0 || req.Budget.MaxCost < 0 || req.Budget.MaxWallTime < 0 {
		return nil, errors.InvalidInput("budget values must not be negative")
	}

	budget := req.Budget
	if budget.MaxIterations == 0 {
		budget.MaxIterations = m.defaultCfg.MaxIterations
	}
	if budget.MaxWallTime == 0 {
		budget.MaxWallTime = m.defaultCfg.MaxWallTime
	}
	task := models.NewResearchTask(strings.TrimSpace(req.Query), req.Scope, budget, req.Constraints)
	task.Documents = req.Documents

	if m.store != nil {
		if err := m.store.SaveTask(ctx, task); err != nil {
			return nil, errors.Wrap(err, "failed to save task")
		}
	}

	runCtx, cancel := context.WithCancel(m.base)
	entry := &taskEntry{task: task, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[task.ID] = entry
	m.mu.Unlock()

	m.wg.Add(1)
	go m.drive(runCtx, entry)

	m.logger.Info("submitted task %s", task.ID)
	return task.Snapshot(), nil
}

func (m *Manager) drive(ctx context.Context, entry *taskEntry) {
	defer m.wg.Done()
	defer close(entry.done)
	defer entry.cancel()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		entry.err = m.cancelPending(entry.task, err)
		return
	}
	defer m.slots.Release(1)

	entry.report, entry.err = m.orch.Run(ctx, entry.task)
}

// cancelPending handles a task cancelled before it got a worker slot
func (m *Manager) cancelPending(task *models.ResearchTask, cause error) error {
	if err := task.Transition(models.TaskStatusCancelled); err != nil {
		m.logger.Warn("task %s: %v", task.ID, err)
	}
	task.SetError("cancelled")
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.SaveTask(ctx, task); err != nil {
			m.logger.Error("task %s: failed to save: %v", task.ID, err)
		}
		ev := models.StageEvent{TaskID: task.ID, Stage: models.StageCancelled, Timestamp: time.Now(), Message: "cancelled before start"}
		_ = m.store.AppendEvent(ctx, ev)
	}
	if m.orch.deps.Trace != nil {
		m.orch.deps.Trace.Emit(models.StageEvent{TaskID: task.ID, Stage: models.StageCancelled, Timestamp: time.Now(), Message: "cancelled before start"})
	}
	return errors.Cancelled(cause)
}

func (m *Manager) entry(id uuid.UUID) (*taskEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	return e, ok
}

// Cancel requests cancellation; a task that already finished returns CONFLICT
func (m *Manager) Cancel(id uuid.UUID) error {
	e, ok := m.entry(id)
	if !ok {
		return errors.NotFound("task " + id.String())
	}
	if e.task.GetStatus().IsTerminal() {
		return errors.Conflict("task " + id.String() + " already finished")
	}
	e.cancel()
	m.logger.Info("cancellation requested for task %s", id)
	return nil
}

// Get returns a snapshot of a task from the registry, or from the store for
// tasks run by an earlier process
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.ResearchTask, error) {
	if e, ok := m.entry(id); ok {
		return e.task.Snapshot(), nil
	}
	if m.store == nil {
		return nil, errors.NotFound("task " + id.String())
	}
	return m.store.GetTask(ctx, id)
}

// List returns recent tasks from the store
func (m *Manager) List(ctx context.Context, limit int) ([]*models.ResearchTask, error) {
	if m.store == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]*models.ResearchTask, 0, len(m.tasks))
		for _, e := range m.tasks {
			out = append(out, e.task.Snapshot())
		}
		return out, nil
	}
	return m.store.ListTasks(ctx, limit)
}

// Wait blocks until the task reaches a terminal state or ctx ends
func (m *Manager) Wait(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, errors.NotFound("task " + id.String())
	}
	select {
	case <-e.done:
		return e.report, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active counts tasks that have not reached a terminal state
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.tasks {
		if !e.task.GetStatus().IsTerminal() {
			n++
		}
	}
	return n
}

// Shutdown cancels every running task and waits for the drivers to exit
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
