package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"aletheia/internal/errors"
	"aletheia/models"
)

// MemoryStore is an in-process ArtifactRepository and UsageRepository.
// Stored values are deep copies so callers cannot rewrite history.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[uuid.UUID]*models.ResearchTask
	plans      map[uuid.UUID][]byte
	iterations map[uuid.UUID]map[int][]byte
	reports    map[uuid.UUID][]byte
	events     map[uuid.UUID][]models.StageEvent
	usage      map[uuid.UUID][]*models.ModelUsage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[uuid.UUID]*models.ResearchTask),
		plans:      make(map[uuid.UUID][]byte),
		iterations: make(map[uuid.UUID]map[int][]byte),
		reports:    make(map[uuid.UUID][]byte),
		events:     make(map[uuid.UUID][]models.StageEvent),
		usage:      make(map[uuid.UUID][]*models.ModelUsage),
	}
}

func (s *MemoryStore) SaveTask(_ context.Context, task *models.ResearchTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Snapshot()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID uuid.UUID) (*models.ResearchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.NotFound("task " + taskID.String())
	}
	return t.Snapshot(), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, limit int) ([]*models.ResearchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ResearchTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SavePlan(_ context.Context, plan *models.ResearchPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return errors.Wrap(err, "failed to encode plan")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.TaskID]; exists {
		return errors.Conflict("plan already stored for task " + plan.TaskID.String())
	}
	s.plans[plan.TaskID] = data
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, taskID uuid.UUID) (*models.ResearchPlan, error) {
	s.mu.RLock()
	data, ok := s.plans[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("plan for task " + taskID.String())
	}
	var plan models.ResearchPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, errors.Wrap(err, "failed to decode plan")
	}
	return &plan, nil
}

func (s *MemoryStore) AppendIteration(_ context.Context, taskID uuid.UUID, record *models.IterationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to encode iteration")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex, ok := s.iterations[taskID]
	if !ok {
		byIndex = make(map[int][]byte)
		s.iterations[taskID] = byIndex
	}
	if _, exists := byIndex[record.Index]; exists {
		return errors.Conflict(fmt.Sprintf("iteration %d already stored for task %s", record.Index, taskID))
	}
	byIndex[record.Index] = data
	return nil
}

func (s *MemoryStore) GetIteration(_ context.Context, taskID uuid.UUID, index int) (*models.IterationRecord, error) {
	s.mu.RLock()
	data, ok := s.iterations[taskID][index]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("iteration %d of task %s", index, taskID))
	}
	return decodeIteration(data)
}

func (s *MemoryStore) ListIterations(_ context.Context, taskID uuid.UUID) ([]*models.IterationRecord, error) {
	s.mu.RLock()
	byIndex := s.iterations[taskID]
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	raw := make([][]byte, len(indexes))
	for i, idx := range indexes {
		raw[i] = byIndex[idx]
	}
	s.mu.RUnlock()

	out := make([]*models.IterationRecord, 0, len(raw))
	for _, data := range raw {
		rec, err := decodeIteration(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeIteration(data []byte) (*models.IterationRecord, error) {
	var rec models.IterationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode iteration")
	}
	return &rec, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.TaskID]; exists {
		return errors.Conflict("final report already stored for task " + report.TaskID.String())
	}
	s.reports[report.TaskID] = data
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, taskID uuid.UUID) (*models.Report, error) {
	s.mu.RLock()
	data, ok := s.reports[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("report for task " + taskID.String())
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, "failed to decode report")
	}
	return &report, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event models.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TaskID] = append(s.events[event.TaskID], event)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, taskID uuid.UUID) ([]models.StageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StageEvent(nil), s.events[taskID]...), nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, usage *models.ModelUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *usage
	s.usage[usage.TaskID] = append(s.usage[usage.TaskID], &cp)
	return nil
}

func (s *MemoryStore) UsageForTask(_ context.Context, taskID uuid.UUID) ([]*models.ModelUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ModelUsage, 0, len(s.usage[taskID]))
	for _, u := range s.usage[taskID] {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}
