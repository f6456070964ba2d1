package research

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"aletheia/internal"
	"aletheia/models"
	"aletheia/ports"
)

// usageMeter accumulates the tokens and cost a single task has spent
type usageMeter struct {
	mu     sync.Mutex
	taskID uuid.UUID
	stage  models.Stage
	iter   int
	tokens int
	cost   float64
	repo   ports.UsageRepository
	logger *internal.Logger
}

func newUsageMeter(taskID uuid.UUID, repo ports.UsageRepository, logger *internal.Logger) *usageMeter {
	return &usageMeter{taskID: taskID, repo: repo, logger: logger}
}

func (m *usageMeter) setStage(stage models.Stage, iteration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage = stage
	m.iter = iteration
}

func (m *usageMeter) addCost(cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost += cost
}

func (m *usageMeter) record(ctx context.Context, c *ports.Completion) {
	m.mu.Lock()
	m.tokens += c.Usage.TotalTokens
	m.cost += c.Cost
	usage := &models.ModelUsage{
		ID:               uuid.New(),
		TaskID:           m.taskID,
		Iteration:        m.iter,
		Stage:            m.stage,
		Provider:         c.Usage.Provider,
		Model:            c.Usage.Model,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		TotalTokens:      c.Usage.TotalTokens,
		Cost:             c.Cost,
		CreatedAt:        time.Now(),
	}
	m.mu.Unlock()

	if m.repo == nil {
		return
	}
	if err := m.repo.RecordUsage(ctx, usage); err != nil {
		m.logger.Warn("failed to record model usage: %v", err)
	}
}

func (m *usageMeter) totals() (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.cost
}

// meteredModel counts every successful completion against the task meter
type meteredModel struct {
	inner ports.ModelClientPort
	meter *usageMeter
}

func (m *meteredModel) Complete(ctx context.Context, messages []ports.Message, maxTokens int, temperature float64) (*ports.Completion, error) {
	out, err := m.inner.Complete(ctx, messages, maxTokens, temperature)
	if err != nil {
		return nil, err
	}
	m.meter.record(ctx, out)
	return out, nil
}
