package ports

import (
	"context"

	"github.com/google/uuid"

	"aletheia/models"
)

// ArtifactRepository keeps everything a task produces, keyed by task id and
// iteration index. Plans, iteration records and final reports are write-once;
// a second write returns a CONFLICT error. Missing artifacts return NOT_FOUND.
type ArtifactRepository interface {
	SaveTask(ctx context.Context, task *models.ResearchTask) error
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.ResearchTask, error)
	ListTasks(ctx context.Context, limit int) ([]*models.ResearchTask, error)

	SavePlan(ctx context.Context, plan *models.ResearchPlan) error
	GetPlan(ctx context.Context, taskID uuid.UUID) (*models.ResearchPlan, error)

	AppendIteration(ctx context.Context, taskID uuid.UUID, record *models.IterationRecord) error
	GetIteration(ctx context.Context, taskID uuid.UUID, index int) (*models.IterationRecord, error)
	ListIterations(ctx context.Context, taskID uuid.UUID) ([]*models.IterationRecord, error)

	SaveReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, taskID uuid.UUID) (*models.Report, error)

	AppendEvent(ctx context.Context, event models.StageEvent) error
	ListEvents(ctx context.Context, taskID uuid.UUID) ([]models.StageEvent, error)
}

// UsageRepository records per-call model usage for cost auditing
type UsageRepository interface {
	RecordUsage(ctx context.Context, usage *models.ModelUsage) error
	UsageForTask(ctx context.Context, taskID uuid.UUID) ([]*models.ModelUsage, error)
}
