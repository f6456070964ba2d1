package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"aletheia/internal/errors"
	"aletheia/models"
)

// ArtifactRepository implements ports.ArtifactRepository and ports.UsageRepository on PostgreSQL
type ArtifactRepository struct {
	db *sqlx.DB
}

// NewArtifactRepository creates a new PostgreSQL artifact repository
func NewArtifactRepository(db *sqlx.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// taskRow is the persisted shape of a research task
type taskRow struct {
	ID          uuid.UUID      `db:"id"`
	Query       string         `db:"query"`
	Scope       string         `db:"scope"`
	Budget      []byte         `db:"budget"`
	Constraints []byte         `db:"constraints"`
	Documents   []byte         `db:"documents"`
	Status      string         `db:"status"`
	Iteration   int            `db:"iteration"`
	Degraded    bool           `db:"degraded"`
	Error       sql.NullString `db:"error_message"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

const taskColumns = `id, query, scope, budget, constraints, documents, status, iteration,
	degraded, error_message, created_at, started_at, completed_at`

func (row taskRow) toModel() (*models.ResearchTask, error) {
	task := &models.ResearchTask{
		ID:        row.ID,
		Query:     row.Query,
		Scope:     models.Scope(row.Scope),
		Status:    models.TaskStatus(row.Status),
		Iteration: row.Iteration,
		Degraded:  row.Degraded,
		Error:     row.Error.String,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal(row.Budget, &task.Budget); err != nil {
		return nil, errors.DatabaseError("failed to decode task budget", err)
	}
	if err := json.Unmarshal(row.Constraints, &task.Constraints); err != nil {
		return nil, errors.DatabaseError("failed to decode task constraints", err)
	}
	if len(row.Documents) > 0 {
		if err := json.Unmarshal(row.Documents, &task.Documents); err != nil {
			return nil, errors.DatabaseError("failed to decode task documents", err)
		}
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		task.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		task.CompletedAt = &t
	}
	return task, nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name()
	}
	return ""
}

func isUniqueViolation(err error) bool { return pqCode(err) == "unique_violation" }

func isForeignKeyViolation(err error) bool { return pqCode(err) == "foreign_key_violation" }

// insertOnce maps constraint violations onto CONFLICT and NOT_FOUND
func (r *ArtifactRepository) insertOnce(ctx context.Context, what string, query string, args ...interface{}) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return errors.Conflict(what + " already exists")
	case isForeignKeyViolation(err):
		return errors.NotFound("task for " + what)
	}
	return errors.DatabaseError("failed to save "+what, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// SaveTask inserts or updates the task row
func (r *ArtifactRepository) SaveTask(ctx context.Context, task *models.ResearchTask) error {
	snap := task.Snapshot()
	budget, err := json.Marshal(snap.Budget)
	if err != nil {
		return err
	}
	constraints, err := json.Marshal(snap.Constraints)
	if err != nil {
		return err
	}
	docs := snap.Documents
	if docs == nil {
		docs = []models.DocumentRef{}
	}
	documents, err := json.Marshal(docs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO research_tasks (`+taskColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			iteration = EXCLUDED.iteration,
			degraded = EXCLUDED.degraded,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()
	`, snap.ID, snap.Query, string(snap.Scope), budget, constraints, documents, string(snap.Status),
		snap.Iteration, snap.Degraded, sql.NullString{String: snap.Error, Valid: snap.Error != ""},
		snap.CreatedAt, nullTime(snap.StartedAt), nullTime(snap.CompletedAt))
	if err != nil {
		return errors.DatabaseError("failed to save task", err)
	}
	return nil
}

func (r *ArtifactRepository) GetTask(ctx context.Context, taskID uuid.UUID) (*models.ResearchTask, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM research_tasks WHERE id = $1`, taskID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task")
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load task", err)
	}
	return row.toModel()
}

// ListTasks returns the newest tasks first
func (r *ArtifactRepository) ListTasks(ctx context.Context, limit int) ([]*models.ResearchTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM research_tasks ORDER BY created_at DESC LIMIT $1`, limit); err != nil {
		return nil, errors.DatabaseError("failed to list tasks", err)
	}
	tasks := make([]*models.ResearchTask, 0, len(rows))
	for _, row := range rows {
		task, err := row.toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *ArtifactRepository) SavePlan(ctx context.Context, plan *models.ResearchPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return r.insertOnce(ctx, "plan", `INSERT INTO research_plans (task_id, plan, created_at) VALUES ($1, $2, NOW())`, plan.TaskID, data)
}

// getJSON loads one JSONB column and decodes it into out
func (r *ArtifactRepository) getJSON(ctx context.Context, what string, out interface{}, query string, args ...interface{}) error {
	var data []byte
	err := r.db.GetContext(ctx, &data, query, args...)
	if err == sql.ErrNoRows {
		return errors.NotFound(what)
	}
	if err != nil {
		return errors.DatabaseError("failed to load "+what, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.DatabaseError("failed to decode "+what, err)
	}
	return nil
}

func (r *ArtifactRepository) GetPlan(ctx context.Context, taskID uuid.UUID) (*models.ResearchPlan, error) {
	var plan models.ResearchPlan
	if err := r.getJSON(ctx, "plan", &plan, `SELECT plan FROM research_plans WHERE task_id = $1`, taskID); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *ArtifactRepository) AppendIteration(ctx context.Context, taskID uuid.UUID, record *models.IterationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.insertOnce(ctx, "iteration", `
		INSERT INTO research_iterations (task_id, iteration_index, record, score, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, taskID, record.Index, data, record.Assessment.Score)
}

func (r *ArtifactRepository) GetIteration(ctx context.Context, taskID uuid.UUID, index int) (*models.IterationRecord, error) {
	var rec models.IterationRecord
	err := r.getJSON(ctx, "iteration", &rec,
		`SELECT record FROM research_iterations WHERE task_id = $1 AND iteration_index = $2`, taskID, index)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ArtifactRepository) ListIterations(ctx context.Context, taskID uuid.UUID) ([]*models.IterationRecord, error) {
	var raw [][]byte
	err := r.db.SelectContext(ctx, &raw,
		`SELECT record FROM research_iterations WHERE task_id = $1 ORDER BY iteration_index`, taskID)
	if err != nil {
		return nil, errors.DatabaseError("failed to list iterations", err)
	}
	recs := make([]*models.IterationRecord, 0, len(raw))
	for _, data := range raw {
		var rec models.IterationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errors.DatabaseError("failed to decode iteration", err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

func (r *ArtifactRepository) SaveReport(ctx context.Context, report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return r.insertOnce(ctx, "report", `INSERT INTO research_reports (task_id, report, created_at) VALUES ($1, $2, NOW())`, report.TaskID, data)
}

func (r *ArtifactRepository) GetReport(ctx context.Context, taskID uuid.UUID) (*models.Report, error) {
	var report models.Report
	if err := r.getJSON(ctx, "report", &report, `SELECT report FROM research_reports WHERE task_id = $1`, taskID); err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *ArtifactRepository) AppendEvent(ctx context.Context, event models.StageEvent) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO stage_events (
			task_id, stage, iteration, timestamp, elapsed_ms, fetch_count, dropped_count, message
		) VALUES (
			:task_id, :stage, :iteration, :timestamp, :elapsed_ms, :fetch_count, :dropped_count, :message
		)
	`, event)
	if err != nil {
		return errors.DatabaseError("failed to append event", err)
	}
	return nil
}

func (r *ArtifactRepository) ListEvents(ctx context.Context, taskID uuid.UUID) ([]models.StageEvent, error) {
	events := []models.StageEvent{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT task_id, stage, iteration, timestamp, elapsed_ms, fetch_count, dropped_count, message
		FROM stage_events
		WHERE task_id = $1
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, errors.DatabaseError("failed to list events", err)
	}
	return events, nil
}

// RecordUsage records model usage for one call
func (r *ArtifactRepository) RecordUsage(ctx context.Context, usage *models.ModelUsage) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO model_usage (
			id, task_id, iteration, stage, provider, model,
			prompt_tokens, completion_tokens, total_tokens, cost, created_at
		) VALUES (
			:id, :task_id, :iteration, :stage, :provider, :model,
			:prompt_tokens, :completion_tokens, :total_tokens, :cost, :created_at
		)
	`, usage)
	if err != nil {
		return errors.DatabaseError("failed to record usage", err)
	}
	return nil
}

// UsageForTask returns usage rows in call order
func (r *ArtifactRepository) UsageForTask(ctx context.Context, taskID uuid.UUID) ([]*models.ModelUsage, error) {
	var usages []*models.ModelUsage
	err := r.db.SelectContext(ctx, &usages, `
		SELECT id, task_id, iteration, stage, provider, model,
		       prompt_tokens, completion_tokens, total_tokens, cost, created_at
		FROM model_usage
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, errors.DatabaseError("failed to load usage", err)
	}
	return usages, nil
}
