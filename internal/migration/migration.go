package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"aletheia/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.1.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

type step struct {
	name string
	fn   func(ctx context.Context, db *sqlx.DB) error
}

// Run executes all database migrations in order. Every step is idempotent.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []step{
		{"research_tasks table", r.createTasksTable},
		{"research_tasks columns", r.addTaskColumns},
		{"research_plans table", r.createPlansTable},
		{"research_iterations table", r.createIterationsTable},
		{"research_reports table", r.createReportsTable},
		{"stage_events table", r.createStageEventsTable},
		{"model_usage table", r.createModelUsageTable},
		{"indexes", r.createIndexes},
	}
	for _, s := range steps {
		if err := s.fn(ctx, db); err != nil {
			return errors.DatabaseError("failed to migrate "+s.name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) createTasksTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_tasks (
			id UUID PRIMARY KEY,
			query TEXT NOT NULL,
			scope VARCHAR(32) NOT NULL,
			budget JSONB NOT NULL,
			constraints JSONB NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			iteration INTEGER NOT NULL DEFAULT 0,
			degraded BOOLEAN NOT NULL DEFAULT false,
			error_message TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE
		)
	`)
	return err
}

func (r *MigrationRunner) addTaskColumns(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		DO $$
		BEGIN
			-- document names were added after the first release
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'research_tasks' AND column_name = 'documents'
			) THEN
				ALTER TABLE research_tasks ADD COLUMN documents JSONB NOT NULL DEFAULT '[]'::jsonb;
			END IF;

			IF NOT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'research_tasks' AND column_name = 'updated_at'
			) THEN
				ALTER TABLE research_tasks ADD COLUMN updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW();
			END IF;
		END $$;
	`)
	return err
}

func (r *MigrationRunner) createPlansTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_plans (
			task_id UUID PRIMARY KEY REFERENCES research_tasks(id) ON DELETE CASCADE,
			plan JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIterationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_iterations (
			task_id UUID NOT NULL REFERENCES research_tasks(id) ON DELETE CASCADE,
			iteration_index INTEGER NOT NULL,
			record JSONB NOT NULL,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (task_id, iteration_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createReportsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_reports (
			task_id UUID PRIMARY KEY REFERENCES research_tasks(id) ON DELETE CASCADE,
			report JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createStageEventsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stage_events (
			id BIGSERIAL PRIMARY KEY,
			task_id UUID NOT NULL REFERENCES research_tasks(id) ON DELETE CASCADE,
			stage VARCHAR(32) NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 0,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			fetch_count INTEGER NOT NULL DEFAULT 0,
			dropped_count INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

func (r *MigrationRunner) createModelUsageTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS model_usage (
			id UUID PRIMARY KEY,
			task_id UUID NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 0,
			stage VARCHAR(32) NOT NULL,
			provider VARCHAR(64) NOT NULL DEFAULT '',
			model VARCHAR(128) NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_research_tasks_created_at ON research_tasks(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_research_tasks_status ON research_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_events_task ON stage_events(task_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_model_usage_task ON model_usage(task_id, created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
