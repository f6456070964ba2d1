package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"aletheia/adapters/postgres"
	"aletheia/internal"
	"aletheia/internal/config"
	"aletheia/internal/container"
	"aletheia/internal/errors"
	"aletheia/internal/research"
	"aletheia/ports"
)

type artifactStore interface {
	ports.ArtifactRepository
	ports.UsageRepository
}

// Applies the schema and optionally imports a file artifact directory into PostgreSQL.
//
//	migrate                  schema only
//	migrate <artifact_dir>   schema, then copy every task found under artifact_dir
func main() {
	if err := godotenv.Load(); err != nil {
		internal.DefaultLogger.Info("No .env file found, using system environment variables")
	}
	logger := internal.DefaultLogger.With("Migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := container.ConnectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to prepare database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Schema is up to date")

	if len(os.Args) < 2 {
		return
	}

	src := research.NewResearchStorage(os.Args[1])
	dst := postgres.NewArtifactRepository(db)
	migrated, skipped, err := importAll(ctx, src, dst, logger)
	if err != nil {
		logger.Error("Import failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Import complete: %d migrated, %d skipped", migrated, skipped)
}

func importAll(ctx context.Context, src, dst artifactStore, logger *internal.Logger) (int, int, error) {
	tasks, err := src.ListTasks(ctx, 0)
	if err != nil {
		return 0, 0, err
	}

	migrated, skipped := 0, 0
	for _, task := range tasks {
		if err := importTask(ctx, src, dst, task.ID); err != nil {
			logger.Warn("Skipping task %s: %v", task.ID, err)
			skipped++
			continue
		}
		migrated++
		logger.Debug("Migrated task %s (%s)", task.ID, task.Query)
	}
	return migrated, skipped, nil
}

// importTask copies one task and its artifacts. Artifacts already present in dst are left alone.
func importTask(ctx context.Context, src, dst artifactStore, id uuid.UUID) error {
	task, err := src.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := dst.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}

	plan, err := src.GetPlan(ctx, id)
	switch {
	case err == nil:
		if err := ignoreConflict(dst.SavePlan(ctx, plan)); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
	case !errors.HasCode(err, errors.CodeNotFound):
		return err
	}

	iterations, err := src.ListIterations(ctx, id)
	if err != nil {
		return err
	}
	for _, rec := range iterations {
		if err := ignoreConflict(dst.AppendIteration(ctx, id, rec)); err != nil {
			return fmt.Errorf("save iteration %d: %w", rec.Index, err)
		}
	}

	report, err := src.GetReport(ctx, id)
	switch {
	case err == nil:
		if err := ignoreConflict(dst.SaveReport(ctx, report)); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	case !errors.HasCode(err, errors.CodeNotFound):
		return err
	}

	// events and usage have no natural key, so they are only copied on first import
	existing, err := dst.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	events, err := src.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := dst.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("save event: %w", err)
		}
	}
	usage, err := src.UsageForTask(ctx, id)
	if err != nil {
		return err
	}
	for _, u := range usage {
		if err := dst.RecordUsage(ctx, u); err != nil {
			return fmt.Errorf("save usage: %w", err)
		}
	}
	return nil
}

func ignoreConflict(err error) error {
	if errors.HasCode(err, errors.CodeConflict) {
		return nil
	}
	return err
}
