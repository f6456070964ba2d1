package research

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aletheia/internal/errors"
	"aletheia/models"
)

// ResearchStorage keeps task artifacts as JSON files, one directory per task:
//
//	<base>/<task_id>/task.json
//	<base>/<task_id>/plan.json
//	<base>/<task_id>/iteration_001.json ...
//	<base>/<task_id>/report.json
//	<base>/<task_id>/events.jsonl
//	<base>/<task_id>/usage.jsonl
type ResearchStorage struct {
	BaseDir string
	mu      sync.Mutex
}

// NewResearchStorage creates a new research storage instance
func NewResearchStorage(baseDir string) *ResearchStorage {
	return &ResearchStorage{
		BaseDir: baseDir,
	}
}

// EnsureBaseDir creates the base directory if it doesn't exist
func (rs *ResearchStorage) EnsureBaseDir() error {
	return os.MkdirAll(rs.BaseDir, 0755)
}

func (rs *ResearchStorage) taskDir(taskID uuid.UUID) string {
	return filepath.Join(rs.BaseDir, taskID.String())
}

func (rs *ResearchStorage) ensureTaskDir(taskID uuid.UUID) (string, error) {
	dir := rs.taskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create task directory")
	}
	return dir, nil
}

// writeOnce fails with CONFLICT when the file already exists
func writeOnce(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", filepath.Base(path))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Conflict(fmt.Sprintf("%s already written", filepath.Base(path)))
		}
		return errors.Wrapf(err, "failed to create %s", filepath.Base(path))
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %s", filepath.Base(path))
	}
	return nil
}

func readJSON(path, what string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound(what)
		}
		return errors.Wrapf(err, "failed to read %s", what)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", what)
	}
	return nil
}

func (rs *ResearchStorage) appendLine(taskID uuid.UUID, name string, v interface{}) error {
	dir, err := rs.ensureTaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s entry", name)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", name)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue // Skip corrupted lines
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

// SaveTask overwrites the task status file; tasks are the one mutable artifact
func (rs *ResearchStorage) SaveTask(_ context.Context, task *models.ResearchTask) error {
	dir, err := rs.ensureTaskDir(task.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(task.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}
	tmp := filepath.Join(dir, "task.json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write task file")
	}
	return os.Rename(tmp, filepath.Join(dir, "task.json"))
}

func (rs *ResearchStorage) GetTask(_ context.Context, taskID uuid.UUID) (*models.ResearchTask, error) {
	var task models.ResearchTask
	if err := readJSON(filepath.Join(rs.taskDir(taskID), "task.json"), "task "+taskID.String(), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns the most recent tasks, limited by count
func (rs *ResearchStorage) ListTasks(ctx context.Context, limit int) ([]*models.ResearchTask, error) {
	entries, err := os.ReadDir(rs.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list artifact directory")
	}

	var tasks []*models.ResearchTask
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		task, err := rs.GetTask(ctx, id)
		if err != nil {
			continue // Skip corrupted files
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (rs *ResearchStorage) SavePlan(_ context.Context, plan *models.ResearchPlan) error {
	dir, err := rs.ensureTaskDir(plan.TaskID)
	if err != nil {
		return err
	}
	return writeOnce(filepath.Join(dir, "plan.json"), plan)
}

func (rs *ResearchStorage) GetPlan(_ context.Context, taskID uuid.UUID) (*models.ResearchPlan, error) {
	var plan models.ResearchPlan
	if err := readJSON(filepath.Join(rs.taskDir(taskID), "plan.json"), "plan for task "+taskID.String(), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func iterationFile(index int) string {
	return fmt.Sprintf("iteration_%03d.json", index)
}

func (rs *ResearchStorage) AppendIteration(_ context.Context, taskID uuid.UUID, record *models.IterationRecord) error {
	dir, err := rs.ensureTaskDir(taskID)
	if err != nil {
		return err
	}
	return writeOnce(filepath.Join(dir, iterationFile(record.Index)), record)
}

func (rs *ResearchStorage) GetIteration(_ context.Context, taskID uuid.UUID, index int) (*models.IterationRecord, error) {
	var rec models.IterationRecord
	what := fmt.Sprintf("iteration %d of task %s", index, taskID)
	if err := readJSON(filepath.Join(rs.taskDir(taskID), iterationFile(index)), what, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (rs *ResearchStorage) ListIterations(ctx context.Context, taskID uuid.UUID) ([]*models.IterationRecord, error) {
	matches, err := filepath.Glob(filepath.Join(rs.taskDir(taskID), "iteration_*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list iterations")
	}
	sort.Strings(matches)

	out := make([]*models.IterationRecord, 0, len(matches))
	for _, path := range matches {
		var rec models.IterationRecord
		if err := readJSON(path, filepath.Base(path), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (rs *ResearchStorage) SaveReport(_ context.Context, report *models.Report) error {
	dir, err := rs.ensureTaskDir(report.TaskID)
	if err != nil {
		return err
	}
	return writeOnce(filepath.Join(dir, "report.json"), report)
}

func (rs *ResearchStorage) GetReport(_ context.Context, taskID uuid.UUID) (*models.Report, error) {
	var report models.Report
	if err := readJSON(filepath.Join(rs.taskDir(taskID), "report.json"), "report for task "+taskID.String(), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (rs *ResearchStorage) AppendEvent(_ context.Context, event models.StageEvent) error {
	return rs.appendLine(event.TaskID, "events.jsonl", event)
}

func (rs *ResearchStorage) ListEvents(_ context.Context, taskID uuid.UUID) ([]models.StageEvent, error) {
	return readLines[models.StageEvent](filepath.Join(rs.taskDir(taskID), "events.jsonl"))
}

func (rs *ResearchStorage) RecordUsage(_ context.Context, usage *models.ModelUsage) error {
	return rs.appendLine(usage.TaskID, "usage.jsonl", usage)
}

func (rs *ResearchStorage) UsageForTask(_ context.Context, taskID uuid.UUID) ([]*models.ModelUsage, error) {
	return readLines[*models.ModelUsage](filepath.Join(rs.taskDir(taskID), "usage.jsonl"))
}

// CleanupOldFiles removes task directories whose files are all older than maxAge
func (rs *ResearchStorage) CleanupOldFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(rs.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(rs.BaseDir, e.Name())
		if newestModTime(dir).Before(cutoff) {
			if err := os.RemoveAll(dir); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func newestModTime(dir string) time.Time {
	var newest time.Time
	files, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".tmp") {
			continue
		}
		info, err := f.Info()
		if err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}
