package research

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

const (
	DefaultMaxParallel        = 4
	DefaultMaxConcurrentFetch = 8
)

// Deps are the collaborators of the orchestrator. Vectors, Docs, Usage and Trace are optional.
type Deps struct {
	Model   ports.ModelClientPort
	Search  ports.SearchPort
	Vectors ports.VectorStorePort
	Docs    ports.DocExtractPort
	Store   ports.ArtifactRepository
	Usage   ports.UsageRepository
	Trace   ports.TraceSink
	Logger  *internal.Logger
}

// Options tune the engine
type Options struct {
	MaxParallel        int
	MaxConcurrentFetch int64
	EvidenceCap        int
	FetchTimeout       time.Duration
	RetryBackoff       time.Duration
	WriterMaxTokens    int
	SearchCostPerCall  float64
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.MaxConcurrentFetch <= 0 {
		o.MaxConcurrentFetch = DefaultMaxConcurrentFetch
	}
	if o.EvidenceCap <= 0 {
		o.EvidenceCap = DefaultEvidenceCap
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// Orchestrator drives a research task through its state machine:
// pending -> planning -> {researching -> curating -> writing -> evaluating}* -> completed | failed | cancelled
type Orchestrator struct {
	deps     Deps
	opts     Options
	fetchSem *semaphore.Weighted
	logger   *internal.Logger
	now      func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = internal.DefaultLogger
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		fetchSem: semaphore.NewWeighted(opts.MaxConcurrentFetch),
		logger:   deps.Logger.With("Orchestrator"),
		now:      time.Now,
	}
}

// taskRun is the state owned by one driver goroutine for one task
type taskRun struct {
	o          *Orchestrator
	task       *models.ResearchTask
	start      time.Time
	meter      *usageMeter
	planner    *Planner
	researcher *Researcher
	writer     *Writer
	evaluator  *Evaluator

	fetches   int
	dropped   int
	completed int
	carried   []models.Evidence

	latest     *models.Report
	bestReport *models.Report
	bestScore  float64
	lastScore  float64
	notes      []string
}

// stopIteration marks an iteration abandoned before writing
type stopIteration struct{ reason string }

func (s stopIteration) Error() string { return s.reason }

// Run executes the task to a terminal state. It returns the final report when the
// task completes, and an error when it fails or is cancelled.
func (o *Orchestrator) Run(ctx context.Context, task *models.ResearchTask) (*models.Report, error) {
	run := o.newRun(task)
	o.logger.Info("starting task %s: %q (scope %s, max %d iterations)", task.ID, task.Query, task.Scope, task.Budget.MaxIterations)

	if err := run.transition(models.TaskStatusPlanning); err != nil {
		return nil, err
	}
	run.meter.setStage(models.StagePlanning, 0)
	plan, err := run.planner.Plan(ctx, PlanRequest{
		TaskID:    task.ID,
		Query:     task.Query,
		Scope:     task.Scope,
		Budget:    task.Budget,
		Documents: documentNames(task.Documents),
	})
	if ctx.Err() != nil {
		return run.cancel(ctx.Err())
	}
	if err != nil {
		o.logger.Error("task %s planning failed: %v", task.ID, err)
		return nil, run.fail(err)
	}
	run.emit(models.StagePlanning, 0, 0, 0, fmt.Sprintf("%d sub-tasks", len(plan.SubTasks)))
	run.persist(func(ctx context.Context) error { return o.deps.Store.SavePlan(ctx, plan) })

	subtasks := plan.SubTasks
	var increment *models.PlanIncrement
	for idx := 1; ; idx++ {
		if idx > 1 {
			if reason := run.exhausted(); reason != "" {
				return run.finish(reason)
			}
		}
		task.SetIteration(idx)

		assessment, next, err := run.iterate(ctx, plan, idx, subtasks, increment)
		if ctx.Err() != nil {
			return run.cancel(ctx.Err())
		}
		var stop stopIteration
		if errors.As(err, &stop) {
			return run.finish(stop.reason)
		}
		if err != nil {
			o.logger.Error("task %s iteration %d aborted: %v", task.ID, idx, err)
			task.MarkDegraded()
			run.notes = append(run.notes, fmt.Sprintf("iteration %d aborted: %v", idx, err))
			return run.finishWithBest()
		}

		if assessment.Level.AtLeast(models.LevelAdequate) {
			return run.finish(fmt.Sprintf("reached %s completion", assessment.Level))
		}
		if idx >= task.Budget.MaxIterations {
			return run.finish("iteration budget exhausted")
		}
		if reason := run.exhausted(); reason != "" {
			return run.finish(reason)
		}
		if next == nil {
			return run.finish("no refinement queries left")
		}
		increment = next
		subtasks = next.SubTasks
	}
}

func (o *Orchestrator) newRun(task *models.ResearchTask) *taskRun {
	run := &taskRun{o: o, task: task, start: o.now()}
	run.meter = newUsageMeter(task.ID, o.deps.Usage, o.logger)
	model := &meteredModel{inner: o.deps.Model, meter: run.meter}

	vectors := o.deps.Vectors
	if vectors == nil {
		vectors = ports.NopVectorStore{}
	}
	run.planner = NewPlanner(model, o.deps.Logger, o.opts.RetryBackoff)
	run.researcher = NewResearcher(ResearcherDeps{
		Search:       o.deps.Search,
		Vectors:      vectors,
		Corpus:       newDocumentCorpus(task.Documents, o.deps.Docs, o.deps.Logger.With("Documents")),
		FetchSem:     o.fetchSem,
		FetchTimeout: o.opts.FetchTimeout,
		Logger:       o.deps.Logger,
		Now:          o.now,
	})
	run.writer = NewWriter(model, o.deps.Logger, o.opts.RetryBackoff, o.opts.WriterMaxTokens)
	run.evaluator = NewEvaluator()
	return run
}

// iterate runs one research -> curate -> write -> evaluate pass. Panics are
// converted to errors so the task can fall back to an earlier report.
func (r *taskRun) iterate(ctx context.Context, plan *models.ResearchPlan, idx int, subtasks []models.SubTask, increment *models.PlanIncrement) (assessment models.CompletionAssessment, next *models.PlanIncrement, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.o.logger.Error("panic in iteration %d of task %s: %v\n%s", idx, r.task.ID, p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	started := r.o.now()
	if err := r.transition(models.TaskStatusResearching); err != nil {
		return assessment, nil, err
	}
	evidence, stats := r.researchAll(ctx, subtasks)
	r.fetches += stats.Fetches
	r.dropped += stats.Dropped
	r.meter.addCost(float64(stats.Fetches) * r.o.opts.SearchCostPerCall)
	if stats.Dropped > 0 {
		r.task.MarkDegraded()
	}
	r.emit(models.StageResearching, idx, stats.Fetches, stats.Dropped,
		fmt.Sprintf("%d evidence from %d sub-tasks", len(evidence), len(subtasks)))
	if ctx.Err() != nil {
		return assessment, nil, ctx.Err()
	}
	if r.deadlinePassed() {
		return assessment, nil, stopIteration{reason: fmt.Sprintf("wall-clock budget reached during iteration %d research", idx)}
	}

	if err := r.transition(models.TaskStatusCurating); err != nil {
		return assessment, nil, err
	}
	pool := make([]models.Evidence, 0, len(r.carried)+len(evidence))
	pool = append(pool, r.carried...)
	pool = append(pool, evidence...)
	set := Curate(pool, r.o.opts.EvidenceCap, idx)
	r.emit(models.StageCurating, idx, 0, 0, fmt.Sprintf("%d of %d candidates kept", set.Len(), len(pool)))
	if r.o.deps.Vectors != nil {
		if err := r.o.deps.Vectors.Upsert(ctx, set.Items); err != nil {
			r.o.logger.Warn("vector upsert failed: %v", err)
		}
	}
	if r.deadlinePassed() {
		return assessment, nil, stopIteration{reason: fmt.Sprintf("wall-clock budget reached during iteration %d curation", idx)}
	}

	if err := r.transition(models.TaskStatusWriting); err != nil {
		return assessment, nil, err
	}
	r.meter.setStage(models.StageWriting, idx)
	report, werr := r.writer.Write(ctx, plan, set, r.latest)
	if ctx.Err() != nil {
		return assessment, nil, ctx.Err()
	}
	if werr != nil {
		r.task.MarkDegraded()
		r.notes = append(r.notes, fmt.Sprintf("iteration %d produced no report: %v", idx, werr))
		r.emit(models.StageWriting, idx, 0, 0, "writer failed with no earlier report")
	} else {
		if report.Degraded {
			r.task.MarkDegraded()
		}
		r.emit(models.StageWriting, idx, 0, 0, fmt.Sprintf("%d citations, %d ungrounded paragraphs dropped", len(report.Bibliography), report.Diagnostics.UngroundedDropped))
	}

	if err := r.transition(models.TaskStatusEvaluating); err != nil {
		return assessment, nil, err
	}
	remaining := idx < r.task.Budget.MaxIterations && r.exhausted() == ""
	assessment = r.evaluator.Evaluate(plan, set, report, remaining)
	next = r.evaluator.Increment(plan, assessment, idx+1)
	r.emit(models.StageEvaluating, idx, 0, 0, fmt.Sprintf("score %.2f (%s), %d refinements", assessment.Score, assessment.Level, len(assessment.RefinementQueries)))

	tokens, cost := r.meter.totals()
	record := &models.IterationRecord{
		Index:        idx,
		Increment:    increment,
		EvidenceSet:  set,
		Report:       report,
		Assessment:   assessment,
		FetchCount:   stats.Fetches,
		DroppedCount: stats.Dropped,
		Cost:         cost,
		Tokens:       tokens,
		StartedAt:    started,
		FinishedAt:   r.o.now(),
	}
	r.persist(func(ctx context.Context) error { return r.o.deps.Store.AppendIteration(ctx, r.task.ID, record) })

	r.completed = idx
	r.lastScore = assessment.Score
	r.carried = originalsOf(pool, set)
	if report != nil {
		r.latest = report
		if r.bestReport == nil || assessment.Score >= r.bestScore {
			r.bestReport = report
			r.bestScore = assessment.Score
		}
	}
	return assessment, next, nil
}

// researchAll fans sub-tasks out with bounded parallelism and waits for all of them
func (r *taskRun) researchAll(ctx context.Context, subtasks []models.SubTask) ([]models.Evidence, FetchStats) {
	results := make([][]models.Evidence, len(subtasks))
	perTask := make([]FetchStats, len(subtasks))

	var g errgroup.Group
	g.SetLimit(r.o.opts.MaxParallel)
	for i, st := range subtasks {
		i, st := i, st
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					r.o.logger.Error("sub-task %s research panicked: %v", st.ID, p)
					results[i] = nil
					perTask[i] = FetchStats{Fetches: 1, Dropped: 1}
				}
			}()
			results[i], perTask[i] = r.researcher.Research(ctx, st, r.task.Constraints)
			return nil
		})
	}
	_ = g.Wait()

	var all []models.Evidence
	var stats FetchStats
	for i := range subtasks {
		all = append(all, results[i]...)
		stats.add(perTask[i])
	}
	return all, stats
}

// originalsOf maps curated members back to the researcher output they came from,
// so carried evidence is re-ranked from its original score
func originalsOf(pool []models.Evidence, set models.EvidenceSet) []models.Evidence {
	keep := make(map[string]bool, set.Len())
	for _, ev := range set.Items {
		keep[ev.ContentHash] = true
	}
	best := make(map[string]models.Evidence, len(keep))
	for _, ev := range pool {
		if !keep[ev.ContentHash] {
			continue
		}
		cur, seen := best[ev.ContentHash]
		if !seen || preferDuplicate(ev, cur) {
			best[ev.ContentHash] = ev
		}
	}
	out := make([]models.Evidence, 0, len(best))
	for _, ev := range set.Items {
		if orig, ok := best[ev.ContentHash]; ok {
			out = append(out, orig)
		}
	}
	return out
}

func (r *taskRun) elapsed() time.Duration {
	return r.o.now().Sub(r.start)
}

func (r *taskRun) deadlinePassed() bool {
	limit := r.task.Budget.MaxWallTime
	return limit > 0 && r.elapsed() >= limit
}

// exhausted names the first wall-clock, cost or token limit that has been reached
func (r *taskRun) exhausted() string {
	b := r.task.Budget
	if r.deadlinePassed() {
		return "wall-clock budget exhausted"
	}
	tokens, cost := r.meter.totals()
	if b.MaxCost > 0 && cost >= b.MaxCost {
		return "cost budget exhausted"
	}
	if b.MaxTokens > 0 && tokens >= b.MaxTokens {
		return "token budget exhausted"
	}
	return ""
}

func (r *taskRun) transition(to models.TaskStatus) error {
	from := r.task.GetStatus()
	if err := r.task.Transition(to); err != nil {
		return errors.InvalidTransition(string(from), string(to))
	}
	r.persist(func(ctx context.Context) error { return r.o.deps.Store.SaveTask(ctx, r.task) })
	return nil
}

// persist writes to the artifact store on a context that survives cancellation,
// so artifacts of completed work are kept
func (r *taskRun) persist(fn func(ctx context.Context) error) {
	if r.o.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.o.logger.Error("task %s: failed to persist artifact: %v", r.task.ID, err)
	}
}

func (r *taskRun) emit(stage models.Stage, iteration, fetches, dropped int, msg string) {
	ev := models.StageEvent{
		TaskID:       r.task.ID,
		Stage:        stage,
		Iteration:    iteration,
		Timestamp:    r.o.now(),
		ElapsedMs:    r.elapsed().Milliseconds(),
		FetchCount:   fetches,
		DroppedCount: dropped,
		Message:      msg,
	}
	// stored before it is broadcast so stream subscribers can replay without gaps
	r.persist(func(ctx context.Context) error { return r.o.deps.Store.AppendEvent(ctx, ev) })
	if r.o.deps.Trace != nil {
		r.o.deps.Trace.Emit(ev)
	}
}

// finish completes the task with the latest draft
func (r *taskRun) finish(reason string) (*models.Report, error) {
	return r.complete(r.latest, r.lastScore, reason)
}

// finishWithBest completes the task with the highest-scoring earlier draft
func (r *taskRun) finishWithBest() (*models.Report, error) {
	return r.complete(r.bestReport, r.bestScore, "recovered from iteration failure")
}

// complete ships draft with the completion score it was assessed at
func (r *taskRun) complete(draft *models.Report, score float64, reason string) (*models.Report, error) {
	if draft == nil {
		return nil, r.fail(errors.InternalError("no iteration produced a report (" + reason + ")"))
	}

	tokens, cost := r.meter.totals()
	final := draft.Clone()
	final.IterationCount = r.completed
	final.FinalCompletionScore = score
	final.Degraded = final.Degraded || r.task.Snapshot().Degraded
	final.Diagnostics.TotalFetches = r.fetches
	final.Diagnostics.DroppedFetches = r.dropped
	final.Diagnostics.ElapsedMs = r.elapsed().Milliseconds()
	final.Diagnostics.TotalCost = cost
	final.Diagnostics.TotalTokens = tokens
	for _, n := range r.notes {
		final.AddNote(n)
	}
	final.AddNote("stopped: " + reason)
	final.CreatedAt = r.o.now()

	if err := r.transition(models.TaskStatusCompleted); err != nil {
		return nil, err
	}
	r.persist(func(ctx context.Context) error { return r.o.deps.Store.SaveReport(ctx, final) })
	r.emit(models.StageCompleted, r.completed, r.fetches, r.dropped, reason)
	r.o.logger.Info("task %s completed after %d iterations (score %.2f, degraded %t): %s",
		r.task.ID, final.IterationCount, final.FinalCompletionScore, final.Degraded, reason)
	return final, nil
}

func (r *taskRun) fail(cause error) error {
	r.task.SetError(cause.Error())
	if err := r.transition(models.TaskStatusFailed); err != nil {
		r.o.logger.Error("task %s: %v", r.task.ID, err)
	}
	r.emit(models.StageFailed, r.completed, r.fetches, r.dropped, cause.Error())
	return cause
}

func (r *taskRun) cancel(cause error) (*models.Report, error) {
	r.task.SetError("cancelled")
	if err := r.transition(models.TaskStatusCancelled); err != nil {
		r.o.logger.Warn("task %s: %v", r.task.ID, err)
	}
	r.emit(models.StageCancelled, r.completed, r.fetches, r.dropped, "cancelled")
	r.o.logger.Info("task %s cancelled after %d iterations", r.task.ID, r.completed)
	return nil, errors.Cancelled(cause)
}

func documentNames(docs []models.DocumentRef) []string {
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names
}
