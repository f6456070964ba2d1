package research

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/models"
	"aletheia/ports"
)

// MaxSubTasks is the hard upper bound on plan size
const MaxSubTasks = 8

// PlanRequest is the planner input
type PlanRequest struct {
	TaskID    uuid.UUID
	Query     string
	Scope     models.Scope
	Budget    models.Budget
	Documents []string // names of uploaded documents, if any
}

// Planner decomposes a query into sub-tasks with distinct source mixes
type Planner struct {
	model       ports.ModelClientPort
	logger      *internal.Logger
	backoff     time.Duration
	maxTokens   int
	temperature float64
	now         func() time.Time
}

// NewPlanner creates a planner over the given model client
func NewPlanner(model ports.ModelClientPort, logger *internal.Logger, backoff time.Duration) *Planner {
	return &Planner{
		model:       model,
		logger:      logger.With("Planner"),
		backoff:     backoff,
		maxTokens:   1200,
		temperature: 0.2,
		now:         time.Now,
	}
}

func scopeFactor(scope models.Scope) int {
	switch scope {
	case models.ScopeFocused:
		return 2
	case models.ScopeComprehensive:
		return 4
	}
	return 3
}

// SubTaskBound is clamp(maxIterations*factor(scope), 1, MaxSubTasks)
func SubTaskBound(scope models.Scope, budget models.Budget) int {
	n := budget.WithDefaults().MaxIterations * scopeFactor(scope)
	if n < 1 {
		return 1
	}
	if n > MaxSubTasks {
		return MaxSubTasks
	}
	return n
}

// sourceMixes is the deterministic rotation used to give every sub-task its own source set
var sourceMixes = [][]models.SourceType{
	{models.SourceWeb},
	{models.SourceAcademic},
	{models.SourceNews},
	{models.SourceWeb, models.SourceAcademic},
	{models.SourceWeb, models.SourceNews},
	{models.SourceAcademic, models.SourceNews},
	{models.SourceWeb, models.SourceAcademic, models.SourceNews},
}

var documentMixes = [][]models.SourceType{
	{models.SourceDocument},
	{models.SourceWeb, models.SourceDocument},
	{models.SourceAcademic, models.SourceDocument},
	{models.SourceNews, models.SourceDocument},
}

func availableMixes(withDocuments bool) [][]models.SourceType {
	if !withDocuments {
		return sourceMixes
	}
	out := make([][]models.SourceType, 0, len(sourceMixes)+len(documentMixes))
	out = append(out, documentMixes[0])
	out = append(out, sourceMixes...)
	return append(out, documentMixes[1:]...)
}

// Plan issues exactly one model call (with its single retry) and parses the result
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*models.ResearchPlan, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.InvalidInput("query must not be empty")
	}
	scope := req.Scope
	if scope == "" {
		scope = models.ScopeBroad
	}
	bound := SubTaskBound(scope, req.Budget)
	mixes := availableMixes(len(req.Documents) > 0)
	if bound > len(mixes) {
		bound = len(mixes)
	}

	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: plannerSystemPrompt},
		{Role: ports.RoleUser, Content: buildPlannerPrompt(query, scope, bound, req.Documents)},
	}
	out, err := completeWithRetry(ctx, p.model, p.logger, p.backoff, messages, p.maxTokens, p.temperature)
	if err != nil {
		return nil, errors.PlanningFailed(err)
	}

	drafts := parsePlan(out.Text)
	if len(drafts) == 0 {
		return nil, errors.PlanningFailed(fmt.Errorf("model returned no usable sub-tasks"))
	}

	subtasks := finalizeSubTasks(drafts, bound, mixes)
	p.logger.Info("planned %d sub-tasks (bound %d, scope %s)", len(subtasks), bound, scope)

	return &models.ResearchPlan{
		TaskID:    req.TaskID,
		Query:     query,
		Scope:     scope,
		SubTasks:  subtasks,
		CreatedAt: p.now(),
	}, nil
}

const plannerSystemPrompt = `You are a research planner. Break the user's question into independent research sub-tasks.
Respond with JSON only: {"subtasks":[{"description":"...","source_types":["web"|"academic"|"news"|"document"],"priority":1}]}.
Lower priority numbers are more important. Give each sub-task a different mix of source types.`

func buildPlannerPrompt(query string, scope models.Scope, bound int, documents []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query)
	fmt.Fprintf(&b, "Scope: %s\n", scope)
	fmt.Fprintf(&b, "Produce at most %d sub-tasks.\n", bound)
	if len(documents) > 0 {
		fmt.Fprintf(&b, "Uploaded documents available as source type \"document\": %s\n", strings.Join(documents, ", "))
	}
	return b.String()
}

type draftSubTask struct {
	Description string   `json:"description"`
	SourceTypes []string `json:"source_types"`
	Priority    int      `json:"priority"`
}

type planPayload struct {
	SubTasks []draftSubTask `json:"subtasks"`
}

var bulletLine = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// parsePlan accepts fenced or prefixed JSON, falling back to a bulleted list
func parsePlan(text string) []draftSubTask {
	if raw := extractJSONObject(text); raw != "" {
		var payload planPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && len(payload.SubTasks) > 0 {
			return payload.SubTasks
		}
	}

	var drafts []draftSubTask
	for _, line := range strings.Split(text, "\n") {
		m := bulletLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.Trim(strings.TrimSpace(m[1]), "*_`")
		if desc != "" {
			drafts = append(drafts, draftSubTask{Description: desc})
		}
	}
	return drafts
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// finalizeSubTasks dedupes, orders by priority, truncates to bound, assigns ids
// and makes the source-type sets pairwise distinct
func finalizeSubTasks(drafts []draftSubTask, bound int, mixes [][]models.SourceType) []models.SubTask {
	seenDesc := make(map[string]bool)
	var subtasks []models.SubTask
	for i, d := range drafts {
		desc := strings.TrimSpace(d.Description)
		key := strings.ToLower(desc)
		if desc == "" || seenDesc[key] {
			continue
		}
		seenDesc[key] = true

		priority := d.Priority
		if priority <= 0 {
			priority = i + 1
		}
		subtasks = append(subtasks, models.SubTask{
			Description: desc,
			SourceTypes: normalizeSourceTypes(d.SourceTypes, mixes),
			Priority:    priority,
			Iteration:   1,
		})
	}

	sort.SliceStable(subtasks, func(i, j int) bool {
		return subtasks[i].Priority < subtasks[j].Priority
	})
	if len(subtasks) > bound {
		subtasks = subtasks[:bound]
	}

	used := make(map[string]bool)
	next := 0
	for i := range subtasks {
		key := subtasks[i].SourceKey()
		if key == "" || used[key] {
			for next < len(mixes) && used[mixKey(mixes[next])] {
				next++
			}
			if next < len(mixes) {
				subtasks[i].SourceTypes = append([]models.SourceType(nil), mixes[next]...)
				key = mixKey(mixes[next])
			}
		}
		used[key] = true
		subtasks[i].ID = fmt.Sprintf("S%d", i+1)
	}
	return subtasks
}

// normalizeSourceTypes keeps recognized types that the plan can actually serve, in canonical order
func normalizeSourceTypes(raw []string, mixes [][]models.SourceType) []models.SourceType {
	allowed := make(map[models.SourceType]bool)
	for _, m := range mixes {
		for _, t := range m {
			allowed[t] = true
		}
	}
	present := make(map[models.SourceType]bool)
	for _, r := range raw {
		if t, ok := models.ParseSourceType(r); ok && allowed[t] {
			present[t] = true
		}
	}
	var out []models.SourceType
	for _, t := range models.AllSourceTypes {
		if present[t] {
			out = append(out, t)
		}
	}
	return out
}

func mixKey(mix []models.SourceType) string {
	return models.SubTask{SourceTypes: mix}.SourceKey()
}
