package research

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"aletheia/models"
)

const (
	// supporting evidence needed for full coverage of a sub-task
	fullCoverageSupport = 3
	maxRefinements      = 3
	lowDiversity        = 0.5

	evalWeightCovered   = 0.5
	evalWeightCoverage  = 0.2
	evalWeightDiversity = 0.15
	evalWeightCitation  = 0.15
)

var refinementAngles = []string{"recent findings", "data and statistics", "expert analysis"}

// Evaluator scores one iteration and proposes refinement queries. It keeps the
// queries already asked for a task so they are never repeated.
type Evaluator struct {
	asked   map[string]bool
	parents map[string]string // refinement query -> original sub-task id
	rounds  map[string]int    // sub-task id -> refinements issued
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		asked:   make(map[string]bool),
		parents: make(map[string]string),
		rounds:  make(map[string]int),
	}
}

// Coverage returns min(1, supporting/3) per original sub-task. Supporting evidence
// is tagged with the sub-task and carries one of its source types.
func Coverage(plan *models.ResearchPlan, set models.EvidenceSet) map[string]float64 {
	out := make(map[string]float64, len(plan.SubTasks))
	for _, st := range plan.SubTasks {
		tag := models.SubTaskTag(st.ID)
		support := 0
		for _, ev := range set.Items {
			if !ev.HasTag(tag) {
				continue
			}
			for _, t := range st.SourceTypes {
				if ev.HasTag(string(t)) {
					support++
					break
				}
			}
		}
		out[st.ID] = math.Min(1, float64(support)/fullCoverageSupport)
	}
	return out
}

// DomainDiversity is the Shannon entropy of source domains, normalized to [0,1]
func DomainDiversity(set models.EvidenceSet) (float64, int) {
	n := set.Len()
	if n < 2 {
		return 0, n
	}
	counts := make(map[string]int)
	for _, ev := range set.Items {
		d := ev.Source.Domain()
		if d == "" {
			d = ev.Source.URL
		}
		counts[d]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := make([]float64, len(keys))
	for i, k := range keys {
		p[i] = float64(counts[k]) / float64(n)
	}
	norm := math.Log(math.Min(float64(n), 8))
	if norm == 0 {
		return 0, len(keys)
	}
	return clamp01(stat.Entropy(p) / norm), len(keys)
}

// CitationUse is the share of the evidence set cited by the report
func CitationUse(set models.EvidenceSet, report *models.Report) float64 {
	if report == nil || set.Len() == 0 {
		return 0
	}
	return clamp01(float64(len(report.Bibliography)) / float64(set.Len()))
}

// Evaluate scores coverage, diversity and citation use. Refinement queries are
// emitted only when the level is below adequate and budget remains.
func (e *Evaluator) Evaluate(plan *models.ResearchPlan, set models.EvidenceSet, report *models.Report, budgetRemaining bool) models.CompletionAssessment {
	coverage := Coverage(plan, set)

	values := make([]float64, 0, len(coverage))
	covered := 0
	for _, st := range plan.SubTasks {
		values = append(values, coverage[st.ID])
		if coverage[st.ID] > 0 {
			covered++
		}
	}
	mean, err := stats.Mean(values)
	if err != nil {
		mean = 0
	}
	coveredFraction := 0.0
	if len(plan.SubTasks) > 0 {
		coveredFraction = float64(covered) / float64(len(plan.SubTasks))
	}
	diversity, domains := DomainDiversity(set)
	citation := CitationUse(set, report)

	score := clamp01(evalWeightCovered*coveredFraction +
		evalWeightCoverage*mean +
		evalWeightDiversity*diversity +
		evalWeightCitation*citation)
	level := models.LevelForScore(score)

	weakest := weakestSubTasks(plan, coverage)
	gaps := make([]string, 0, len(weakest)+1)
	for _, st := range weakest {
		c := coverage[st.ID]
		if c == 0 {
			gaps = append(gaps, fmt.Sprintf("no supporting evidence for %s: %s", st.ID, st.Description))
		} else {
			gaps = append(gaps, fmt.Sprintf("weak coverage for %s (%.0f%%): %s", st.ID, c*100, st.Description))
		}
	}
	if set.Len() >= 2 && diversity < lowDiversity {
		gaps = append(gaps, fmt.Sprintf("low source diversity (%d domains across %d sources)", domains, set.Len()))
	}

	assessment := models.CompletionAssessment{
		Iteration:         set.Iteration,
		Score:             score,
		Level:             level,
		CoverageBySubTask: coverage,
		Gaps:              gaps,
		RefinementQueries: []string{},
	}
	if !level.AtLeast(models.LevelAdequate) && budgetRemaining {
		assessment.RefinementQueries = e.refine(weakest)
	}
	return assessment
}

// weakestSubTasks lists sub-tasks below full coverage, lowest first
func weakestSubTasks(plan *models.ResearchPlan, coverage map[string]float64) []models.SubTask {
	var weak []models.SubTask
	for _, st := range plan.SubTasks {
		if coverage[st.ID] < 1 {
			weak = append(weak, st)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool {
		ci, cj := coverage[weak[i].ID], coverage[weak[j].ID]
		if ci != cj {
			return ci < cj
		}
		return weak[i].Priority < weak[j].Priority
	})
	return weak
}

func (e *Evaluator) refine(weakest []models.SubTask) []string {
	var queries []string
	for _, st := range weakest {
		if len(queries) == maxRefinements {
			break
		}
		for e.rounds[st.ID] < len(refinementAngles) {
			angle := refinementAngles[e.rounds[st.ID]]
			e.rounds[st.ID]++
			q := st.Description + " " + angle
			key := strings.ToLower(q)
			if e.asked[key] {
				continue
			}
			e.asked[key] = true
			e.parents[q] = st.ID
			queries = append(queries, q)
			break
		}
	}
	return queries
}

// Increment turns refinement queries into sub-tasks for the next iteration
func (e *Evaluator) Increment(plan *models.ResearchPlan, assessment models.CompletionAssessment, iteration int) *models.PlanIncrement {
	if len(assessment.RefinementQueries) == 0 {
		return nil
	}
	inc := &models.PlanIncrement{Iteration: iteration}
	for i, q := range assessment.RefinementQueries {
		parentID := e.parents[q]
		parent, ok := plan.SubTask(parentID)
		if !ok {
			continue
		}
		inc.SubTasks = append(inc.SubTasks, models.SubTask{
			ID:          fmt.Sprintf("R%d.%d", iteration, i+1),
			Description: q,
			SourceTypes: append([]models.SourceType(nil), parent.SourceTypes...),
			Priority:    parent.Priority,
			ParentID:    parent.ID,
			Iteration:   iteration,
		})
	}
	if len(inc.SubTasks) == 0 {
		return nil
	}
	return inc
}
