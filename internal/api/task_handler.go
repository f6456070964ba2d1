package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/internal/export"
	"aletheia/internal/research"
	"aletheia/models"
	"aletheia/ports"
)

// CreateTaskRequest is the JSON body of POST /api/tasks
type CreateTaskRequest struct {
	Query       string             `json:"query"`
	Scope       string             `json:"scope"`
	Budget      BudgetRequest      `json:"budget"`
	Constraints ConstraintsRequest `json:"constraints"`
	Documents   []DocumentRequest  `json:"documents"`
}

type BudgetRequest struct {
	MaxIterations      int     `json:"max_iterations"`
	MaxTokens          int     `json:"max_tokens"`
	MaxCost            float64 `json:"max_cost"`
	MaxWallTimeSeconds int     `json:"max_wall_time_seconds"`
}

type ConstraintsRequest struct {
	MaxResults      int      `json:"max_results"`
	AllowedDomains  []string `json:"allowed_domains"`
	BlockedDomains  []string `json:"blocked_domains"`
	TimeWindowHours int      `json:"time_window_hours"`
	Locale          string   `json:"locale"`
}

// DocumentRequest is an inline uploaded document
type DocumentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (r CreateTaskRequest) toSubmit() (research.SubmitRequest, error) {
	if r.Budget.MaxWallTimeSeconds < 0 || r.Constraints.TimeWindowHours < 0 {
		return research.SubmitRequest{}, errors.InvalidInput("durations must not be negative")
	}
	docs := make([]models.DocumentRef, 0, len(r.Documents))
	for i, d := range r.Documents {
		if d.Name == "" {
			return research.SubmitRequest{}, errors.InvalidInput(fmt.Sprintf("document %d has no name", i+1))
		}
		docs = append(docs, models.DocumentRef{Name: d.Name, Content: []byte(d.Text)})
	}
	return research.SubmitRequest{
		Query: r.Query,
		Scope: models.Scope(r.Scope),
		Budget: models.Budget{
			MaxIterations: r.Budget.MaxIterations,
			MaxTokens:     r.Budget.MaxTokens,
			MaxCost:       r.Budget.MaxCost,
			MaxWallTime:   time.Duration(r.Budget.MaxWallTimeSeconds) * time.Second,
		},
		Constraints: models.Constraints{
			MaxResults:     r.Constraints.MaxResults,
			AllowedDomains: r.Constraints.AllowedDomains,
			BlockedDomains: r.Constraints.BlockedDomains,
			TimeWindow:     time.Duration(r.Constraints.TimeWindowHours) * time.Hour,
			Locale:         r.Constraints.Locale,
		},
		Documents: docs,
	}, nil
}

// TaskHandler handles research task requests
type TaskHandler struct {
	tasks  TaskService
	store  ports.ArtifactRepository
	hub    *SSEHub
	logger *internal.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks TaskService, store ports.ArtifactRepository, hub *SSEHub, logger *internal.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, store: store, hub: hub, logger: logger}
}

func taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errors.InvalidInput("invalid task id"))
		return uuid.Nil, false
	}
	return id, true
}

// CreateTask submits a new research task
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}
	submit, err := req.toSubmit()
	if err != nil {
		writeError(c, err)
		return
	}

	task, err := h.tasks.Submit(c.Request.Context(), submit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": task.Status})
}

// ListTasks returns recent tasks, newest first
func (h *TaskHandler) ListTasks(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	tasks, err := h.tasks.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask returns the task status
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask requests cancellation
func (h *TaskHandler) CancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := h.tasks.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "cancelling"})
}

func (h *TaskHandler) GetPlan(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	plan, err := h.store.GetPlan(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *TaskHandler) ListIterations(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	recs, err := h.store.ListIterations(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"iterations": recs})
}

func (h *TaskHandler) GetIteration(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		writeError(c, errors.InvalidInput("iteration must be a positive integer"))
		return
	}
	rec, err := h.store.GetIteration(c.Request.Context(), id, n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *TaskHandler) GetReport(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	report, err := h.store.GetReport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetReportHTML renders the final report as a page
func (h *TaskHandler) GetReportHTML(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := h.store.GetReport(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	title := "Research report"
	if task, err := h.store.GetTask(ctx, id); err == nil {
		title = task.Query
	}
	page, err := export.RenderHTML(report, title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// GetManifest downloads the audit workbook
func (h *TaskHandler) GetManifest(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	m, err := export.LoadManifest(c.Request.Context(), h.store, id)
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteManifest(&buf, m); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// StreamEvents streams stage events as Server-Sent Events
func (h *TaskHandler) StreamEvents(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if _, err := h.tasks.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.hub.Stream(c, id, func(ctx context.Context) ([]models.StageEvent, error) {
		return h.store.ListEvents(ctx, id)
	})
}
