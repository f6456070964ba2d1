package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aletheia/internal"
	"aletheia/internal/errors"
	"aletheia/internal/research"
	"aletheia/models"
	"aletheia/ports"
)

// TaskService is the task registry the API drives
type TaskService interface {
	Submit(ctx context.Context, req research.SubmitRequest) (*models.ResearchTask, error)
	Cancel(id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.ResearchTask, error)
	List(ctx context.Context, limit int) ([]*models.ResearchTask, error)
	Active() int
}

// Server exposes research tasks over HTTP
type Server struct {
	tasks  TaskService
	store  ports.ArtifactRepository
	hub    *SSEHub
	logger *internal.Logger
}

// NewServer creates the API server
func NewServer(tasks TaskService, store ports.ArtifactRepository, hub *SSEHub, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Server{tasks: tasks, store: store, hub: hub, logger: logger.With("API")}
}

// Router builds the gin engine with every route mounted
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)

	h := NewTaskHandler(s.tasks, s.store, s.hub, s.logger)
	tasks := r.Group("/api/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.POST("/:id/cancel", h.CancelTask)
		tasks.GET("/:id/plan", h.GetPlan)
		tasks.GET("/:id/iterations", h.ListIterations)
		tasks.GET("/:id/iterations/:n", h.GetIteration)
		tasks.GET("/:id/report", h.GetReport)
		tasks.GET("/:id/report.html", h.GetReportHTML)
		tasks.GET("/:id/manifest.xlsx", h.GetManifest)
		tasks.GET("/:id/events", h.StreamEvents)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_tasks": s.tasks.Active()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// statusFor maps application error codes onto HTTP status codes
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeValidationError, errors.CodeUnsupportedDocument:
		return http.StatusBadRequest
	case errors.CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	code := errors.CodeInternalError
	if errors.IsAppError(err) {
		code = errors.GetCode(err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
