// Package api serves the admin HTTP API: health, stats and task management.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
)

// StatsProvider returns runtime counters for GET /stats.
type StatsProvider func(ctx context.Context) (map[string]interface{}, error)

// Server is the admin HTTP API.
type Server struct {
	tasks           *tasks.Manager
	stats           StatsProvider
	defaultInterval time.Duration
	engine          *gin.Engine
	srv             *http.Server
}

// NewServer builds the router. stats may be nil.
func NewServer(mgr *tasks.Manager, stats StatsProvider, defaultInterval time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	if defaultInterval <= 0 {
		defaultInterval = tasks.DefaultInterval
	}
	s := &Server{tasks: mgr, stats: stats, defaultInterval: defaultInterval}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", s.healthz)
	r.GET("/stats", s.getStats)

	g := r.Group("/tasks")
	{
		g.GET("", s.listTasks)
		g.POST("", s.createTask)
		g.GET("/:id", s.getTask)
		g.GET("/:id/executions", s.listExecutions)
		g.POST("/:id/stop", s.stopTask)
		g.DELETE("/:id", s.deleteTask)
	}
	s.engine = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr in the background. The bound address is returned so
// ":0" can be used.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.APIError("API server stopped: %v", err)
		}
	}()
	logging.API("API listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.APIDebug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// GET /healthz
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// GET /stats
func (s *Server) getStats(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := s.tasks.Stats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"tasks": counts}
	if s.stats != nil {
		extra, err := s.stats(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		for k, v := range extra {
			resp[k] = v
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CreateTaskRequest is the POST /tasks body.
type CreateTaskRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Priority    string                 `json:"priority"`
	Params      map[string]interface{} `json:"params"`
	// Interval is in seconds; omitted means the default, 0 means one-shot.
	Interval *int64    `json:"interval"`
	StartAt  time.Time `json:"start_at"`
}

// POST /tasks
func (s *Server) createTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	interval := s.defaultInterval
	if req.Interval != nil {
		d, err := types.SecondsDuration(float64(*req.Interval))
		if err != nil {
			writeError(c, err)
			return
		}
		interval = d
	}
	t, err := s.tasks.Create(c.Request.Context(), tasks.CreateRequest{
		Name:        req.Name,
		Kind:        types.TaskKind(req.Type),
		Description: req.Description,
		Priority:    types.ParsePriority(req.Priority),
		Params:      req.Params,
		Interval:    interval,
		StartAt:     req.StartAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// GET /tasks?status=pending
func (s *Server) listTasks(c *gin.Context) {
	var statuses []types.TaskStatus
	if v := c.Query("status"); v != "" {
		st, err := types.ParseTaskStatus(v)
		if err != nil {
			writeError(c, err)
			return
		}
		statuses = append(statuses, st)
	}
	all, err := s.tasks.List(c.Request.Context(), statuses...)
	if err != nil {
		writeError(c, err)
		return
	}
	if all == nil {
		all = []types.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": all, "total": len(all)})
}

// GET /tasks/:id
func (s *Server) getTask(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

// GET /tasks/:id/executions?limit=10
func (s *Server) listExecutions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	t, execs, err := s.tasks.Executions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if execs == nil {
		execs = []types.TaskExecution{}
	}
	c.JSON(http.StatusOK, gin.H{"task_id": t.ID, "executions": execs})
}

// POST /tasks/:id/stop
func (s *Server) stopTask(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	stopped, err := s.tasks.Stop(c.Request.Context(), tasks.Selector{ID: t.ID})
	if err != nil {
		writeError(c, err)
		return
	}
	if len(stopped) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "task is not active", "status": t.Status})
		return
	}
	c.JSON(http.StatusOK, stopped[0])
}

// DELETE /tasks/:id
func (s *Server) deleteTask(c *gin.Context) {
	t, ok := s.lookup(c)
	if !ok {
		return
	}
	if _, err := s.tasks.Delete(c.Request.Context(), tasks.Selector{ID: t.ID}); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(c *gin.Context) (*types.Task, bool) {
	t, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	return t, true
}

// writeError maps error kinds onto status codes.
func writeError(c *gin.Context, err error) {
	if msg, ok := types.ValidationMessage(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	logging.APIError("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	status := http.StatusInternalServerError
	if errors.Is(err, types.ErrCollaborator) {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": http.StatusText(status)})
}
