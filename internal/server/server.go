// Package server exposes the orchestrator over HTTP: conversation and task
// reads, build/deployment launches, a websocket progress stream, and the
// Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/orchestrator"
	"foreman/internal/record"
	"foreman/internal/task"
)

// Config configures the HTTP server.
type Config struct {
	Port           int
	AllowedOrigins []string
	// MaxStreams bounds concurrent websocket progress streams.
	MaxStreams int64
	// StreamInterval is how often progress snapshots are pushed to websocket
	// clients. Defaults to 500ms.
	StreamInterval time.Duration
}

// Server is the HTTP surface over the orchestrator and the task registry.
type Server struct {
	cfg     Config
	orch    *orchestrator.Orchestrator
	tasks   *task.Registry
	metrics *observability.Metrics
	logger  logging.Logger
	streams *semaphore.Weighted

	engine *gin.Engine
	http   *http.Server
}

// New builds the router. metrics may be nil to disable the scrape endpoint.
func New(cfg Config, orch *orchestrator.Orchestrator, tasks *task.Registry, metrics *observability.Metrics, logger logging.Logger) *Server {
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = 256
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}
	s := &Server{
		cfg:     cfg,
		orch:    orch,
		tasks:   tasks,
		metrics: metrics,
		logger:  logging.OrNop(logger),
		streams: semaphore.NewWeighted(cfg.MaxStreams),
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	api := engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/conversations", s.handleCreateConversation)
		api.GET("/conversations/:id", s.handleGetConversation)
		api.POST("/conversations/:id/builds", s.handleStartBuild)
		api.POST("/conversations/:id/deployments", s.handleStartDeployment)

		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/tasks/:id/messages", s.handleTaskMessages)
		api.GET("/tasks/:id/ws", s.handleTaskStream)
	}

	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return engine
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start begins serving and blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_tasks": s.tasks.ActiveCount(),
	})
}

func conversationResponse(rec *record.Record) gin.H {
	return gin.H{
		"conversation_id": rec.ID,
		"version":         rec.Version,
		"locked":          rec.Locked,
		"fields":          rec.Fields,
	}
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	rec := s.orch.CreateConversation(c.Request.Context())
	c.JSON(http.StatusCreated, conversationResponse(rec))
}

func (s *Server) handleGetConversation(c *gin.Context) {
	rec, err := s.orch.Conversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversationResponse(rec))
}

type buildPayload struct {
	Dir          string   `json:"dir"`
	Command      string   `json:"command" binding:"required"`
	Args         []string `json:"args"`
	Branch       string   `json:"branch"`
	ArtifactPath string   `json:"artifact_path"`
	// MaxDurationSeconds overrides the configured monitor timeout.
	MaxDurationSeconds int `json:"max_duration_seconds"`
}

func (s *Server) handleStartBuild(c *gin.Context) {
	var payload buildPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.orch.StartBuild(c.Request.Context(), orchestrator.BuildRequest{
		ConversationID: c.Param("id"),
		Dir:            payload.Dir,
		Command:        payload.Command,
		Args:           payload.Args,
		Branch:         payload.Branch,
		ArtifactPath:   payload.ArtifactPath,
		MaxDuration:    time.Duration(payload.MaxDurationSeconds) * time.Second,
	})
	if err != nil {
		s.writeStartError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

type deploymentPayload struct {
	JobID              string `json:"job_id" binding:"required"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
}

func (s *Server) handleStartDeployment(c *gin.Context) {
	var payload deploymentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.orch.StartDeployment(c.Request.Context(), orchestrator.DeploymentRequest{
		ConversationID: c.Param("id"),
		JobID:          payload.JobID,
		MaxDuration:    time.Duration(payload.MaxDurationSeconds) * time.Second,
	})
	if err != nil {
		s.writeStartError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) writeStartError(c *gin.Context, err error) {
	if errors.Is(err, record.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.tasks.List()})
}

func (s *Server) handleGetTask(c *gin.Context) {
	snap, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTaskMessages(c *gin.Context) {
	snap, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":           snap.ID,
		"progress_messages": snap.Messages,
	})
}
