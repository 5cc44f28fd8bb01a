// Package server exposes the scheduler engine over HTTP: a small JSON API
// for control operations, a state endpoint, and a server-sent event stream
// mirroring the publisher.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/taskwright/taskwright/internal/events"
	"github.com/taskwright/taskwright/internal/scheduler"
	"github.com/taskwright/taskwright/internal/storage"
	"github.com/taskwright/taskwright/internal/types"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// Server wires the engine and store into an HTTP API.
type Server struct {
	engine *scheduler.Engine
	store  storage.Store
	router *gin.Engine
}

// New creates the server and registers its routes.
func New(engine *scheduler.Engine, store storage.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{engine: engine, store: store, router: router}
	s.registerRoutes()
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/events", s.handleEvents)
	api.GET("/stuck", s.handleStuck)
	api.POST("/submit", s.handleSubmit)
	api.POST("/start", s.handleStart)
	api.POST("/pause", s.handlePause)
	api.POST("/stop", s.handleStop)
	api.POST("/reset", s.handleReset)
	api.POST("/retry", s.handleRetry)
	api.GET("/config", s.handleGetConfig)
	api.PUT("/config", s.handlePutConfig)
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": "error", "message": err.Error()})
}

func (s *Server) handleState(c *gin.Context) {
	state, err := s.engine.State(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleStuck(c *gin.Context) {
	stuck, err := s.engine.ListStuck(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "items": stuck})
}

// submitRequest enqueues the bound solution of one issue.
type submitRequest struct {
	IssueID string `json:"issue_id" binding:"required"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	items, err := s.engine.Submit(c.Request.Context(), req.IssueID)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "items": items})
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.engine.Start(c.Request.Context()); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.engine.Pause(); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.engine.Stop(c.Request.Context()); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.engine.Reset(); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// retryRequest mirrors the retry CLI flags.
type retryRequest struct {
	IssueID string `json:"issue_id"`
	Force   bool   `json:"force"`
}

func (s *Server) handleRetry(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	threshold := s.engine.Config().StuckThreshold()
	n, err := s.store.RetryFailed(c.Request.Context(), req.IssueID, req.Force, threshold, "api")
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "retried": n})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) handlePutConfig(c *gin.Context) {
	var cfg types.SchedulerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.UpdateConfig(c.Request.Context(), cfg); err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleEvents streams publisher messages as server-sent events. The first
// event is always a snapshot.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub, cancel := s.engine.Publisher().Subscribe()
	defer cancel()

	// Guarantee the opening snapshot even if none was published yet.
	if state, err := s.engine.State(c.Request.Context()); err == nil {
		writeSSE(c, events.Message{Type: events.TypeSnapshot, State: state, Timestamp: time.Now()})
	}

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case msg, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(c, msg)
		}
	}
}

func writeSSE(c *gin.Context, msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Type, data)
	c.Writer.Flush()
}
