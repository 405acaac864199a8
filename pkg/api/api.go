// Package api exposes the coordinator over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskforge/pkg/core"
	"taskforge/pkg/engine"
)

// Server wires the engine into a gin router.
type Server struct {
	engine *engine.Engine
}

// NewServer creates an HTTP server around the engine.
func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Router builds the gin router with all coordinator routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/kinds", s.registerKind)
		v1.GET("/kinds/:name", s.getKind)
		v1.POST("/kinds/:name/deactivate", s.deactivateKind)

		v1.POST("/tasks", s.submitTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.GET("/tasks/:id/status", s.getTaskStatus)
		v1.GET("/tasks/:id/result", s.getTaskResult)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
		v1.POST("/tasks/:id/running", s.markRunning)
		v1.POST("/tasks/:id/result", s.reportResult)

		v1.POST("/workers", s.registerWorker)
		v1.GET("/workers/:id", s.getWorker)
		v1.POST("/workers/:id/heartbeat", s.heartbeat)
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerKindRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) registerKind(c *gin.Context) {
	var req registerKindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := s.engine.RegisterKind(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, kind)
}

func (s *Server) getKind(c *gin.Context) {
	kind, err := s.engine.GetKind(c.Request.Context(), c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, kind)
}

func (s *Server) deactivateKind(c *gin.Context) {
	if err := s.engine.DeactivateKind(c.Request.Context(), c.Param("name")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type submitTaskRequest struct {
	Kind  string          `json:"kind" binding:"required"`
	Input json.RawMessage `json:"input"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := s.engine.SubmitTask(c.Request.Context(), req.Kind, req.Input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.engine.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) getTaskStatus(c *gin.Context) {
	status, err := s.engine.GetTaskStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "status": status})
}

func (s *Server) getTaskResult(c *gin.Context) {
	res, err := s.engine.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.engine.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markRunningRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

func (s *Server) markRunning(c *gin.Context) {
	var req markRunningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.MarkTaskRunning(c.Request.Context(), c.Param("id"), req.WorkerID); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reportResultRequest struct {
	WorkerID string          `json:"worker_id" binding:"required"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

func (s *Server) reportResult(c *gin.Context) {
	var req reportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome := core.Outcome{Output: req.Output}
	if req.Error != nil {
		outcome.Error = []byte(*req.Error)
	}
	if err := s.engine.ReportResult(c.Request.Context(), c.Param("id"), req.WorkerID, outcome); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type registerWorkerRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" binding:"required"`
	Capabilities []string `json:"capabilities" binding:"required"`
}

func (s *Server) registerWorker(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := s.engine.RegisterWorker(c.Request.Context(), req.ID, req.Name, req.Capabilities)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) getWorker(c *gin.Context) {
	w, err := s.engine.GetWorker(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type heartbeatRequest struct {
	At *time.Time `json:"at,omitempty"`
}

func (s *Server) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}
	if err := s.engine.Heartbeat(c.Request.Context(), c.Param("id"), at); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// abortWithError maps engine errors to HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case isNotFound(err):
		status = http.StatusNotFound
	case core.IsValidation(err):
		status = http.StatusBadRequest
	case core.IsConflict(err):
		status = http.StatusConflict
	case core.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrTaskNotFound) ||
		errors.Is(err, core.ErrResultNotFound) ||
		errors.Is(err, core.ErrUnknownKind) ||
		errors.Is(err, core.ErrUnknownWorker)
}
