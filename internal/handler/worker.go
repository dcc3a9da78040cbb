package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"autosell/internal/service"
)

type WorkerHandler struct {
	Worker *service.MonitoringWorker
	// BaseCtx is the process root context. A started worker must outlive the
	// start request, so it cannot run under the request context.
	BaseCtx context.Context
}

func (h *WorkerHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/worker")
	g.GET("/status", h.status)
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
}

// @Summary Worker status snapshot
// @Tags worker
// @Success 200 {object} map[string]any
// @Router /api/v1/worker/status [get]
func (h *WorkerHandler) status(c *gin.Context) {
	if h.Worker == nil {
		Error(c, http.StatusInternalServerError, "worker unavailable", nil)
		return
	}
	Ok(c, h.Worker.Status(), nil)
}

// @Summary Start the monitoring worker
// @Tags worker
// @Success 200 {object} map[string]any
// @Router /api/v1/worker/start [post]
func (h *WorkerHandler) start(c *gin.Context) {
	if h.Worker == nil {
		Error(c, http.StatusInternalServerError, "worker unavailable", nil)
		return
	}
	baseCtx := h.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if err := h.Worker.Start(baseCtx); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, h.Worker.Status(), nil)
}

// @Summary Stop the monitoring worker
// @Tags worker
// @Success 200 {object} map[string]any
// @Router /api/v1/worker/stop [post]
func (h *WorkerHandler) stop(c *gin.Context) {
	if h.Worker == nil {
		Error(c, http.StatusInternalServerError, "worker unavailable", nil)
		return
	}
	h.Worker.Stop()
	Ok(c, h.Worker.Status(), nil)
}
