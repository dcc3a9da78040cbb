package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"autosell/internal/repository"
)

type PositionHandler struct {
	Repo repository.Repository
}

func (h *PositionHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/positions", h.list)
}

// @Summary List monitored position snapshots
// @Tags positions
// @Param owner_ref query string false "filter by owner"
// @Success 200 {object} map[string]any
// @Router /api/v1/positions [get]
func (h *PositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListMonitoredPositions(c.Request.Context(), strings.TrimSpace(c.Query("owner_ref")))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
