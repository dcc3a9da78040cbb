package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"autosell/internal/models"
	"autosell/internal/repository"
	"autosell/internal/service"
)

type RuleHandler struct {
	Rules  *service.RuleService
	Events *service.EventLogService
}

func (h *RuleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/rules")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/events", h.events)
	g.POST("/:id/approval", h.approval)
}

type createRuleRequest struct {
	RuleType        string            `json:"rule_type"`
	MarketID        string            `json:"market_id"`
	TokenID         string            `json:"token_id"`
	Side            string            `json:"side"`
	OwnerRef        string            `json:"owner_ref"`
	TriggerPrice    float64           `json:"trigger_price"`
	TrailingPercent *float64          `json:"trailing_percent,omitempty"`
	Action          models.SellAction `json:"action"`
}

// @Summary Create a conditional sell rule
// @Tags rules
// @Accept json
// @Param request body createRuleRequest true "rule definition"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules [post]
func (h *RuleHandler) create(c *gin.Context) {
	if h.Rules == nil {
		Error(c, http.StatusInternalServerError, "rule service unavailable", nil)
		return
	}
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Rules.Create(c.Request.Context(), service.CreateRuleInput{
		RuleType:        strings.ToUpper(strings.TrimSpace(req.RuleType)),
		MarketID:        strings.TrimSpace(req.MarketID),
		TokenID:         strings.TrimSpace(req.TokenID),
		Side:            strings.ToUpper(strings.TrimSpace(req.Side)),
		OwnerRef:        strings.TrimSpace(req.OwnerRef),
		TriggerPrice:    req.TriggerPrice,
		TrailingPercent: req.TrailingPercent,
		Action:          req.Action,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List rules
// @Tags rules
// @Param status query string false "filter by status"
// @Param token_id query string false "filter by token"
// @Param owner_ref query string false "filter by owner"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules [get]
func (h *RuleHandler) list(c *gin.Context) {
	if h.Rules == nil {
		Error(c, http.StatusInternalServerError, "rule service unavailable", nil)
		return
	}
	params := repository.ListRulesParams{
		Limit:   parseIntQuery(c, "limit", 50),
		Offset:  parseIntQuery(c, "offset", 0),
		OrderBy: c.Query("order_by"),
	}
	if v := strings.ToUpper(strings.TrimSpace(c.Query("status"))); v != "" {
		params.Status = &v
	}
	if v := strings.ToUpper(strings.TrimSpace(c.Query("rule_type"))); v != "" {
		params.RuleType = &v
	}
	if v := strings.TrimSpace(c.Query("token_id")); v != "" {
		params.TokenID = &v
	}
	if v := strings.TrimSpace(c.Query("market_id")); v != "" {
		params.MarketID = &v
	}
	if v := strings.TrimSpace(c.Query("owner_ref")); v != "" {
		params.OwnerRef = &v
	}
	items, total, err := h.Rules.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

// @Summary Get one rule
// @Tags rules
// @Param id path int true "rule id"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules/{id} [get]
func (h *RuleHandler) get(c *gin.Context) {
	if h.Rules == nil {
		Error(c, http.StatusInternalServerError, "rule service unavailable", nil)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	item, err := h.Rules.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Error(c, http.StatusNotFound, "rule not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Cancel a rule
// @Tags rules
// @Param id path int true "rule id"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules/{id}/cancel [post]
func (h *RuleHandler) cancel(c *gin.Context) {
	if h.Rules == nil {
		Error(c, http.StatusInternalServerError, "rule service unavailable", nil)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	canceled, err := h.Rules.Cancel(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if !canceled {
		Error(c, http.StatusConflict, "rule is not cancelable in its current status", nil)
		return
	}
	Ok(c, gin.H{"canceled": true}, nil)
}

// @Summary List a rule's lifecycle events
// @Tags rules
// @Param id path int true "rule id"
// @Param limit query int false "max events"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules/{id}/events [get]
func (h *RuleHandler) events(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event log unavailable", nil)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	items, err := h.Events.List(c.Request.Context(), id, parseIntQuery(c, "limit", 100))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type approvalRequest struct {
	Outcome string  `json:"outcome"`
	OrderID *string `json:"order_id,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

// @Summary Apply an approval decision to a pending rule
// @Tags rules
// @Accept json
// @Param id path int true "rule id"
// @Param request body approvalRequest true "approved, denied or timed_out"
// @Success 200 {object} map[string]any
// @Router /api/v1/rules/{id}/approval [post]
func (h *RuleHandler) approval(c *gin.Context) {
	if h.Rules == nil {
		Error(c, http.StatusInternalServerError, "rule service unavailable", nil)
		return
	}
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Rules.ResolveApproval(c.Request.Context(), id,
		strings.ToLower(strings.TrimSpace(req.Outcome)), req.OrderID, req.Reason)
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func parseRuleID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return 0, false
	}
	return id, true
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
