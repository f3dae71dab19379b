package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// AutomationHandler exposes rule management, the audit log and manual
// event triggering.
type AutomationHandler struct {
	automations *services.AutomationService
	engine      *services.AutomationEngine
	logger      *logrus.Logger
}

func NewAutomationHandler(automations *services.AutomationService, engine *services.AutomationEngine, logger *logrus.Logger) *AutomationHandler {
	return &AutomationHandler{automations: automations, engine: engine, logger: logger}
}

func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.automations.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list rules: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, err := h.automations.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var rule models.AutomationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	if err := h.automations.CreateRule(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var patch models.AutomationRule
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	rule, err := h.automations.UpdateRule(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	if err := h.automations.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Rule deleted"})
}

func (h *AutomationHandler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.automations.ListLogs(c.Request.Context(), c.Query("rule_id"), limit)
	if err != nil {
		h.logger.Errorf("Failed to list automation logs: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

type triggerEventRequest struct {
	Type string         `json:"type" binding:"required"`
	Data models.JSONMap `json:"data"`
}

// TriggerEvent fires an event by hand, mostly for testing rules from
// the dashboard.
func (h *AutomationHandler) TriggerEvent(c *gin.Context) {
	var req triggerEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	if req.Data == nil {
		req.Data = models.JSONMap{}
	}

	logs, err := h.engine.TriggerEvent(c.Request.Context(), services.Event{Type: req.Type, Data: req.Data})
	if err != nil {
		h.logger.Errorf("Manual trigger failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Trigger failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "rulesTriggered": len(logs), "logs": logs})
}

// RegisterAutomationRoutes wires automation endpoints onto the API
// group.
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	automations := r.Group("/automations")
	{
		automations.GET("", handler.ListRules)
		automations.POST("", handler.CreateRule)
		automations.GET("/logs", handler.ListLogs)
		automations.POST("/trigger", handler.TriggerEvent)
		automations.GET("/:id", handler.GetRule)
		automations.PUT("/:id", handler.UpdateRule)
		automations.DELETE("/:id", handler.DeleteRule)
	}
}
