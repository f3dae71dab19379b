package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// PlanHandler exposes AI plan generation and plan management.
type PlanHandler struct {
	planner *services.PlanService
	clients *services.ClientService
	engine  *services.AutomationEngine
	logger  *logrus.Logger
}

func NewPlanHandler(planner *services.PlanService, clients *services.ClientService, engine *services.AutomationEngine, logger *logrus.Logger) *PlanHandler {
	return &PlanHandler{planner: planner, clients: clients, engine: engine, logger: logger}
}

type generatePlanRequest struct {
	Client      *models.Client `json:"client"`
	ClientID    string         `json:"clientId"`
	Goal        string         `json:"goal"`
	Type        string         `json:"type"`
	Constraints models.JSONMap `json:"constraints"`
	CurrentPlan models.JSONMap `json:"currentPlan"`
}

// GeneratePlan responds 200 with a plan for every provider outcome.
// Fallback plans carry fallback:true plus a warning; only malformed
// caller input produces a 400.
func (h *PlanHandler) GeneratePlan(c *gin.Context) {
	var req generatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request body: " + err.Error()})
		return
	}

	if req.Client == nil && req.ClientID != "" {
		client, err := h.clients.Get(c.Request.Context(), req.ClientID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Unknown client: " + req.ClientID})
			return
		}
		req.Client = client
	}
	if req.Client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "client or clientId is required"})
		return
	}
	if req.Type == "" {
		req.Type = services.PlanTypeTraining
	}

	result, err := h.planner.GeneratePlan(c.Request.Context(), services.PlanRequest{
		Client:      req.Client,
		Goal:        req.Goal,
		Type:        req.Type,
		Constraints: req.Constraints,
		CurrentPlan: req.CurrentPlan,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	response := gin.H{"ok": true, "plan": result.Plan}
	if result.Fallback {
		response["fallback"] = true
		response["warning"] = result.Warning
		if result.RetryAfterSeconds > 0 {
			response["retryAfterSeconds"] = result.RetryAfterSeconds
		}
	}
	c.JSON(http.StatusOK, response)
}

type approvePlanRequest struct {
	PlanID   string `json:"planId" binding:"required"`
	PlanType string `json:"planType" binding:"required"`
	ClientID string `json:"clientId"`
}

// ApprovePlan fires the plan_approved event so activation runs through
// whatever rules the trainer has configured for it.
func (h *PlanHandler) ApprovePlan(c *gin.Context) {
	var req approvePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	data := models.JSONMap{
		"planId":   req.PlanID,
		"planType": req.PlanType,
	}
	if req.ClientID != "" {
		if client, err := h.clients.Get(c.Request.Context(), req.ClientID); err == nil {
			data["client"] = clientDocument(client)
		}
	}

	logs, err := h.engine.TriggerEvent(c.Request.Context(), services.Event{Type: "plan_approved", Data: data})
	if err != nil {
		h.logger.Errorf("Plan approval automation failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Automation failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "rulesTriggered": len(logs), "logs": logs})
}

// RegisterPlanRoutes wires plan endpoints onto the API group.
func RegisterPlanRoutes(r *gin.RouterGroup, handler *PlanHandler) {
	r.POST("/generate_plan", handler.GeneratePlan)
	r.POST("/plans/approve", handler.ApprovePlan)
}
