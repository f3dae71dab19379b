package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/services"
)

// SetupHandler seeds default rules, templates and scheduled tasks.
type SetupHandler struct {
	setup  *services.SetupService
	logger *logrus.Logger
}

func NewSetupHandler(setup *services.SetupService, logger *logrus.Logger) *SetupHandler {
	return &SetupHandler{setup: setup, logger: logger}
}

// RunSetup is idempotent; records that already exist are skipped.
func (h *SetupHandler) RunSetup(c *gin.Context) {
	includeSample := c.Query("sample") == "true"

	result, err := h.setup.Run(c.Request.Context(), includeSample)
	if err != nil {
		h.logger.Errorf("Setup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": "FitCRM initialized successfully",
		"created": result,
	})
}

// RegisterSetupRoutes wires the setup endpoint onto the API group.
func RegisterSetupRoutes(r *gin.RouterGroup, handler *SetupHandler) {
	r.POST("/setup", handler.RunSetup)
	r.GET("/setup", handler.RunSetup)
}
