package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// SettingsHandler exposes the trainer-editable settings document.
type SettingsHandler struct {
	settings *services.SettingsService
	logger   *logrus.Logger
}

func NewSettingsHandler(settings *services.SettingsService, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to load settings: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load settings", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, redactSettings(settings))
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var patch models.JSONMap
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	settings, err := h.settings.Update(c.Request.Context(), patch)
	if err != nil {
		h.logger.Errorf("Failed to update settings: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update settings", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, redactSettings(settings))
}

// redactSettings masks stored credentials before they leave the API.
func redactSettings(settings *models.Settings) *models.Settings {
	out := *settings
	out.Email = redactSection(settings.Email, "smtpPassword", "imapPassword")
	out.AI = redactSection(settings.AI, "apiKey")
	return &out
}

func redactSection(section models.JSONMap, secretKeys ...string) models.JSONMap {
	if section == nil {
		return nil
	}
	copied := make(models.JSONMap, len(section))
	for k, v := range section {
		copied[k] = v
	}
	for _, key := range secretKeys {
		if v, ok := copied[key].(string); ok && v != "" {
			copied[key] = "********"
		}
	}
	return copied
}

// RegisterSettingsRoutes wires settings endpoints onto the API group.
func RegisterSettingsRoutes(r *gin.RouterGroup, handler *SettingsHandler) {
	r.GET("/settings", handler.GetSettings)
	r.PUT("/settings", handler.UpdateSettings)
}
