package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// ProgressHandler exposes check-in submission.
type ProgressHandler struct {
	progress *services.ProgressService
	logger   *logrus.Logger
}

func NewProgressHandler(progress *services.ProgressService, logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{progress: progress, logger: logger}
}

// SubmitProgress records a check-in and, when automation is enabled,
// runs the progress_submitted rules synchronously.
func (h *ProgressHandler) SubmitProgress(c *gin.Context) {
	var body models.JSONMap
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request body: " + err.Error()})
		return
	}

	clientID, _ := body["clientId"].(string)
	email, _ := body["email"].(string)
	delete(body, "clientId")
	delete(body, "email")

	result, err := h.progress.Submit(c.Request.Context(), clientID, email, body)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Client not found"})
			return
		}
		h.logger.Errorf("Failed to submit progress: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"progressId": result.ProgressID,
		"clientId":   result.ClientID,
		"automated":  result.Automated,
		"message":    "Progress submitted successfully",
	})
}

// RegisterProgressRoutes wires progress endpoints onto the API group.
func RegisterProgressRoutes(r *gin.RouterGroup, handler *ProgressHandler) {
	r.POST("/submit_progress", handler.SubmitProgress)
}
