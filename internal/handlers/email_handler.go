package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

// EmailHandler covers outbound sends, the inbox listing and manual
// inbox checks.
type EmailHandler struct {
	db     *gorm.DB
	inbox  *services.InboxService
	mailer services.Sender
	logger *logrus.Logger
}

func NewEmailHandler(db *gorm.DB, inbox *services.InboxService, mailer services.Sender, logger *logrus.Logger) *EmailHandler {
	return &EmailHandler{db: db, inbox: inbox, mailer: mailer, logger: logger}
}

type sendEmailRequest struct {
	To       string `json:"to" binding:"required"`
	Subject  string `json:"subject" binding:"required"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
	FromName string `json:"fromName"`
	ReplyTo  string `json:"replyTo"`
}

func (h *EmailHandler) SendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request body: " + err.Error()})
		return
	}

	err := h.mailer.Send(c.Request.Context(), services.Message{
		To:       req.To,
		Subject:  req.Subject,
		Text:     req.Text,
		HTML:     req.HTML,
		FromName: req.FromName,
		ReplyTo:  req.ReplyTo,
	})
	if err != nil {
		h.logger.Errorf("Failed to send email: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Failed to send email", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "sent": true, "to": req.To})
}

// CheckEmails triggers one inbox poll. Responds 400 when IMAP is not
// enabled in settings.
func (h *EmailHandler) CheckEmails(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.inbox.CheckEmails(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, services.ErrFetchingDisabled) {
			c.JSON(http.StatusBadRequest, gin.H{
				"ok":    false,
				"error": "IMAP is not enabled. Please configure email settings.",
			})
			return
		}
		h.logger.Errorf("Inbox check failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                       true,
		"emailsChecked":            result.EmailsChecked,
		"processed":                result.Processed,
		"automationRulesTriggered": result.AutomationRulesTriggered,
		"results":                  result.Results,
	})
}

func (h *EmailHandler) ListEmails(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := h.db.WithContext(c.Request.Context()).Order("created_at desc").Limit(limit)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if folder := c.Query("folder"); folder != "" {
		query = query.Where("folder = ?", folder)
	}

	var emails []models.Email
	if err := query.Find(&emails).Error; err != nil {
		h.logger.Errorf("Failed to list emails: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list emails", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": emails})
}

// RegisterEmailRoutes wires email endpoints onto the API group.
func RegisterEmailRoutes(r *gin.RouterGroup, handler *EmailHandler) {
	r.POST("/send_email", handler.SendEmail)
	r.POST("/check_emails", handler.CheckEmails)
	r.GET("/check_emails", handler.CheckEmails)
	r.GET("/emails", handler.ListEmails)
}
