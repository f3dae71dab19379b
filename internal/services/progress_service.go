package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

// SubmitProgressResult reports what a check-in submission produced.
type SubmitProgressResult struct {
	ProgressID string `json:"progressId"`
	ClientID   string `json:"clientId"`
	Automated  bool   `json:"automated"`
}

// ProgressService records client check-ins and hands them to the
// automation engine when auto-responses are enabled.
type ProgressService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	clients  *ClientService
	engine   *AutomationEngine
	settings *SettingsService

	autoRespondDefault bool
}

func NewProgressService(db *gorm.DB, logger *logrus.Logger, clients *ClientService, engine *AutomationEngine, settings *SettingsService, autoRespondDefault bool) *ProgressService {
	return &ProgressService{
		db:                 db,
		logger:             logger,
		clients:            clients,
		engine:             engine,
		settings:           settings,
		autoRespondDefault: autoRespondDefault,
	}
}

// Submit stores a progress entry for the client identified by ID or
// email. When the autoRespondProgress knob is on, the
// progress_submitted event runs synchronously and the entry is marked
// processed.
func (s *ProgressService) Submit(ctx context.Context, clientID, email string, data models.JSONMap) (*SubmitProgressResult, error) {
	var client *models.Client
	var err error
	switch {
	case clientID != "":
		client, err = s.clients.Get(ctx, clientID)
	case email != "":
		client, err = s.clients.GetByEmail(ctx, email)
	default:
		return nil, errors.New("clientId or email is required")
	}
	if err != nil {
		return nil, err
	}

	entry := models.ProgressEntry{
		ID:       uuid.NewString(),
		ClientID: client.ID,
		Type:     "weekly",
		Status:   "pending",
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("invalid progress payload: %w", err)
	}
	entry.ID = uuid.NewString()
	entry.ClientID = client.ID
	if entry.Type == "" {
		entry.Type = "weekly"
	}
	entry.Status = "pending"

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("create progress entry: %w", err)
	}

	if _, err := s.clients.Update(ctx, client.ID, models.JSONMap{
		"lastActivityAt": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to bump client activity timestamp")
	}

	result := &SubmitProgressResult{ProgressID: entry.ID, ClientID: client.ID}

	if s.settings.AutomationFlag(ctx, "autoRespondProgress", s.autoRespondDefault) {
		logs, err := s.engine.TriggerEvent(ctx, Event{
			Type: "progress_submitted",
			Data: models.JSONMap{
				"clientId":      client.ID,
				"progressId":    entry.ID,
				"progressEntry": map[string]interface{}(asDocument(&entry)),
				"client":        map[string]interface{}(asDocument(client)),
			},
		})
		if err != nil {
			s.logger.WithError(err).Warn("Progress automation failed")
		} else {
			result.Automated = len(logs) > 0
			if err := s.db.WithContext(ctx).Model(&entry).Update("status", "processed").Error; err != nil {
				s.logger.WithError(err).Warn("Failed to mark progress entry processed")
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"progress_id": entry.ID,
		"client_id":   client.ID,
		"automated":   result.Automated,
	}).Info("Progress entry submitted")
	return result, nil
}

// History returns the most recent entries for a client, newest first.
func (s *ProgressService) History(ctx context.Context, clientID string, limit int) ([]models.ProgressEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []models.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at desc").Limit(limit).
		Find(&entries).Error
	return entries, err
}
