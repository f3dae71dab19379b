package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("a client with this email already exists")
)

// ClientService owns client CRUD. Email uniqueness is checked here so
// callers get a typed error instead of a driver-specific constraint
// failure.
type ClientService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewClientService(db *gorm.DB, logger *logrus.Logger) *ClientService {
	return &ClientService{db: db, logger: logger}
}

func (s *ClientService) Create(ctx context.Context, client *models.Client) error {
	if client.Email == "" || client.Name == "" {
		return errors.New("name and email are required")
	}
	client.Email = strings.ToLower(strings.TrimSpace(client.Email))

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Client{}).Where("email = ?", client.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email uniqueness: %w", err)
	}
	if count > 0 {
		return ErrDuplicateEmail
	}

	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.Status == "" {
		client.Status = "pending"
	}
	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": client.ID,
		"email":     client.Email,
	}).Info("Client created")
	return nil
}

func (s *ClientService) Get(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *ClientService) GetByEmail(ctx context.Context, email string) (*models.Client, error) {
	var client models.Client
	err := s.db.WithContext(ctx).First(&client, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *ClientService) List(ctx context.Context, status string, limit, offset int) ([]models.Client, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Client{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var clients []models.Client
	if limit <= 0 {
		limit = 50
	}
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&clients).Error; err != nil {
		return nil, 0, err
	}
	return clients, total, nil
}

// Update applies a partial JSON patch. Unknown keys are ignored; the
// email cannot be changed to one another client already holds.
func (s *ClientService) Update(ctx context.Context, id string, updates models.JSONMap) (*models.Client, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, ok := updates["email"].(string); ok {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email != client.Email {
			var count int64
			if err := s.db.WithContext(ctx).Model(&models.Client{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, ErrDuplicateEmail
			}
			updates["email"] = email
		}
	}

	b, err := json.Marshal(updates)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, client); err != nil {
		return nil, fmt.Errorf("invalid client patch: %w", err)
	}
	client.ID = id
	client.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(client).Error; err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	return client, nil
}

func (s *ClientService) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.Client{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
