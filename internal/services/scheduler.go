package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/models"
)

// Scheduler drives the recurring background tasks stored in the
// scheduled_tasks table. It polls for due tasks on a fixed tick and
// runs them sequentially so two polls never overlap.
type Scheduler struct {
	db       *gorm.DB
	logger   *logrus.Logger
	inbox    *InboxService
	clients  *ClientService
	engine   *AutomationEngine
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger, inbox *InboxService, clients *ClientService, engine *AutomationEngine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		db:       db,
		logger:   logger,
		inbox:    inbox,
		clients:  clients,
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	s.logger.WithField("interval", s.interval.String()).Info("Scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunDueTasks(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunDueTasks executes every enabled task whose next run time has
// passed. Task failures are recorded on the task row and never stop
// the sweep.
func (s *Scheduler) RunDueTasks(ctx context.Context) {
	now := time.Now()
	var tasks []models.ScheduledTask
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND (next_run_at IS NULL OR next_run_at <= ?)", true, now).
		Find(&tasks).Error; err != nil {
		s.logger.WithError(err).Error("Failed to load scheduled tasks")
		return
	}

	for i := range tasks {
		task := &tasks[i]
		err := s.runTask(ctx, task)

		updates := map[string]interface{}{
			"last_run_at": now,
			"next_run_at": now.Add(time.Duration(task.IntervalMinutes) * time.Minute),
			"run_count":   gorm.Expr("run_count + 1"),
		}
		if err != nil {
			updates["last_error"] = err.Error()
			updates["error_count"] = gorm.Expr("error_count + 1")
			s.logger.WithError(err).WithField("task", task.Type).Error("Scheduled task failed")
		}
		if uErr := s.db.WithContext(ctx).Model(task).Updates(updates).Error; uErr != nil {
			s.logger.WithError(uErr).WithField("task", task.Type).Error("Failed to update scheduled task")
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task *models.ScheduledTask) error {
	s.logger.WithField("task", task.Type).Debug("Running scheduled task")

	switch task.Type {
	case "check_emails":
		limit := 50
		if v, ok := toFloat(task.Config["limit"]); ok && v > 0 {
			limit = int(v)
		}
		_, err := s.inbox.CheckEmails(ctx, limit)
		if err == ErrFetchingDisabled {
			s.logger.Debug("Skipping inbox check, IMAP disabled")
			return nil
		}
		return err

	case "send_checkin_reminders":
		return s.sendCheckinReminders(ctx, task)

	default:
		s.logger.WithField("task", task.Type).Warn("Unknown scheduled task type")
		return nil
	}
}

// sendCheckinReminders fires a checkin_reminder event per active
// client. Sends run as rule executions, so every outcome, including a
// failed send, lands in the automation log. User-defined rules on the
// checkin_reminder trigger take over; without one, a built-in reminder
// rule handles the send.
func (s *Scheduler) sendCheckinReminders(ctx context.Context, task *models.ScheduledTask) error {
	templateID := "checkin_reminder"
	if v, ok := task.Config["templateId"].(string); ok && v != "" {
		templateID = v
	}

	defaultRule := &models.AutomationRule{
		ID:      "checkin_reminder_default",
		Name:    "Weekly check-in reminder",
		Enabled: true,
		Trigger: models.RuleTrigger{Type: "checkin_reminder"},
		Actions: models.ActionList{
			{Type: "send_template_email", Params: models.JSONMap{
				"templateId": templateID,
				"to":         "{{client.email}}",
			}},
		},
	}

	clients, _, err := s.clients.List(ctx, "active", 500, 0)
	if err != nil {
		return err
	}

	for i := range clients {
		client := &clients[i]
		if !client.EmailNotifications {
			continue
		}
		event := Event{Type: "checkin_reminder", Data: models.JSONMap{
			"client": map[string]interface{}(asDocument(client)),
		}}
		logs, err := s.engine.TriggerEvent(ctx, event)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			logs = append(logs, s.engine.ExecuteRule(ctx, defaultRule, event))
		}
		for _, entry := range logs {
			if entry.Status != "success" {
				s.logger.WithFields(logrus.Fields{
					"client_id": client.ID,
					"log_id":    entry.ID,
				}).Warn("Check-in reminder failed")
			}
		}
	}
	return nil
}
