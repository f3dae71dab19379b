package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fitcrm/internal/metrics"
	"fitcrm/internal/models"
)

// Event is what gets fed into the automation engine: a trigger type
// plus the payload the matching rules and their actions operate on.
type Event struct {
	Type string         `json:"type"`
	Data models.JSONMap `json:"data"`
}

// ActionFunc executes a single rule action with already-resolved
// params. exec carries the accumulated execution context that later
// actions and templates can read from.
type ActionFunc func(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error)

// ExecContext is the mutable value tree built up while a rule runs.
// Action results are attached under well-known keys so subsequent
// action params can reference them via templates.
type ExecContext struct {
	Values map[string]interface{}
}

func newExecContext(event Event) *ExecContext {
	values := map[string]interface{}{
		"trigger": map[string]interface{}(event.Data),
	}
	for k, v := range event.Data {
		values[k] = v
	}
	return &ExecContext{Values: values}
}

// Set attaches a value to the execution context, converting model
// structs into the generic tree templates can traverse.
func (e *ExecContext) Set(key string, value interface{}) {
	switch value.(type) {
	case string, float64, int, int64, bool, nil:
		e.Values[key] = value
	case map[string]interface{}, models.JSONMap:
		e.Values[key] = map[string]interface{}(asDocument(value))
	default:
		doc := asDocument(value)
		if doc != nil {
			e.Values[key] = map[string]interface{}(doc)
		} else {
			e.Values[key] = value
		}
	}
}

// AutomationEngine matches events against stored rules and runs their
// action sequences, writing an audit log entry per execution.
type AutomationEngine struct {
	db      *gorm.DB
	logger  *logrus.Logger
	planner *PlanService
	clients *ClientService
	mailer  Sender
	client  *http.Client

	actions map[string]ActionFunc
	publish func(*models.AutomationLog)
}

// SetLogPublisher registers a sink that receives every finished
// execution log, e.g. the websocket event hub.
func (e *AutomationEngine) SetLogPublisher(publish func(*models.AutomationLog)) {
	e.publish = publish
}

func NewAutomationEngine(db *gorm.DB, logger *logrus.Logger, planner *PlanService, clients *ClientService, mailer Sender) *AutomationEngine {
	e := &AutomationEngine{
		db:      db,
		logger:  logger,
		planner: planner,
		clients: clients,
		mailer:  mailer,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	e.actions = map[string]ActionFunc{
		"create_client":              e.actionCreateClient,
		"update_client":              e.actionUpdateClient,
		"activate_client":            e.actionActivateClient,
		"generate_training_plan":     e.actionGenerateTrainingPlan,
		"generate_nutrition_plan":    e.actionGenerateNutritionPlan,
		"activate_plan":              e.actionActivatePlan,
		"send_email":                 e.actionSendEmail,
		"send_template_email":        e.actionSendTemplateEmail,
		"analyze_progress":           e.actionAnalyzeProgress,
		"generate_progress_response": e.actionGenerateProgressResponse,
		"log":                        e.actionLog,
		"wait":                       e.actionWait,
		"webhook":                    e.actionWebhook,
	}
	return e
}

// TriggerEvent runs every enabled rule whose trigger matches the event,
// sequentially in storage order, and returns the execution logs.
func (e *AutomationEngine) TriggerEvent(ctx context.Context, event Event) ([]*models.AutomationLog, error) {
	var rules []models.AutomationRule
	if err := e.db.WithContext(ctx).Where("enabled = ?", true).Order("created_at asc").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load automation rules: %w", err)
	}

	var logs []*models.AutomationLog
	for i := range rules {
		rule := &rules[i]
		if !EvaluateTrigger(rule, event) {
			continue
		}
		log := e.ExecuteRule(ctx, rule, event)
		logs = append(logs, log)
	}
	return logs, nil
}

// EvaluateTrigger reports whether a rule fires for the given event.
// Condition keys support the _contains, _gt and _lt suffix operators;
// any other key requires exact equality. A condition referencing a
// field absent from the event data never matches.
func EvaluateTrigger(rule *models.AutomationRule, event Event) bool {
	if rule.Trigger.Type != event.Type {
		return false
	}
	for key, expected := range rule.Trigger.Conditions {
		switch {
		case strings.HasSuffix(key, "_contains"):
			field := strings.TrimSuffix(key, "_contains")
			actual, ok := lookupPath(event.Data, field)
			if !ok || actual == nil {
				return false
			}
			haystack := strings.ToLower(fmt.Sprintf("%v", actual))
			needle := strings.ToLower(fmt.Sprintf("%v", expected))
			if !strings.Contains(haystack, needle) {
				return false
			}
		case strings.HasSuffix(key, "_gt"):
			field := strings.TrimSuffix(key, "_gt")
			actual, aok := toFloat(mustLookup(event.Data, field))
			limit, lok := toFloat(expected)
			if !aok || !lok || !(actual > limit) {
				return false
			}
		case strings.HasSuffix(key, "_lt"):
			field := strings.TrimSuffix(key, "_lt")
			actual, aok := toFloat(mustLookup(event.Data, field))
			limit, lok := toFloat(expected)
			if !aok || !lok || !(actual < limit) {
				return false
			}
		default:
			actual, ok := lookupPath(event.Data, key)
			if !ok || !equalValues(actual, expected) {
				return false
			}
		}
	}
	return true
}

func mustLookup(data models.JSONMap, path string) interface{} {
	v, _ := lookupPath(data, path)
	return v
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// ExecuteRule runs a rule's actions in order and persists one audit
// log entry plus the rule's execution counters. A failed critical
// action aborts the remaining actions; a failed non-critical action is
// recorded and execution continues. The returned log is always
// non-nil.
func (e *AutomationEngine) ExecuteRule(ctx context.Context, rule *models.AutomationRule, event Event) *models.AutomationLog {
	start := time.Now()
	log := &models.AutomationLog{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TriggeredBy: event.Data,
		Status:      "success",
		Results:     models.JSONMap{},
		CreatedAt:   start,
	}

	exec := newExecContext(event)
	e.runActions(ctx, rule, log, exec)

	log.Duration = time.Since(start).Milliseconds()
	metrics.IncRuleExecution(log.Status == "failed")

	if err := e.db.WithContext(ctx).Create(log).Error; err != nil {
		e.logger.WithError(err).WithField("rule_id", rule.ID).Error("Failed to persist automation log")
	}
	e.recordRuleOutcome(ctx, rule, log)

	e.logger.WithFields(logrus.Fields{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"status":    log.Status,
		"duration":  log.Duration,
	}).Info("Automation rule executed")

	if e.publish != nil {
		e.publish(log)
	}
	return log
}

func (e *AutomationEngine) runActions(ctx context.Context, rule *models.AutomationRule, log *models.AutomationLog, exec *ExecContext) {
	defer func() {
		if r := recover(); r != nil {
			log.Status = "failed"
			log.Errors = append(log.Errors, fmt.Sprintf("rule execution panic: %v", r))
		}
	}()

	for _, action := range rule.Actions {
		entry := models.ActionLogEntry{Type: action.Type}

		fn, ok := e.actions[action.Type]
		if !ok {
			entry.Status = "failed"
			entry.Error = fmt.Sprintf("unknown action type: %s", action.Type)
			log.Actions = append(log.Actions, entry)
			log.Errors = append(log.Errors, entry.Error)
			if action.IsCritical() {
				log.Status = "failed"
				return
			}
			log.Status = "partial"
			continue
		}

		// Results of earlier actions are addressable by action type,
		// e.g. {{previousResults.create_client.clientId}}.
		exec.Values["previousResults"] = map[string]interface{}(log.Results)
		params := ResolveParams(action.Params, exec.Values)
		result, err := fn(ctx, params, exec)
		if err != nil {
			entry.Status = "failed"
			entry.Error = err.Error()
			log.Actions = append(log.Actions, entry)
			log.Errors = append(log.Errors, fmt.Sprintf("%s: %s", action.Type, err.Error()))
			if action.IsCritical() {
				log.Status = "failed"
				return
			}
			log.Status = "partial"
			continue
		}

		entry.Status = "success"
		entry.Result = result
		log.Actions = append(log.Actions, entry)
		log.Results[action.Type] = result
	}
}

func (e *AutomationEngine) recordRuleOutcome(ctx context.Context, rule *models.AutomationRule, log *models.AutomationLog) {
	now := time.Now()
	updates := map[string]interface{}{
		"last_executed_at": now,
		"execution_count":  gorm.Expr("execution_count + 1"),
	}
	if log.Status == "failed" {
		updates["error_count"] = gorm.Expr("error_count + 1")
		if len(log.Errors) > 0 {
			updates["last_error"] = log.Errors[0]
		}
	}
	if err := e.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", rule.ID).Updates(updates).Error; err != nil {
		e.logger.WithError(err).WithField("rule_id", rule.ID).Error("Failed to update rule counters")
	}
	rule.LastExecutedAt = &now
	rule.ExecutionCount++
	if log.Status == "failed" {
		rule.ErrorCount++
		if len(log.Errors) > 0 {
			rule.LastError = log.Errors[0]
		}
	}
}
