package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"fitcrm/internal/models"
)

func stringParam(params models.JSONMap, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params models.JSONMap, key string) bool {
	v, ok := params[key].(bool)
	return ok && v
}

func (e *AutomationEngine) actionCreateClient(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	var client models.Client
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &client); err != nil {
		return nil, fmt.Errorf("invalid client payload: %w", err)
	}
	if err := e.clients.Create(ctx, &client); err != nil {
		return nil, err
	}
	exec.Set("client", &client)
	return models.JSONMap{"clientId": client.ID}, nil
}

func (e *AutomationEngine) actionUpdateClient(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	clientID := stringParam(params, "clientId")
	if clientID == "" {
		clientID = execClientID(exec)
	}
	if clientID == "" {
		return nil, errors.New("client ID required for update_client action")
	}
	updates := make(models.JSONMap, len(params))
	for k, v := range params {
		if k != "clientId" {
			updates[k] = v
		}
	}
	client, err := e.clients.Update(ctx, clientID, updates)
	if err != nil {
		return nil, err
	}
	exec.Set("client", client)
	return models.JSONMap{"clientId": client.ID, "updated": true}, nil
}

func (e *AutomationEngine) actionActivateClient(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	clientID := stringParam(params, "clientId")
	if clientID == "" {
		clientID = execClientID(exec)
	}
	if clientID == "" {
		return nil, errors.New("client ID required for activate_client action")
	}
	client, err := e.clients.Update(ctx, clientID, models.JSONMap{
		"status":      "active",
		"onboardedAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	exec.Set("client", client)
	return models.JSONMap{"clientId": client.ID, "activated": true}, nil
}

func (e *AutomationEngine) actionGenerateTrainingPlan(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	client, err := e.resolveClient(ctx, params, exec)
	if err != nil {
		return nil, err
	}

	goal := stringParam(params, "goal")
	if goal == "" {
		goal = client.Goal
	}
	result, err := e.planner.GeneratePlan(ctx, PlanRequest{
		Client:      client,
		Goal:        goal,
		Type:        PlanTypeTraining,
		Constraints: asDocument(params["constraints"]),
	})
	if err != nil {
		return nil, err
	}

	status := "draft"
	if boolParam(params, "activate") {
		status = "active"
	}
	plan := models.TrainingPlan{
		ID:            uuid.NewString(),
		ClientID:      client.ID,
		Name:          stringOrDefault(result.Plan, "name", "Training Plan"),
		Focus:         stringParam(result.Plan, "focus"),
		DurationWeeks: intFromDoc(result.Plan, "durationWeeks"),
		StartDate:     stringParam(result.Plan, "startDate"),
		Days:          asDocument(result.Plan["days"]),
		GeneratedBy:   "ai",
		AIModel:       e.planner.ModelName(),
		Status:        status,
		Version:       1,
	}
	if result.Fallback {
		plan.GeneratedBy = "fallback"
	}
	if err := e.db.WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, fmt.Errorf("save training plan: %w", err)
	}
	if status == "active" {
		if _, err := e.clients.Update(ctx, client.ID, models.JSONMap{"currentTrainingPlanId": plan.ID}); err != nil {
			return nil, err
		}
	}

	exec.Set("trainingPlan", &plan)
	return models.JSONMap{"planId": plan.ID, "fallback": result.Fallback}, nil
}

func (e *AutomationEngine) actionGenerateNutritionPlan(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	client, err := e.resolveClient(ctx, params, exec)
	if err != nil {
		return nil, err
	}

	goal := stringParam(params, "goal")
	if goal == "" {
		goal = client.Goal
	}
	result, err := e.planner.GeneratePlan(ctx, PlanRequest{
		Client:      client,
		Goal:        goal,
		Type:        PlanTypeNutrition,
		Constraints: asDocument(params["constraints"]),
	})
	if err != nil {
		return nil, err
	}

	status := "draft"
	if boolParam(params, "activate") {
		status = "active"
	}
	plan := models.NutritionPlan{
		ID:          uuid.NewString(),
		ClientID:    client.ID,
		Name:        stringOrDefault(result.Plan, "name", "Nutrition Plan"),
		WeekLabel:   stringParam(result.Plan, "weekLabel"),
		Targets:     asDocument(result.Plan["targets"]),
		Days:        asDocument(result.Plan["days"]),
		GeneratedBy: "ai",
		AIModel:     e.planner.ModelName(),
		Status:      status,
	}
	if result.Fallback {
		plan.GeneratedBy = "fallback"
	}
	if err := e.db.WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, fmt.Errorf("save nutrition plan: %w", err)
	}
	if status == "active" {
		if _, err := e.clients.Update(ctx, client.ID, models.JSONMap{"currentNutritionPlanId": plan.ID}); err != nil {
			return nil, err
		}
	}

	exec.Set("nutritionPlan", &plan)
	return models.JSONMap{"planId": plan.ID, "fallback": result.Fallback}, nil
}

func (e *AutomationEngine) actionActivatePlan(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	planID := stringParam(params, "planId")
	planType := stringParam(params, "planType")
	if planID == "" {
		return nil, errors.New("plan ID required for activate_plan action")
	}

	var clientID string
	if planType == "training" {
		var plan models.TrainingPlan
		if err := e.db.WithContext(ctx).First(&plan, "id = ?", planID).Error; err != nil {
			return nil, fmt.Errorf("plan %s not found", planID)
		}
		if err := e.db.WithContext(ctx).Model(&plan).Update("status", "active").Error; err != nil {
			return nil, err
		}
		clientID = plan.ClientID
		if _, err := e.clients.Update(ctx, clientID, models.JSONMap{"currentTrainingPlanId": planID}); err != nil {
			return nil, err
		}
	} else {
		var plan models.NutritionPlan
		if err := e.db.WithContext(ctx).First(&plan, "id = ?", planID).Error; err != nil {
			return nil, fmt.Errorf("plan %s not found", planID)
		}
		if err := e.db.WithContext(ctx).Model(&plan).Update("status", "active").Error; err != nil {
			return nil, err
		}
		clientID = plan.ClientID
		if _, err := e.clients.Update(ctx, clientID, models.JSONMap{"currentNutritionPlanId": planID}); err != nil {
			return nil, err
		}
	}

	return models.JSONMap{"planId": planID, "activated": true}, nil
}

func (e *AutomationEngine) actionSendEmail(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	to := stringParam(params, "to")
	if to == "" {
		return nil, errors.New("recipient required for send_email action")
	}
	msg := Message{
		To:       to,
		Subject:  stringParam(params, "subject"),
		Text:     stringParam(params, "text"),
		HTML:     stringParam(params, "html"),
		FromName: stringParam(params, "fromName"),
		ReplyTo:  stringParam(params, "replyTo"),
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	return models.JSONMap{"sent": true, "to": to}, nil
}

func (e *AutomationEngine) actionSendTemplateEmail(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	templateID := stringParam(params, "templateId")
	if templateID == "" {
		return nil, errors.New("template ID required for send_template_email action")
	}

	var tpl models.EmailTemplate
	if err := e.db.WithContext(ctx).First(&tpl, "id = ?", templateID).Error; err != nil {
		return nil, fmt.Errorf("email template %s not found", templateID)
	}

	values := make(map[string]interface{}, len(exec.Values))
	for k, v := range exec.Values {
		values[k] = v
	}
	for k, v := range asDocument(params["data"]) {
		values[k] = v
	}

	rendered := models.JSONMap{
		"to":      stringParam(params, "to"),
		"subject": ResolveTemplate(tpl.Subject, values),
		"text":    ResolveTemplate(tpl.TextContent, values),
	}
	if tpl.HTMLContent != "" {
		rendered["html"] = ResolveTemplate(tpl.HTMLContent, values)
	}
	return e.actionSendEmail(ctx, rendered, exec)
}

func (e *AutomationEngine) actionAnalyzeProgress(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	progressID := stringParam(params, "progressId")
	if progressID == "" {
		progressID = execValueID(exec, "progressEntry")
	}
	if progressID == "" {
		return nil, errors.New("progress ID required for analyze_progress action")
	}

	var progress models.ProgressEntry
	if err := e.db.WithContext(ctx).First(&progress, "id = ?", progressID).Error; err != nil {
		return nil, fmt.Errorf("progress entry %s not found", progressID)
	}

	var history []models.ProgressEntry
	if err := e.db.WithContext(ctx).
		Where("client_id = ?", progress.ClientID).
		Order("created_at desc").Limit(5).
		Find(&history).Error; err != nil {
		return nil, err
	}

	analysis := models.JSONMap{
		"weightChange":    nil,
		"trend":           "stable",
		"complianceAvg":   float64(0),
		"recommendations": []interface{}{},
	}
	if progress.Compliance != nil {
		analysis["complianceAvg"] = float64(*progress.Compliance)
	}

	if len(history) > 1 {
		prev := history[1]
		if progress.Weight != nil && prev.Weight != nil {
			change := *progress.Weight - *prev.Weight
			analysis["weightChange"] = change
			switch {
			case change < -0.5:
				analysis["trend"] = "decreasing"
			case change > 0.5:
				analysis["trend"] = "increasing"
			}
		}
		var sum, n float64
		for _, entry := range history {
			if entry.Compliance != nil {
				sum += float64(*entry.Compliance)
				n++
			}
		}
		if n > 0 {
			analysis["complianceAvg"] = sum / n
		}
	}

	var recommendations []interface{}
	if avg, _ := toFloat(analysis["complianceAvg"]); avg < 70 {
		recommendations = append(recommendations, "Focus on consistency - try to hit your targets at least 80% of the time")
	}
	if progress.EnergyLevel != nil && *progress.EnergyLevel < 5 {
		recommendations = append(recommendations, "Low energy levels detected - consider adjusting carb intake or sleep schedule")
	}
	if progress.SleepQuality != nil && *progress.SleepQuality < 6 {
		recommendations = append(recommendations, "Improve sleep quality - aim for 7-9 hours per night")
	}
	if recommendations != nil {
		analysis["recommendations"] = recommendations
	}

	exec.Set("progressAnalysis", analysis)
	return analysis, nil
}

func (e *AutomationEngine) actionGenerateProgressResponse(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	progressID := stringParam(params, "progressId")
	if progressID == "" {
		progressID = execValueID(exec, "progressEntry")
	}
	if progressID == "" {
		return nil, errors.New("progress ID required for generate_progress_response action")
	}

	var progress models.ProgressEntry
	if err := e.db.WithContext(ctx).First(&progress, "id = ?", progressID).Error; err != nil {
		return nil, fmt.Errorf("progress entry %s not found", progressID)
	}
	client, err := e.clients.Get(ctx, progress.ClientID)
	if err != nil {
		return nil, err
	}

	analysis := asDocument(exec.Values["progressAnalysis"])

	var b bytes.Buffer
	fmt.Fprintf(&b, "Hey %s!\n\nGreat job checking in! Here's my feedback:\n\n", client.Name)

	if change, ok := toFloat(analysis["weightChange"]); ok && change != 0 {
		if change < 0 {
			fmt.Fprintf(&b, "✓ Weight: Down %.1f lbs - excellent progress!\n", math.Abs(change))
		} else {
			fmt.Fprintf(&b, "Weight: Up %.1f lbs - let's review your nutrition.\n", change)
		}
	}

	if progress.Compliance != nil {
		if *progress.Compliance >= 80 {
			fmt.Fprintf(&b, "✓ Compliance: %d%% - fantastic consistency!\n", *progress.Compliance)
		} else {
			fmt.Fprintf(&b, "Compliance: %d%% - let's work on hitting your targets more consistently.\n", *progress.Compliance)
		}
	}

	if recs, ok := analysis["recommendations"].([]interface{}); ok && len(recs) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range recs {
			fmt.Fprintf(&b, "- %v\n", rec)
		}
	}

	b.WriteString("\nKeep up the great work! Let me know if you have any questions.\n\nYour coach")

	response := b.String()
	exec.Set("progressResponse", response)
	return models.JSONMap{"response": response}, nil
}

func (e *AutomationEngine) actionLog(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	message := stringParam(params, "message")
	if message == "" {
		message = fmt.Sprintf("%v", map[string]interface{}(params))
	}
	e.logger.WithField("source", "automation").Info(message)
	return models.JSONMap{"logged": true}, nil
}

func (e *AutomationEngine) actionWait(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	ms, ok := toFloat(params["ms"])
	if !ok || ms <= 0 {
		if secs, sok := toFloat(params["seconds"]); sok && secs > 0 {
			ms = secs * 1000
		} else {
			ms = 1000
		}
	}
	delay := time.Duration(ms) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return models.JSONMap{"waited": ms}, nil
}

func (e *AutomationEngine) actionWebhook(ctx context.Context, params models.JSONMap, exec *ExecContext) (interface{}, error) {
	url := stringParam(params, "url")
	if url == "" {
		return nil, errors.New("URL required for webhook action")
	}
	method := stringParam(params, "method")
	if method == "" {
		method = http.MethodPost
	}

	var body *bytes.Reader
	if method != http.MethodGet {
		payload := params["data"]
		if payload == nil {
			payload = exec.Values
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	var result interface{}
	_ = json.NewDecoder(resp.Body).Decode(&result)
	return models.JSONMap{"status": resp.StatusCode, "result": result}, nil
}

func (e *AutomationEngine) resolveClient(ctx context.Context, params models.JSONMap, exec *ExecContext) (*models.Client, error) {
	clientID := stringParam(params, "clientId")
	if clientID == "" {
		clientID = execClientID(exec)
	}
	if clientID == "" {
		return nil, errors.New("client ID required")
	}
	return e.clients.Get(ctx, clientID)
}

func execClientID(exec *ExecContext) string {
	return execValueID(exec, "client")
}

func execValueID(exec *ExecContext, key string) string {
	doc := asDocument(exec.Values[key])
	if doc == nil {
		return ""
	}
	if id, ok := doc["id"].(string); ok {
		return id
	}
	return ""
}

func stringOrDefault(doc models.JSONMap, key, fallback string) string {
	if v := stringParam(doc, key); v != "" {
		return v
	}
	return fallback
}

func intFromDoc(doc models.JSONMap, key string) int {
	if f, ok := toFloat(doc[key]); ok {
		return int(f)
	}
	return 0
}
