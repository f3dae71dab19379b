package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"fitcrm/internal/config"
	"fitcrm/internal/metrics"
	"fitcrm/internal/models"
)

const (
	PlanTypeTraining  = "training_plan"
	PlanTypeNutrition = "nutrition_plan"
)

// PlanRequest describes one plan-generation request.
type PlanRequest struct {
	Client      *models.Client `json:"client"`
	Goal        string         `json:"goal,omitempty"`
	Type        string         `json:"type"`
	Constraints models.JSONMap `json:"constraints,omitempty"`
	CurrentPlan models.JSONMap `json:"currentPlan,omitempty"`
}

// PlanResult always carries a usable plan. Fallback marks a
// deterministic local plan substituted for a failed provider call;
// Warning then explains what happened.
type PlanResult struct {
	Plan              models.JSONMap `json:"plan"`
	Fallback          bool           `json:"fallback,omitempty"`
	Warning           string         `json:"warning,omitempty"`
	RetryAfterSeconds int            `json:"retryAfterSeconds,omitempty"`
}

var retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+)s"`)

// PlanService generates structured training and nutrition plans via
// the configured text provider. Provider or quota failures never
// surface to callers: they degrade to a deterministic fallback plan.
type PlanService struct {
	db          *gorm.DB
	logger      *logrus.Logger
	cfg         config.AIConfig
	coordinator *AICoordinator
	client      *http.Client
}

func NewPlanService(db *gorm.DB, logger *logrus.Logger, cfg config.AIConfig, coordinator *AICoordinator) *PlanService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PlanService{
		db:          db,
		logger:      logger,
		cfg:         cfg,
		coordinator: coordinator,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *PlanService) ModelName() string {
	return s.cfg.Model
}

// GeneratePlan returns a plan for the request. The only error cases
// are malformed input (nil client, unknown type); every provider-side
// failure, including an active cooldown, resolves to a fallback plan.
func (s *PlanService) GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if req.Client == nil {
		return nil, errors.New("client is required")
	}
	if req.Type != PlanTypeTraining && req.Type != PlanTypeNutrition {
		return nil, fmt.Errorf("unknown plan type: %s", req.Type)
	}
	if req.Goal == "" {
		req.Goal = req.Client.Goal
	}

	key := s.requestKey(req)
	response, err := s.coordinator.Do(ctx, "generate_plan", key, func(ctx context.Context) (models.JSONMap, error) {
		return s.callProvider(ctx, req)
	})
	if err != nil {
		var rateLimited *RateLimitError
		if errors.As(err, &rateLimited) {
			return s.fallbackResult(req, "ai provider cooling down", rateLimited.RetryAfterSeconds()), nil
		}
		s.logger.WithError(err).Warn("Plan generation failed, using fallback")
		return s.fallbackResult(req, compactWarning(err.Error()), 0), nil
	}

	result := resultFromResponse(response)
	if result.Fallback {
		metrics.IncAIFallback()
	}
	return result, nil
}

// requestKey fingerprints only the fields that determine the plan so
// payload noise does not fragment the cache.
func (s *PlanService) requestKey(req PlanRequest) string {
	fingerprint := map[string]interface{}{
		"type":   req.Type,
		"goal":   strings.TrimSpace(strings.ToLower(req.Goal)),
		"client": strings.TrimSpace(strings.ToLower(req.Client.Email + "|" + req.Client.Name + "|" + req.Client.Goal)),
	}
	if name, ok := req.CurrentPlan["name"].(string); ok {
		fingerprint["currentPlan"] = strings.TrimSpace(name)
	}
	raw, _ := json.Marshal(fingerprint)
	sum := sha256.Sum256(append([]byte("generate_plan:"), raw...))
	return hex.EncodeToString(sum[:])
}

func resultFromResponse(response models.JSONMap) *PlanResult {
	result := &PlanResult{Plan: asDocument(response["plan"])}
	if fb, ok := response["fallback"].(bool); ok {
		result.Fallback = fb
	}
	if warning, ok := response["warning"].(string); ok {
		result.Warning = warning
	}
	if secs, ok := toFloat(response["retryAfterSeconds"]); ok {
		result.RetryAfterSeconds = int(secs)
	}
	return result
}

// callProvider issues a generateContent call, retrying transport
// failures up to the configured attempt budget. It returns an error
// only when every attempt fails at the transport layer; provider-level
// failures are folded into a fallback-flagged response document so the
// coordinator can observe quota signals.
func (s *PlanService) callProvider(ctx context.Context, req PlanRequest) (models.JSONMap, error) {
	prompt := s.buildPrompt(req)
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"temperature":      0.7,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), s.cfg.Model, s.cfg.APIKey)

	attempts := s.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var payload []byte
	var status int
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		payload, status, lastErr = s.postProvider(ctx, url, raw)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		s.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
		}).WithError(lastErr).Warn("AI provider request failed")
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if status < 200 || status >= 300 {
		retryAfter := extractRetryDelay(payload)
		warning := compactWarning(fmt.Sprintf("provider returned %d: %s", status, payload))
		s.logger.WithFields(logrus.Fields{
			"status":      status,
			"retry_after": retryAfter,
		}).Warn("AI provider error, using fallback plan")
		return s.fallbackResponse(req, warning, retryAfter), nil
	}

	plan, ok := parsePlanPayload(payload)
	if !ok {
		return s.fallbackResponse(req, "provider returned unparseable plan output", 0), nil
	}
	return models.JSONMap{"ok": true, "plan": plan}, nil
}

// postProvider performs one HTTP round trip against the provider and
// returns the body and status code. Errors are transport-level only.
func (s *PlanService) postProvider(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read provider response: %w", err)
	}
	return payload, resp.StatusCode, nil
}

// extractRetryDelay pulls the provider's retryDelay hint ("33s") out
// of a structured error body.
func extractRetryDelay(body []byte) int {
	match := retryDelayPattern.FindSubmatch(body)
	if match == nil {
		return 0
	}
	secs, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0
	}
	return secs
}

// parsePlanPayload decodes the provider envelope and then the plan
// JSON the model produced. Text that is not directly valid JSON gets
// one salvage attempt: the slice between the first '{' and the last
// '}'.
func parsePlanPayload(payload []byte) (models.JSONMap, bool) {
	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false
	}
	if len(envelope.Candidates) == 0 || len(envelope.Candidates[0].Content.Parts) == 0 {
		return nil, false
	}
	text := envelope.Candidates[0].Content.Parts[0].Text

	var plan models.JSONMap
	if err := json.Unmarshal([]byte(text), &plan); err == nil {
		return plan, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, false
	}
	return plan, true
}

func compactWarning(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

func (s *PlanService) fallbackResponse(req PlanRequest, warning string, retryAfterSeconds int) models.JSONMap {
	response := models.JSONMap{
		"ok":       true,
		"plan":     s.fallbackPlan(req),
		"fallback": true,
		"warning":  warning,
	}
	if retryAfterSeconds > 0 {
		response["retryAfterSeconds"] = retryAfterSeconds
	}
	return response
}

func (s *PlanService) fallbackResult(req PlanRequest, warning string, retryAfterSeconds int) *PlanResult {
	metrics.IncAIFallback()
	return &PlanResult{
		Plan:              s.fallbackPlan(req),
		Fallback:          true,
		Warning:           warning,
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func (s *PlanService) fallbackPlan(req PlanRequest) models.JSONMap {
	if req.Type == PlanTypeNutrition {
		return fallbackNutritionPlan(req.Client, req.Goal)
	}
	return fallbackTrainingPlan(req.Client, req.Goal)
}

func (s *PlanService) buildPrompt(req PlanRequest) string {
	clientJSON, _ := json.Marshal(req.Client)

	var b strings.Builder
	b.WriteString("You are an experienced personal fitness coach. ")
	if req.Type == PlanTypeTraining {
		b.WriteString("Create a structured weekly training plan.\n\n")
		b.WriteString("Respond with ONLY a JSON object matching exactly this schema:\n")
		b.WriteString(`{"name": string, "focus": string, "durationWeeks": number, "startDate": "YYYY-MM-DD", "days": {"<weekday>": {"focus": string, "exercises": [{"name": string, "sets": number, "reps": string, "rest": string, "notes": string}]}}}`)
	} else {
		b.WriteString("Create a structured weekly nutrition plan.\n\n")
		b.WriteString("Respond with ONLY a JSON object matching exactly this schema:\n")
		b.WriteString(`{"name": string, "weekLabel": string, "targets": {"calories": number, "protein": number, "carbs": number, "fat": number}, "days": {"<weekday>": {"meals": [{"name": string, "time": string, "foods": [string], "calories": number}]}}}`)
	}
	b.WriteString("\n\nClient record:\n")
	b.Write(clientJSON)
	fmt.Fprintf(&b, "\n\nPrimary goal: %s\n", req.Goal)

	if len(req.Constraints) > 0 {
		constraintsJSON, _ := json.Marshal(req.Constraints)
		fmt.Fprintf(&b, "Constraints: %s\n", constraintsJSON)
	}
	if len(req.CurrentPlan) > 0 {
		currentJSON, _ := json.Marshal(req.CurrentPlan)
		fmt.Fprintf(&b, "Current plan for context: %s\n", currentJSON)
	}
	b.WriteString("\nRespect any dietary restrictions and injuries. Output valid JSON only, no markdown.")
	return b.String()
}
