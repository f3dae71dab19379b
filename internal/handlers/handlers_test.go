package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fitcrm/internal/config"
	"fitcrm/internal/models"
	"fitcrm/internal/services"
)

type testAPI struct {
	db     *gorm.DB
	router *gin.Engine
}

// newTestAPI wires the full handler stack over an in-memory database.
// aiBaseURL points the plan generator at a fake provider; pass "" for
// tests that never touch it.
func newTestAPI(t *testing.T, aiBaseURL string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Client{}, &models.Questionnaire{},
		&models.TrainingPlan{}, &models.NutritionPlan{},
		&models.ProgressEntry{}, &models.Email{}, &models.EmailTemplate{},
		&models.ScheduledTask{}, &models.Settings{}, &models.AIPlanCache{},
		&models.AutomationRule{}, &models.AutomationLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	settings := services.NewSettingsService(db, logger)
	clients := services.NewClientService(db, logger)
	coordinator := services.NewAICoordinator(db, logger, 10*time.Minute, time.Millisecond, 10*time.Minute)
	planner := services.NewPlanService(db, logger, config.AIConfig{
		Provider: "gemini",
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  aiBaseURL,
		Timeout:  5 * time.Second,
	}, coordinator)
	mailer := services.DisabledSender{}
	engine := services.NewAutomationEngine(db, logger, planner, clients, mailer)
	processor := services.NewEmailProcessor(db, logger, clients, engine)
	inbox := services.NewInboxService(db, logger, config.EmailConfig{}, settings, processor, nil)
	progress := services.NewProgressService(db, logger, clients, engine, settings, false)

	router := gin.New()
	api := router.Group("/api")
	RegisterClientRoutes(api, NewClientHandler(clients, progress, logger))
	RegisterPlanRoutes(api, NewPlanHandler(planner, clients, engine, logger))
	RegisterEmailRoutes(api, NewEmailHandler(db, inbox, mailer, logger))
	RegisterProgressRoutes(api, NewProgressHandler(progress, logger))
	RegisterSettingsRoutes(api, NewSettingsHandler(settings, logger))
	RegisterAutomationRoutes(api, NewAutomationHandler(services.NewAutomationService(db, logger), engine, logger))
	RegisterSetupRoutes(api, NewSetupHandler(services.NewSetupService(db, logger, clients), logger))

	return &testAPI{db: db, router: router}
}

func (a *testAPI) request(t *testing.T, method, path string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(w, req)

	var body map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json response (%d): %v: %s", w.Code, err, w.Body.String())
		}
	}
	return w, body
}

func TestCreateClientEndpoint(t *testing.T) {
	api := newTestAPI(t, "")

	w, body := api.request(t, "POST", "/api/clients", map[string]interface{}{
		"name":  "Jane Doe",
		"email": "Jane@Example.com",
		"goal":  "weight loss",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["email"] != "jane@example.com" {
		t.Errorf("email = %v, want normalized", body["email"])
	}
	if body["status"] != "pending" {
		t.Errorf("status = %v, want pending", body["status"])
	}

	w, _ = api.request(t, "POST", "/api/clients", map[string]interface{}{
		"name":  "Other",
		"email": "jane@example.com",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", w.Code)
	}
}

func TestCreateClientRejectsInvalidBody(t *testing.T) {
	api := newTestAPI(t, "")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/clients", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	api.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetClientNotFound(t *testing.T) {
	api := newTestAPI(t, "")

	w, _ := api.request(t, "GET", "/api/clients/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListClientsFiltersByStatus(t *testing.T) {
	api := newTestAPI(t, "")

	for _, c := range []map[string]interface{}{
		{"name": "A", "email": "a@example.com", "status": "active"},
		{"name": "B", "email": "b@example.com", "status": "active"},
		{"name": "C", "email": "c@example.com", "status": "pending"},
	} {
		if w, _ := api.request(t, "POST", "/api/clients", c); w.Code != http.StatusCreated {
			t.Fatalf("seed client: %d", w.Code)
		}
	}

	w, body := api.request(t, "GET", "/api/clients?status=active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if total := body["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", total)
	}
	data := body["data"].([]interface{})
	if len(data) != 2 {
		t.Errorf("data len = %d, want 2", len(data))
	}
}

func TestUpdateClientPatch(t *testing.T) {
	api := newTestAPI(t, "")

	_, created := api.request(t, "POST", "/api/clients", map[string]interface{}{
		"name":  "Jane",
		"email": "jane@example.com",
	})
	id := created["id"].(string)

	w, body := api.request(t, "PUT", "/api/clients/"+id, map[string]interface{}{
		"status": "active",
		"goal":   "muscle gain",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["status"] != "active" || body["goal"] != "muscle gain" {
		t.Errorf("patch not applied: %v", body)
	}
	if body["name"] != "Jane" {
		t.Errorf("name = %v, want untouched", body["name"])
	}

	w, _ = api.request(t, "PUT", "/api/clients/nope", map[string]interface{}{"status": "active"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing client status = %d, want 404", w.Code)
	}
}

func TestDeleteClientEndpoint(t *testing.T) {
	api := newTestAPI(t, "")

	_, created := api.request(t, "POST", "/api/clients", map[string]interface{}{
		"name":  "Jane",
		"email": "jane@example.com",
	})
	id := created["id"].(string)

	if w, _ := api.request(t, "DELETE", "/api/clients/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w, _ := api.request(t, "DELETE", "/api/clients/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}
