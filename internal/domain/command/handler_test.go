package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/auth"
)

func newTestServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	repo := newMockRepo()
	pr := &mockPrefsRepo{items: map[uuid.UUID]*prefs.TimePreferences{}}
	svc := NewService(repo, pr, zerolog.Nop())

	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndGet(t *testing.T) {
	e, _ := newTestServer(t)
	patientID := uuid.New()

	body := `{"patient_id":"` + patientID.String() + `","name":"Metformin","dosage":"500mg","med_class":"diabetes","frequency":"twice_daily","times":["08:00","20:00"],"start_date":"2026-01-01","indefinite":true}`
	rec := doJSON(e, http.MethodPost, "/api/v1/commands", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created MedicationCommand
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Version != 1 || created.Status != StatusActive {
		t.Errorf("unexpected created command: %+v", created)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/commands/"+created.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlerCreate_Invalid(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/api/v1/commands",
		`{"patient_id":"`+uuid.New().String()+`","dosage":"500mg","med_class":"diabetes","frequency":"daily","times":["08:00"],"start_date":"2026-01-01","indefinite":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["kind"] != "validation" || body["field"] != "name" {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestHandlerUpdate_StaleVersion(t *testing.T) {
	e, svc := newTestServer(t)
	patientID := uuid.New()
	created, err := svc.Create(context.Background(), twiceDaily(patientID), "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	body := `{"patient_id":"` + patientID.String() + `","name":"Lisinopril","dosage":"20mg","med_class":"blood_pressure","frequency":"twice_daily","times":["08:00","20:00"],"start_date":"2026-01-01","indefinite":true,"expected_version":1}`
	rec := doJSON(e, http.MethodPut, "/api/v1/commands/"+created.ID.String(), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Replaying with the same expected_version now conflicts.
	rec = doJSON(e, http.MethodPut, "/api/v1/commands/"+created.ID.String(), body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["kind"] != "conflict" || resp["actual_version"] != float64(2) {
		t.Errorf("unexpected conflict body: %v", resp)
	}
}

func TestHandlerChangeStatus(t *testing.T) {
	e, svc := newTestServer(t)
	created, err := svc.Create(context.Background(), twiceDaily(uuid.New()), "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/api/v1/commands/"+created.ID.String()+"/status",
		`{"status":"paused","expected_version":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/commands/"+created.ID.String()+"/status",
		`{"status":"completed","expected_version":2}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for illegal transition, got %d", rec.Code)
	}
}

func TestHandlerOccurrences_MissingPrefs(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/api/v1/patients/"+uuid.New().String()+"/occurrences?date=2026-03-02", "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rec.Code)
	}
}
