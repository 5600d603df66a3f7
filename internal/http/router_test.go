package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/fieldcrew/backend/internal/app"
	"github.com/fieldcrew/backend/internal/config"
	"github.com/fieldcrew/backend/internal/http/middleware"
	"github.com/fieldcrew/backend/internal/metrics"
	"github.com/fieldcrew/backend/internal/models"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Config{
		AdminKey:          "secret",
		CORSAllowed:       "*",
		GeocoderURL:       "http://127.0.0.1:1",
		GeocoderUserAgent: "fieldcrew-test",
		GeocoderTimeout:   time.Second,
		RoutingTimeout:    time.Second,
		SkillMatchMode:    "exact",
	}
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(a.Close)

	loc := models.Coordinates{Lat: 30.2672, Lon: -97.7431}
	a.Memory.AddWorker(models.Worker{ID: "w1", ProviderID: "p1", Role: models.WorkerRoleField, Status: models.WorkerStatusActive, Home: &loc})
	a.Memory.AddJob(models.Job{
		ID:               "j1",
		ProviderID:       "p1",
		ServiceType:      "Inspection",
		Status:           models.JobStatusScheduled,
		ScheduledDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		StartTime:        "09:00",
		EndTime:          "10:00",
		DurationHours:    1,
		CrewSizeRequired: 1,
		Location:         &loc,
	})
	return a
}

func do(r *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterScheduleRequiresAdminKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := Router(newTestApp(t), zerolog.Nop())
	body := `{"provider_id":"p1","date":"2024-06-12","created_by":"ops"}`

	w := do(r, http.MethodPost, "/api/schedules", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/schedules", body, map[string]string{middleware.AdminKeyHeader: "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res models.ScheduleResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Stats.AssignedJobs != 1 || res.ProposalID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	w = do(r, http.MethodGet, "/api/proposals/"+res.ProposalID, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"created_by":"ops"`) {
		t.Fatalf("expected stored proposal, got %d %s", w.Code, w.Body.String())
	}
}

func TestRouterRequestIDAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.RegisterDefault()
	r := Router(newTestApp(t), zerolog.Nop())

	w := do(r, http.MethodGet, "/healthz", "", map[string]string{middleware.RequestIDHeader: "req-42"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", w.Code)
	}
	if got := w.Header().Get(middleware.RequestIDHeader); got != "req-42" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
	w = do(r, http.MethodGet, "/healthz", "", nil)
	if len(w.Header().Get(middleware.RequestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", w.Header().Get(middleware.RequestIDHeader))
	}

	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`) {
		t.Fatalf("expected request metrics, got %d", w.Code)
	}
}
