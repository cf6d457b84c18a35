package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/handlers"
	"studio-board/internal/middleware"
	"studio-board/internal/services"
)

func newTestRouter(t *testing.T, authEnabled bool) (http.Handler, *common.Config) {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := services.NewDocumentStore(&common.StorageConfig{
		DatabasePath: filepath.Join(t.TempDir(), "board.db"),
		OpenTimeout:  1,
	}, logger)
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	config := common.DefaultConfig()
	config.Auth.Enabled = authEnabled
	config.Auth.Secret = "test-secret"
	config.Auth.Issuer = "studio-board"
	config.CORS.AllowedOrigins = []string{"https://board.example"}

	metrics := services.NewMetrics()
	repo := services.NewRepository(store, logger)
	deps := handlers.Dependencies{
		Config:   config,
		Repo:     repo,
		Uploads:  services.NewUploadTracker(metrics),
		Metrics:  metrics,
		Resolver: board.NewConfigResolver(repo, logger),
		Logger:   logger,
	}

	api := handlers.NewAPIHandlers(deps)
	hub := handlers.NewWebSocketHub(deps)
	t.Cleanup(hub.Stop)
	return NewRouter(deps, api, hub), config
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, true)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d", rec.Code)
	}
	var health handlers.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || !health.Services.Database || health.Services.Blob {
		t.Errorf("health = %+v", health)
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/version status = %d", rec.Code)
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "studio_board_http_requests_total") {
		t.Errorf("/metrics status = %d, request counter missing", rec.Code)
	}
}

func TestAPIRequiresSession(t *testing.T) {
	h, config := newTestRouter(t, true)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/clients", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	token, err := middleware.IssueToken(&config.Auth, "ed@studio.example", "Ed", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(h, req)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "test-secret") {
		t.Errorf("/config status = %d, body leaks secret: %v", rec.Code, strings.Contains(rec.Body.String(), "test-secret"))
	}
}

func TestUnknownRoutesAreJSON(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body common.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code != "ROUTE_NOT_FOUND" {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /health status = %d, want 405", rec.Code)
	}
}

func TestCORSOnAPI(t *testing.T) {
	h, _ := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	req.Header.Set("Origin", "https://board.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://board.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q", got)
	}
}
