package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/scribe/scribe/internal/domain/note"
	"github.com/scribe/scribe/internal/domain/patient"
	"github.com/scribe/scribe/internal/platform/blobstore"
	"github.com/scribe/scribe/internal/platform/db"
	"github.com/scribe/scribe/internal/platform/middleware"
	"github.com/scribe/scribe/internal/platform/summary"
	"github.com/scribe/scribe/internal/platform/telemetry"
)

// stubPatients implements only the reads the router tests reach; any other
// call panics on the nil embedded interface.
type stubPatients struct {
	patient.Repository
	items []*patient.Patient
}

func (s *stubPatients) List(context.Context) ([]*patient.Patient, error) { return s.items, nil }

func (s *stubPatients) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	for _, p := range s.items {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, patient.ErrNotFound
}

type stubNotes struct {
	note.Repository
}

func (stubNotes) List(context.Context) ([]*note.WithPatient, error) { return []*note.WithPatient{}, nil }

// ctxNotes fails writes once the request context is done, as pgx does.
type ctxNotes struct {
	note.Repository
	mu      sync.Mutex
	created []*note.Note
}

func (r *ctxNotes) Create(ctx context.Context, n *note.Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = "not_1"
	r.created = append(r.created, n)
	return nil
}

type slowSummarizer struct{ delay time.Duration }

func (s slowSummarizer) Generate(ctx context.Context, _ string, _ summary.Template) (string, error) {
	select {
	case <-time.After(s.delay):
		return "SOAP NOTE", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, opts Options, dbHealth echo.HandlerFunc) (*echo.Echo, *telemetry.TelemetryProvider) {
	return newTestServerWithStats(t, opts, dbHealth, nil)
}

func newTestServerWithStats(t *testing.T, opts Options, dbHealth echo.HandlerFunc, stats func() *db.PoolStats) (*echo.Echo, *telemetry.TelemetryProvider) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{})

	patients := patient.NewService(&stubPatients{items: []*patient.Patient{
		{ID: "pat_1", Name: "Ana", EnrollmentDate: patient.MustDate("2024-01-10")},
	}}, logger)
	gw := blobstore.NewGateway(blobstore.NewInMemoryBlobStore(), 0, logger)
	notes := note.NewService(stubNotes{}, patients, gw, nil, nil, logger, note.WithTelemetry(tp))

	if opts.AudioBodyLimit == "" {
		opts.AudioBodyLimit = "30M"
	}
	e := New(opts, Deps{
		Logger:    logger,
		Patients:  patient.NewHandler(patients),
		Notes:     note.NewHandler(notes),
		DBHealth:  dbHealth,
		PoolStats: stats,
		Telemetry: tp,
	})
	return e, tp
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Root(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Scribe API" || body["ok"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestServer_Health(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServer_HealthDB(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/health/db", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a database, got %d", rec.Code)
	}

	e, _ = newTestServer(t, Options{}, db.HealthHandler(fakePinger{err: errors.New("down")}, nil))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"message":"Not Found"}` {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServer_PatientRoutesMounted(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []patient.Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Ana" {
		t.Errorf("unexpected patients: %+v", items)
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/patients/pat_missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Patient not found") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServer_NoteRoutesMounted(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", rec.Body.String())
	}
}

func TestServer_ValidationError(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(`{"name":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := serve(e, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid request") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServer_StandardHeaders(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/patients", nil))

	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected rate limit header on /api routes")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("expected no HSTS unless enabled")
	}

	e, _ = newTestServer(t, Options{HSTS: true}, nil)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS when enabled")
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	e, _ := newTestServer(t, Options{CORSOrigins: []string{"http://localhost:3000"}}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/notes", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := serve(e, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestServer_RateLimited(t *testing.T) {
	e, _ := newTestServer(t, Options{RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}}, nil)

	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/patients", nil)); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}

	// Health sits outside /api and is never limited.
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
}

func TestServer_JSONBodyLimit(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/patients", bytes.NewReader(big))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := serve(e, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServer_RecoversPanics(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "message") {
		t.Errorf("expected JSON error body, got %s", rec.Body.String())
	}
}

func TestServer_RequestTimeout(t *testing.T) {
	e, _ := newTestServer(t, Options{RequestTimeout: 10 * time.Millisecond}, nil)
	e.GET("/slow", func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/slow", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestServer_NoteCreateOutlivesRequestTimeout(t *testing.T) {
	logger := zerolog.New(io.Discard)
	patients := patient.NewService(&stubPatients{items: []*patient.Patient{
		{ID: "pat_1", Name: "Ana", EnrollmentDate: patient.MustDate("2024-01-10")},
	}}, logger)
	repo := &ctxNotes{}
	gw := blobstore.NewGateway(blobstore.NewInMemoryBlobStore(), 0, logger)
	notes := note.NewService(repo, patients, gw, nil, slowSummarizer{delay: 50 * time.Millisecond}, logger)

	e := New(Options{AudioBodyLimit: "30M", RequestTimeout: 10 * time.Millisecond}, Deps{
		Logger:   logger,
		Patients: patient.NewHandler(patients),
		Notes:    note.NewHandler(notes),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(`{"patientId":"pat_1","rawContent":"hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := serve(e, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one note written, got %d", len(repo.created))
	}
	if repo.created[0].AISummary == nil || *repo.created[0].AISummary != "SOAP NOTE" {
		t.Errorf("expected the automatic summary to be stored, got %v", repo.created[0].AISummary)
	}
}

func TestCallsProvider(t *testing.T) {
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/notes", true},
		{http.MethodPost, "/api/notes/transcribe", true},
		{http.MethodPost, "/api/notes/not_1/transcribe", true},
		{http.MethodPost, "/api/notes/not_1/generate-summary", true},
		{http.MethodGet, "/api/notes", false},
		{http.MethodPut, "/api/notes/not_1", false},
		{http.MethodPost, "/api/patients", false},
	}
	e := echo.New()
	for _, tt := range tests {
		c := e.NewContext(httptest.NewRequest(tt.method, tt.path, nil), httptest.NewRecorder())
		if got := callsProvider(c); got != tt.want {
			t.Errorf("callsProvider(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	e, _ := newTestServer(t, Options{}, nil)
	serve(e, httptest.NewRequest(http.MethodGet, "/api/patients", nil))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `scribe_http_request_duration_seconds_count{method="GET",route="/api/patients",status="200"} 1`) {
		t.Errorf("expected request metric, got:\n%s", rec.Body.String())
	}
}

func TestServer_MetricsRefreshPoolGauges(t *testing.T) {
	stats := func() *db.PoolStats { return &db.PoolStats{AcquiredConns: 3, IdleConns: 5} }
	e, _ := newTestServerWithStats(t, Options{}, nil, stats)

	body := serve(e, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	if !strings.Contains(body, "scribe_db_pool_active_connections 3") {
		t.Errorf("expected active gauge, got:\n%s", body)
	}
	if !strings.Contains(body, "scribe_db_pool_idle_connections 5") {
		t.Errorf("expected idle gauge, got:\n%s", body)
	}
}
