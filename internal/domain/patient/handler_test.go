package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/scribe/scribe/internal/platform/httpapi"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = httpapi.NewValidator()
	return h, e
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Ana","enrollmentDate":"2024-01-10"}`), rec)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["enrollmentDate"] != "2024-01-10" || got["name"] != "Ana" {
		t.Errorf("unexpected body %v", got)
	}
	if id, _ := got["id"].(string); !strings.HasPrefix(id, "pat_") {
		t.Errorf("unexpected id %v", got["id"])
	}
}

func TestHandler_Create_DateOfBirthAlias(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Ana","dateOfBirth":"1990-02-03"}`), rec)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"enrollmentDate":"1990-02-03"`) {
		t.Errorf("alias not applied: %s", rec.Body.String())
	}
}

func TestHandler_Create_Invalid(t *testing.T) {
	h, e := newTestHandler()
	for _, body := range []string{
		`{"name":"","enrollmentDate":"2024-01-10"}`,
		`{"name":"   ","enrollmentDate":"2024-01-10"}`,
		`{"name":"Ana"}`,
		`{"name":"Ana","enrollmentDate":"10/01/2024"}`,
		`{"name":"` + strings.Repeat("x", 256) + `","enrollmentDate":"2024-01-10"}`,
	} {
		c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
		err := h.Create(c)
		if err == nil {
			t.Errorf("expected error for %s", body)
			continue
		}
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", body, code)
		}
	}
}

func TestHandler_Get(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(nil, CreateInput{Name: "Ana", EnrollmentDate: MustDate("2024-01-10")})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID)
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("pat_nope")
	err := h.Get(c)
	if code := httpCode(t, err); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if msg := err.(*echo.HTTPError).Message; msg != "Patient not found" {
		t.Errorf("unexpected message %v", msg)
	}
}

func TestHandler_Update(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(nil, CreateInput{Name: "Ana", EnrollmentDate: MustDate("2024-01-10")})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"name":"Ana Maria","enrollmentDate":""}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID)
	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Ana Maria" || got.EnrollmentDate.String() != "2024-01-10" {
		t.Errorf("unexpected patient %+v", got)
	}
}

func TestHandler_Update_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"name":"x"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("pat_nope")
	if code := httpCode(t, h.Update(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_Delete(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(nil, CreateInput{Name: "Ana", EnrollmentDate: MustDate("2024-01-10")})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID)
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_Lists(t *testing.T) {
	h, e := newTestHandler()
	h.svc.Create(nil, CreateInput{Name: "Ana", EnrollmentDate: MustDate("2024-01-10")})

	for name, fn := range map[string]echo.HandlerFunc{
		"list":       h.List,
		"with-stats": h.ListWithStats,
		"recent":     h.ListRecent,
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		if err := fn(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		var items []map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 1 {
			t.Errorf("%s: unexpected body %s", name, rec.Body.String())
		}
		if name == "with-stats" {
			if items[0]["notesCount"] != float64(0) {
				t.Errorf("expected notesCount 0, got %v", items[0]["notesCount"])
			}
			if v, ok := items[0]["lastNoteDate"]; !ok || v != nil {
				t.Errorf("expected lastNoteDate null, got %v", v)
			}
		}
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/patients"))

	want := map[string]bool{
		"GET /api/patients":            false,
		"GET /api/patients/with-stats": false,
		"GET /api/patients/recent":     false,
		"GET /api/patients/:id":        false,
		"POST /api/patients":           false,
		"PUT /api/patients/:id":        false,
		"DELETE /api/patients/:id":     false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
