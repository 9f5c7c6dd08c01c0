package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		hsts     bool
		wantHSTS string
	}{
		{"production", true, "max-age=31536000; includeSubDomains"},
		{"development", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/notes", nil), rec)

			err := SecurityHeaders(tt.hsts)(func(c echo.Context) error {
				return c.JSON(http.StatusOK, []string{})
			})(c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for _, kv := range apiHeaders {
				if got := rec.Header().Get(kv[0]); got != kv[1] {
					t.Errorf("header %s: got %q, want %q", kv[0], got, kv[1])
				}
			}
			if got := rec.Header().Get("Strict-Transport-Security"); got != tt.wantHSTS {
				t.Errorf("Strict-Transport-Security: got %q, want %q", got, tt.wantHSTS)
			}
		})
	}
}

func TestSecurityHeaders_SetOnErrorResponses(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/notes/not_missing", nil), rec)

	err := SecurityHeaders(false)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Note not found")
	})(c)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected headers on error responses")
	}
}
