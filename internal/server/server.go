// Package server assembles the echo instance: global middleware, the error
// handler, health and metrics endpoints, and the /api route groups.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/scribe/scribe/internal/domain/note"
	"github.com/scribe/scribe/internal/domain/patient"
	"github.com/scribe/scribe/internal/platform/db"
	"github.com/scribe/scribe/internal/platform/httpapi"
	"github.com/scribe/scribe/internal/platform/middleware"
	"github.com/scribe/scribe/internal/platform/telemetry"
)

// JSONBodyLimit caps non-multipart request bodies.
const JSONBodyLimit = "1M"

// Options tune the HTTP pipeline.
type Options struct {
	CORSOrigins    []string
	RateLimit      middleware.RateLimitConfig
	AudioBodyLimit string
	RequestTimeout time.Duration
	// HSTS adds Strict-Transport-Security to every response.
	HSTS bool
}

// Deps are the constructed collaborators the router mounts. DBHealth,
// PoolStats and Telemetry may be nil.
type Deps struct {
	Logger    zerolog.Logger
	Patients  *patient.Handler
	Notes     *note.Handler
	DBHealth  echo.HandlerFunc
	PoolStats func() *db.PoolStats
	Telemetry *telemetry.TelemetryProvider
}

// New builds a ready-to-start echo instance.
func New(opts Options, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpapi.NewValidator()
	e.HTTPErrorHandler = httpapi.ErrorHandler(deps.Logger)

	e.Use(middleware.Recovery(deps.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(deps.Logger))
	e.Use(deps.Telemetry.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders(opts.HSTS))
	e.Use(middleware.BodyLimit(JSONBodyLimit, opts.AudioBodyLimit))
	e.Use(middleware.RequestTimeoutWithSkipper(opts.RequestTimeout, callsProvider))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"message": "Scribe API", "ok": true})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.DBHealth != nil {
		e.GET("/health/db", deps.DBHealth)
	}
	e.GET("/metrics", metricsHandler(deps))

	rl := opts.RateLimit
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api", middleware.RateLimit(rl))
	deps.Patients.RegisterRoutes(api.Group("/patients"))
	deps.Notes.RegisterRoutes(api.Group("/notes"))

	return e
}

// metricsHandler refreshes the pool gauges on every scrape.
func metricsHandler(deps Deps) echo.HandlerFunc {
	serve := deps.Telemetry.PrometheusHandler()
	return func(c echo.Context) error {
		if deps.PoolStats != nil {
			ps := deps.PoolStats()
			deps.Telemetry.HealthMetrics().SetDBPool(int64(ps.AcquiredConns), int64(ps.IdleConns))
		}
		return serve(c)
	}
}

// callsProvider reports routes that block on the transcription or summary
// provider. They are bounded by the provider SDK only.
func callsProvider(c echo.Context) bool {
	path := c.Request().URL.Path
	if c.Request().Method == http.MethodPost && strings.TrimSuffix(path, "/") == "/api/notes" {
		return true
	}
	return strings.HasSuffix(path, "/transcribe") || strings.HasSuffix(path, "/generate-summary")
}
