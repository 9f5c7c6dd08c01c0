package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"totalConns"`
	IdleConns       int32  `json:"idleConns"`
	AcquiredConns   int32  `json:"acquiredConns"`
	MaxConns        int32  `json:"maxConns"`
	AcquireCount    int64  `json:"acquireCount"`
	AcquireDuration string `json:"acquireDuration"`
	Healthy         bool   `json:"healthy"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthHandler pings the database and reports pool statistics. stats may be
// nil when the pinger is not a pgx pool.
func HealthHandler(p Pinger, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		var ps *PoolStats
		if stats != nil {
			ps = stats()
			body["pool"] = ps
		}

		if err := p.Ping(ctx); err != nil {
			if ps != nil {
				ps.Healthy = false
			}
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		return c.JSON(http.StatusOK, body)
	}
}

// PoolHealthHandler is HealthHandler bound to a pgx pool.
func PoolHealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return HealthHandler(pool, func() *PoolStats { return GetPoolStats(pool) })
}
