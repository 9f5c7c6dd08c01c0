package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiHeaders apply to every response.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cache-Control", "no-store"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets apiHeaders on every response. Strict-Transport-Security
// is added only when hsts is true; development servers speak plain HTTP.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if hsts {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
