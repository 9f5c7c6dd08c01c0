package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout attaches a deadline to the request context. Handlers pass
// that context to the database and providers, so an expired deadline
// surfaces as context.DeadlineExceeded and is rendered as 504.
//
// Paths ending in any of skipSuffixes run without a deadline.
func RequestTimeout(timeout time.Duration, skipSuffixes ...string) echo.MiddlewareFunc {
	return RequestTimeoutWithSkipper(timeout, func(c echo.Context) bool {
		path := c.Request().URL.Path
		for _, s := range skipSuffixes {
			if strings.HasSuffix(path, s) {
				return true
			}
		}
		return false
	})
}

// RequestTimeoutWithSkipper is RequestTimeout with an arbitrary skip rule.
func RequestTimeoutWithSkipper(timeout time.Duration, skipper echomw.Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || (skipper != nil && skipper(c)) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "Request timed out")
			}
			return err
		}
	}
}
