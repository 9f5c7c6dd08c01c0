package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit returns middleware that limits the maximum request body size.
// defaultLimit applies to JSON endpoints; audioLimit applies to multipart
// uploads (audio recordings are sent as multipart/form-data).
//
// Limits are human-readable strings: "1M", "512K", "1G". A bare number is
// bytes. An exceeded limit yields 413 {"message": ...}.
func BodyLimit(defaultLimit string, audioLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	audioBytes := parseLimit(audioLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
				limit = audioBytes
			}

			// Content-Length first for early rejection
			if req.ContentLength > limit {
				return payloadTooLargeError(c, limit)
			}

			req.Body = &limitedReadCloser{
				ReadCloser: req.Body,
				remaining:  limit,
			}
			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than the limit has been consumed,
// covering bodies with a missing or wrong Content-Length.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large")
	}

	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large")
	}
	return n, err
}

func payloadTooLargeError(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"message": fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", limit),
	})
}

// parseLimit parses "1M", "512K", "10G" into bytes. Unparseable input
// yields 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G") || strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimRight(s, "GB")
	case strings.HasSuffix(s, "M") || strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimRight(s, "MB")
	case strings.HasSuffix(s, "K") || strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimRight(s, "KB")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 1 << 20
	}
	return n * multiplier
}
