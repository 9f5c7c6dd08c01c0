// Package httpapi holds the HTTP conventions shared by every handler: request
// validation, translation of service errors into responses, and the
// server-wide error handler. Every error body has the shape
// {"message": "..."}.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/scribe/scribe/internal/apperr"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a Validator that reports field names by their json
// tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Validator{v: v}
}

// Validate implements echo.Validator. Failures become 400 errors listing
// each offending field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fieldMessage(fe))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: "+strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "datetime":
		return fe.Field() + " must be a date in YYYY-MM-DD format"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// Normalizer is implemented by request DTOs that clean up their fields
// (trimming, alias resolution) after binding and before validation.
type Normalizer interface {
	Normalize()
}

// BindAndValidate decodes the request body into dst, normalizes it when dst
// is a Normalizer, and validates it.
func BindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if n, ok := dst.(Normalizer); ok {
		n.Normalize()
	}
	return c.Validate(dst)
}

// Messages maps each error kind an operation can produce to its user-facing
// message.
type Messages map[apperr.Kind]string

// Error converts a service error into an *echo.HTTPError. Tagged errors
// take their status from apperr.HTTPStatus and their message from msgs,
// falling back to fallback. Untagged errors become 500 with fallback.
func Error(err error, msgs Messages, fallback string) *echo.HTTPError {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, fallback).SetInternal(err)
	}
	status := apperr.HTTPStatus(kind)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	msg, found := msgs[kind]
	if !found {
		msg = fallback
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}

// ErrorHandler renders every error as {"message": ...}. Unexpected errors
// are logged and masked as a generic 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Internal Server Error"

		var he *echo.HTTPError
		var ae *apperr.Error
		switch {
		case errors.As(err, &he):
			status = he.Code
			message = httpErrorMessage(he)
			if status >= http.StatusInternalServerError && he.Internal != nil {
				rid, _ := c.Get("request_id").(string)
				logger.Error().Err(he.Internal).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg(message)
			}
		case errors.As(err, &ae):
			if s := apperr.HTTPStatus(ae.Kind); s != 0 {
				status = s
			}
			message = string(ae.Kind)
		default:
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, map[string]string{"message": message})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(m)
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
