// Package apperr defines the closed set of expected failures returned by the
// patient and note services, and the single place where each one is mapped
// to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one expected failure mode. The string value is the wire
// tag used in logs and JSON bodies.
type Kind string

const (
	KindDatabase           Kind = "database_error"
	KindNoteNotFound       Kind = "note_not_found"
	KindPatientNotFound    Kind = "patient_not_found"
	KindNoAudioFile        Kind = "no_audio_file"
	KindInvalidStatus      Kind = "invalid_status"
	KindInvalidAudioFormat Kind = "invalid_audio_format"
	KindAudioTooLarge      Kind = "audio_too_large"
	KindAudioNotFound      Kind = "audio_not_found"
	KindTranscription      Kind = "transcription_failed"
	KindNoContent          Kind = "no_content"
	KindAPI                Kind = "api_error"
)

// AllKinds returns every Kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindDatabase,
		KindNoteNotFound,
		KindPatientNotFound,
		KindNoAudioFile,
		KindInvalidStatus,
		KindInvalidAudioFormat,
		KindAudioTooLarge,
		KindAudioNotFound,
		KindTranscription,
		KindNoContent,
		KindAPI,
	}
}

// Error is a tagged failure. Err carries the underlying cause for the kinds
// that have one (database_error, transcription_failed, api_error).
type Error struct {
	Kind Kind
	Err  error
}

// New returns an *Error of the given kind wrapping cause, which may be nil.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, apperr.New(apperr.KindNoteNotFound, nil)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err. ok is false for untagged errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// CauseMessage returns the message of the wrapped cause, or "Unknown error".
func CauseMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return "Unknown error"
}

// HTTPStatus maps a Kind to its response status. Every Kind must have an
// explicit case; the default branch exists only to satisfy the compiler and
// is asserted unreachable in tests.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNoteNotFound, KindPatientNotFound, KindAudioNotFound:
		return http.StatusNotFound
	case KindNoAudioFile, KindInvalidAudioFormat, KindAudioTooLarge, KindNoContent:
		return http.StatusBadRequest
	case KindInvalidStatus:
		return http.StatusConflict
	case KindDatabase, KindAPI, KindTranscription:
		return http.StatusInternalServerError
	default:
		return 0
	}
}
