// Package apperr is the error taxonomy shared by the pipeline clients, the
// orchestrator and the HTTP layer. Provider and SDK errors are wrapped into
// an *Error at the client boundary so callers only ever match on Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the stable, machine-readable error discriminator sent to clients.
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindUnsupportedFormat  Kind = "UNSUPPORTED_FORMAT"
	KindInvalidAudio       Kind = "INVALID_AUDIO"
	KindMissingPrompt      Kind = "MISSING_PROMPT"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindAuth               Kind = "AUTH_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"

	KindStorageUnavailable   Kind = "STORAGE_UNAVAILABLE"
	KindTranscriptionService Kind = "TRANSCRIPTION_SERVICE_ERROR"
	KindGenerationService    Kind = "GENERATION_SERVICE_ERROR"
	KindRateLimited          Kind = "RATE_LIMITED"

	KindInternal Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	KindValidation:           http.StatusBadRequest,
	KindUnsupportedFormat:    http.StatusBadRequest,
	KindInvalidAudio:         http.StatusBadRequest,
	KindMissingPrompt:        http.StatusBadRequest,
	KindInvariantViolation:   http.StatusBadRequest,
	KindAuth:                 http.StatusUnauthorized,
	KindNotFound:             http.StatusNotFound,
	KindConflict:             http.StatusConflict,
	KindStorageUnavailable:   http.StatusServiceUnavailable,
	KindTranscriptionService: http.StatusBadGateway,
	KindGenerationService:    http.StatusBadGateway,
	KindRateLimited:          http.StatusServiceUnavailable,
	KindInternal:             http.StatusInternalServerError,
}

var retryableKinds = map[Kind]bool{
	KindStorageUnavailable:   true,
	KindTranscriptionService: true,
	KindGenerationService:    true,
	KindRateLimited:          true,
}

// Error is the unified application error.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is the provider's suggested wait, set on RATE_LIMITED.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound(""))
// style checks work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Status returns the HTTP status recommended for this error.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *Error) Retryable() bool { return retryableKinds[e.Kind] }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable()
}

// HTTPStatus maps any error to a response status.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Status()
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to show a client. Causes are never included.
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "An unexpected error occurred"
}

// --- Constructors ---

func Validation(message string) *Error { return New(KindValidation, message) }

func UnsupportedFormat(hint string) *Error {
	return New(KindUnsupportedFormat, fmt.Sprintf("Unsupported content format %q", hint))
}

func InvalidAudio(reason string) *Error { return New(KindInvalidAudio, reason) }

func MissingPrompt() *Error {
	return New(KindMissingPrompt, "Record has no transcript to generate from")
}

func InvariantViolation(reason string) *Error { return New(KindInvariantViolation, reason) }

func Unauthorized(reason string) *Error {
	if reason == "" {
		reason = "Unauthorized"
	}
	return New(KindAuth, reason)
}

func NotFound(resource string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(reason string) *Error { return New(KindConflict, reason) }

func StorageUnavailable(cause error) *Error {
	return Wrap(KindStorageUnavailable, "Blob storage is temporarily unavailable", cause)
}

func TranscriptionService(cause error) *Error {
	return Wrap(KindTranscriptionService, "The transcription service encountered an error", cause)
}

func GenerationService(cause error) *Error {
	return Wrap(KindGenerationService, "The text generation service encountered an error", cause)
}

func RateLimited(retryAfter time.Duration, cause error) *Error {
	e := Wrap(KindRateLimited, "The text generation service is rate limiting requests", cause)
	e.RetryAfter = retryAfter
	return e
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "An unexpected error occurred", cause)
}
