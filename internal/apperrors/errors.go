// Package apperrors defines the error taxonomy shared by the tool server,
// the sandbox layer and the agent bridge. Errors carry a Kind so transport
// layers can map them to status codes without string matching.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindMissingUserContext   Kind = "MISSING_USER_CONTEXT"
	KindImageUnavailable     Kind = "IMAGE_UNAVAILABLE"
	KindContainerUnavailable Kind = "CONTAINER_UNAVAILABLE"
	KindExecTimeout          Kind = "EXEC_TIMEOUT"
	KindFileNotFound         Kind = "FILE_NOT_FOUND"
	KindFileOperation        Kind = "FILE_OPERATION_FAILED"
	KindPathViolation        Kind = "PATH_VIOLATION"
	KindArtifactTooLarge     Kind = "ARTIFACT_TOO_LARGE"
	KindDocstringExtraction  Kind = "DOCSTRING_EXTRACTION_FAILED"
	KindSkillNotFound        Kind = "SKILL_NOT_FOUND"
	KindPromptFetchFailed    Kind = "PROMPT_FETCH_FAILED"
	KindToolServer           Kind = "TOOL_SERVER_ERROR"
	KindModelCallFailed      Kind = "MODEL_CALL_FAILED"
	KindCancelled            Kind = "CANCELLED"
	KindInternal             Kind = "INTERNAL"
)

// AppError is an application-level error with a kind and optional cause.
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError.
func New(kind Kind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a new AppError with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// HTTPStatus maps an error to the HTTP status code used by both servers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest, KindPathViolation, KindArtifactTooLarge, KindMissingUserContext:
		return http.StatusBadRequest
	case KindFileNotFound, KindSkillNotFound:
		return http.StatusNotFound
	case KindImageUnavailable, KindContainerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
