package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/leadflow/leadflow-backend/pkg/i18n"
)

// Standard error types
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource conflict")
	ErrInternal       = errors.New("internal server error")
	ErrValidation     = errors.New("validation error")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrLeadCreation   = errors.New("lead creation failed")
	ErrLeadMissing    = errors.New("lead not created")
	ErrFileTooLarge   = errors.New("file too large")
	ErrUploadFailed   = errors.New("document upload failed")
	ErrSubmitInFlight = errors.New("submission in progress")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"` // i18n key for localization
	Params     map[string]string `json:"-"` // Parameters for i18n interpolation
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Localize returns a localized version of the error message
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return i18n.TFromContext(ctx, e.MessageKey, e.Params)
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// newKeyed builds an AppError whose English message comes from the catalog.
func newKeyed(sentinel error, code, key string, status int, params map[string]string) *AppError {
	return &AppError{
		Err:        sentinel,
		Code:       code,
		Message:    i18n.T(key, params),
		MessageKey: key,
		Params:     params,
		StatusCode: status,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		MessageKey: "errors.not_found",
		Params:     map[string]string{"resource": resource},
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		MessageKey: "errors.unauthorized",
		StatusCode: http.StatusUnauthorized,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		MessageKey: "errors.conflict",
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		MessageKey: "errors.internal",
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		MessageKey: "errors.validation_failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

func TokenExpired() *AppError {
	return newKeyed(ErrTokenExpired, "TOKEN_EXPIRED", "errors.token_expired", http.StatusUnauthorized, nil)
}

func TokenInvalid() *AppError {
	return newKeyed(ErrTokenInvalid, "TOKEN_INVALID", "errors.token_invalid", http.StatusUnauthorized, nil)
}

// Lead workflow errors

// LeadCreationFailed is returned when phase 1 fails. cause is kept for logs
// and never shown to the client.
func LeadCreationFailed(cause error) *AppError {
	e := newKeyed(ErrLeadCreation, "LEAD_CREATION_FAILED", "errors.lead_creation_failed", http.StatusBadGateway, nil)
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", ErrLeadCreation, cause)
	}
	return e
}

// LeadMissing is returned when documents are submitted before the lead exists.
func LeadMissing() *AppError {
	return newKeyed(ErrLeadMissing, "LEAD_NOT_CREATED", "errors.lead_missing", http.StatusConflict, nil)
}

// FileTooLarge rejects a single picked file.
func FileTooLarge(fileName, limit string) *AppError {
	params := map[string]string{"file": fileName, "limit": limit}
	e := newKeyed(ErrFileTooLarge, "FILE_TOO_LARGE", "errors.file_too_large", http.StatusRequestEntityTooLarge, params)
	e.Details = params
	return e
}

// UploadFailed reports the document whose upload halted the submission.
func UploadFailed(document, fileName string, cause error) *AppError {
	params := map[string]string{"document": document, "file": fileName}
	e := newKeyed(ErrUploadFailed, "DOCUMENT_UPLOAD_FAILED", "errors.upload_failed", http.StatusBadGateway, params)
	e.Details = params
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", ErrUploadFailed, cause)
	}
	return e
}

// SubmissionInProgress rejects overlapping submissions for one session.
func SubmissionInProgress() *AppError {
	return newKeyed(ErrSubmitInFlight, "SUBMISSION_IN_PROGRESS", "errors.submission_in_progress", http.StatusConflict, nil)
}

// DocumentsRequired rejects an empty submission when documents are mandatory.
func DocumentsRequired() *AppError {
	return newKeyed(ErrValidation, "DOCUMENTS_REQUIRED", "errors.documents_required", http.StatusBadRequest, nil)
}

// UnknownDocument rejects a document key missing from the catalog.
func UnknownDocument(key string) *AppError {
	params := map[string]string{"document": key}
	return newKeyed(ErrBadRequest, "UNKNOWN_DOCUMENT", "errors.unknown_document", http.StatusBadRequest, params)
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
