package platformerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

type requestIDKey struct{}

// WithRequestID stores the request ID used to tag errors raised downstream.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeInternal     ErrorType = "INTERNAL"
	ErrorTypeExternal     ErrorType = "EXTERNAL"
	ErrorTypeDatabase     ErrorType = "DATABASE_ERROR"
)

// Layer represents the application layer where the error occurred
type Layer string

const (
	LayerRepository     Layer = "repository"
	LayerDomain         Layer = "domain"
	LayerHandler        Layer = "handler"
	LayerRoute          Layer = "route"
	LayerInfrastructure Layer = "infrastructure"
)

// PlatformError represents an error with context and metadata
type PlatformError struct {
	UUID      string
	Type      ErrorType
	Code      string
	Message   string
	Err       error
	Context   map[string]any
	RequestID string
	Layer     Layer
	Timestamp time.Time
}

// Error implements the error interface
func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s][%s] %s: %v", e.Layer, e.Type, e.UUID, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s][%s] %s", e.Layer, e.Type, e.UUID, e.Message)
}

// Unwrap returns the underlying error
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewError creates a new PlatformError with the specified parameters
func NewError(ctx context.Context, layer Layer, errorType ErrorType, message string, err error) *PlatformError {
	return NewErrorWithContext(ctx, layer, errorType, message, err, nil)
}

// NewErrorWithContext creates a new PlatformError with additional context fields
func NewErrorWithContext(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, contextFields map[string]any) *PlatformError {
	errorContext := make(map[string]any, len(contextFields))
	for k, v := range contextFields {
		errorContext[k] = v
	}

	return &PlatformError{
		UUID:      uuid.NewString(),
		Type:      errorType,
		Message:   message,
		Err:       err,
		RequestID: RequestIDFromContext(ctx),
		Layer:     layer,
		Timestamp: time.Now().UTC(),
		Context:   errorContext,
	}
}

// AsError wraps an error with layer context. Revision errors keep their code
// and are mapped to the matching error type; anything else is internal.
func AsError(ctx context.Context, layer Layer, err error, message string) *PlatformError {
	if err == nil {
		return nil
	}

	if platformErr, ok := err.(*PlatformError); ok {
		return rewrap(ctx, layer, platformErr, message)
	}

	// A revision error outranks any repository error it wraps.
	var revErr *revErrors.RevisionError
	if errors.As(err, &revErr) {
		fields := map[string]any{}
		if revErr.Collection != "" {
			fields["collection"] = revErr.Collection
		}
		if revErr.ID != "" {
			fields["id"] = revErr.ID
		}
		if revErr.Path != "" {
			fields["path"] = revErr.Path
		}
		if revErr.From != "" {
			fields["from"] = revErr.From
			fields["to"] = revErr.To
		}
		for k, v := range revErr.Details {
			fields[k] = v
		}

		msg := revErr.Message
		if !revErr.IsUserFacing() {
			msg = message
		}
		pe := NewErrorWithContext(ctx, layer, typeForCode(revErr.Code), msg, err, fields)
		pe.Code = string(revErr.Code)
		return pe
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return rewrap(ctx, layer, platformErr, message)
	}

	return NewError(ctx, layer, ErrorTypeInternal, message, err)
}

func rewrap(ctx context.Context, layer Layer, platformErr *PlatformError, message string) *PlatformError {
	wrapped := NewErrorWithContext(ctx, layer, platformErr.Type, fmt.Sprintf("%s: %s", message, platformErr.Message), platformErr, platformErr.Context)
	wrapped.UUID = platformErr.UUID
	wrapped.Code = platformErr.Code
	if platformErr.RequestID != "" {
		wrapped.RequestID = platformErr.RequestID
	}
	return wrapped
}

func typeForCode(code revErrors.Code) ErrorType {
	switch code {
	case revErrors.CodeReferenceNotFound, revErrors.CodeNotFound:
		return ErrorTypeNotFound
	case revErrors.CodeValidationFailed:
		return ErrorTypeValidation
	case revErrors.CodeIllegalTransition, revErrors.CodeVersionConflict:
		return ErrorTypeConflict
	case revErrors.CodeForbidden:
		return ErrorTypeForbidden
	case revErrors.CodePersistFailure:
		return ErrorTypeDatabase
	default:
		return ErrorTypeInternal
	}
}

// ErrorTypeToHTTPStatus maps error types to HTTP status codes
func ErrorTypeToHTTPStatus(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsErrorType checks if an error is a PlatformError with the specified type
func IsErrorType(err error, errorType ErrorType) bool {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Type == errorType
	}
	return false
}

// LogError logs a platform error with proper structure. Client errors are
// logged at warn, everything else at error.
func LogError(logger zerolog.Logger, err *PlatformError) {
	if err == nil {
		return
	}

	event := logger.Error()
	if ErrorTypeToHTTPStatus(err.Type) < http.StatusInternalServerError {
		event = logger.Warn()
	}
	event = event.
		Str("error_uuid", err.UUID).
		Str("error_type", string(err.Type)).
		Str("layer", string(err.Layer)).
		Time("timestamp_utc", err.Timestamp)

	if err.Code != "" {
		event = event.Str("error_code", err.Code)
	}
	if err.RequestID != "" {
		event = event.Str("request_id", err.RequestID)
	}
	for k, v := range err.Context {
		event = event.Interface(k, v)
	}
	if err.Err != nil {
		event = event.Err(err.Err)
	}

	event.Msg(err.Message)
}
