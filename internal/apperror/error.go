package apperror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppError implements the error interface and carries the structured
// context the gateway's hot-path error sites attach before handing the
// error to a counter and a log line. Errors never unwind across a frame
// handler; they are classified and counted at the point of origin.
type AppError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	DataType  string    `json:"data_type,omitempty"`
	CorrID    string    `json:"corr_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
	stack     []uintptr
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error { return e.cause }

// Is implements errors.Is by code comparison.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Severity returns the logging severity for this error's code.
func (e *AppError) Severity() Severity { return DefaultSeverity(e.Code) }

// ToLog serializes the error into a field map suitable for
// zerolog.Event.Fields.
func (e *AppError) ToLog() map[string]any {
	m := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"timestamp": e.Timestamp.Format(time.RFC3339),
	}
	if e.Context != "" {
		m["context"] = e.Context
	}
	if e.Venue != "" {
		m["venue"] = e.Venue
	}
	if e.DataType != "" {
		m["data_type"] = e.DataType
	}
	if e.CorrID != "" {
		m["corr_id"] = e.CorrID
	}
	if e.cause != nil {
		m["cause"] = e.cause.Error()
	}
	if len(e.stack) > 0 {
		m["stack"] = e.formatStack()
	}
	return m
}

func (e *AppError) formatStack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			sb.WriteString(fmt.Sprintf("\n\t%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return sb.String()
}

func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// Option is a functional option for AppError.
type Option func(*AppError)

// WithMessage sets a custom message.
func WithMessage(message string) Option {
	return func(e *AppError) { e.Message = message }
}

// WithContext adds free-text context, e.g. "missing field 's'".
func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

// WithCause wraps an underlying error.
func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

// WithVenue attaches the venue the error originated from.
func WithVenue(venue string) Option {
	return func(e *AppError) { e.Venue = venue }
}

// WithDataType attaches the data type the error originated from.
func WithDataType(dataType string) Option {
	return func(e *AppError) { e.DataType = dataType }
}

// New creates a new AppError. A correlation id is stamped automatically so
// background errors (reconciliation, shutdown) without an OTEL trace in
// scope still get a stable handle for log correlation.
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   string(code),
		Timestamp: time.Now(),
		CorrID:    uuid.NewString(),
		stack:     captureStack(),
	}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

// Wrap wraps a standard error into an AppError, preserving an existing
// AppError's identity rather than double-wrapping it.
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}
	return New(code, WithContext(context), WithCause(err))
}

// IsAppError reports whether err is (or wraps) an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetCode extracts the error code from err, or CodeUnknown if err is not an
// AppError.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
