package errors

import (
	"errors"
	"fmt"
)

// AppError is a classified failure. Commands map the class to an exit code.
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode int    `json:"-"`
	Internal error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches any AppError carrying the same code, so copies made by WithInternal or Withf
// still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Withf returns a copy of the AppError with a formatted message.
func (e *AppError) Withf(format string, args ...any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = fmt.Sprintf(format, args...)
	return &cpy
}

// Failure classes shared by the batch jobs.
var (
	ErrPrecondition = &AppError{
		Code:     "PRECONDITION_FAILED",
		Message:  "Precondition violated",
		ExitCode: 2,
	}

	ErrLookupNotFound = &AppError{
		Code:     "LOOKUP_NOT_FOUND",
		Message:  "Referenced record not found",
		ExitCode: 3,
	}

	ErrExternal = &AppError{
		Code:     "EXTERNAL_API_FAILURE",
		Message:  "External API call failed",
		ExitCode: 4,
	}

	ErrMalformedPayload = &AppError{
		Code:     "MALFORMED_PAYLOAD",
		Message:  "External payload failed validation",
		ExitCode: 5,
	}

	ErrFallbackCycle = &AppError{
		Code:     "FALLBACK_CYCLE",
		Message:  "Fallback cycle detected",
		ExitCode: 6,
	}

	ErrInternal = &AppError{
		Code:     "INTERNAL_ERROR",
		Message:  "Internal error",
		ExitCode: 1,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, exitCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		ExitCode: exitCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:     ErrInternal.Code,
		Message:  message,
		ExitCode: ErrInternal.ExitCode,
		Internal: err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternal.WithInternal(err)
}

// ExitCode returns the process exit code for err; 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if appErr := FromError(err); appErr != nil && appErr.ExitCode > 0 {
		return appErr.ExitCode
	}
	return 1
}
