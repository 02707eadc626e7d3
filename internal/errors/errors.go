// Package errors defines the application error taxonomy shared by the data,
// service and transport layers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an AppError; it is also the "code" field of API error bodies.
type ErrorCode string

const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForbidden means the resource exists but belongs to another owner.
	ErrCodeForbidden  ErrorCode = "forbidden"
	ErrCodeForeignKey ErrorCode = "foreign_key"
	ErrCodeInternal   ErrorCode = "internal"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeCanceled   ErrorCode = "canceled"
)

var httpStatus = map[ErrorCode]int{
	ErrCodeNotFound:   http.StatusNotFound,
	ErrCodeConflict:   http.StatusConflict,
	ErrCodeForeignKey: http.StatusConflict,
	ErrCodeValidation: http.StatusBadRequest,
	ErrCodeForbidden:  http.StatusForbidden,
	ErrCodeTimeout:    http.StatusGatewayTimeout,
	ErrCodeCanceled:   http.StatusRequestTimeout,
}

// HTTPStatus maps the code to a response status; unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError carries a code, a client-safe message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending input field for validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New builds an AppError. The message is formatted only when args are given, so a literal
// "%" in a plain message survives.
func New(code ErrorCode, format string, args ...any) *AppError {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: format}
}

func NotFoundf(format string, args ...any) *AppError { return New(ErrCodeNotFound, format, args...) }

func Conflict(message string) *AppError { return New(ErrCodeConflict, message) }

func Forbiddenf(format string, args ...any) *AppError { return New(ErrCodeForbidden, format, args...) }

func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

func Validationf(format string, args ...any) *AppError {
	return New(ErrCodeValidation, format, args...)
}

// ValidationField attributes a validation failure to one request field.
func ValidationField(field, message string) *AppError {
	e := New(ErrCodeValidation, message)
	e.Field = field
	return e
}

// Wrap attaches code and message to err; a nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsNotFound(err error) bool   { return HasCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool   { return HasCode(err, ErrCodeConflict) }
func IsValidation(err error) bool { return HasCode(err, ErrCodeValidation) }
func IsForbidden(err error) bool  { return HasCode(err, ErrCodeForbidden) }

// GetField returns the offending field of a validation error, if any.
func GetField(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Field
	}
	return ""
}
