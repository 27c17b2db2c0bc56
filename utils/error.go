package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorCategory classifies every fallible operation's failure mode so callers
// and workers can decide whether to surface, retry or abandon.
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "Validation"
	ErrorCategoryNotFound   ErrorCategory = "NotFound"
	ErrorCategoryConflict   ErrorCategory = "Conflict"
	ErrorCategoryTransient  ErrorCategory = "Transient"
	ErrorCategoryPermanent  ErrorCategory = "Permanent"
	ErrorCategoryIntegrity  ErrorCategory = "Integrity"
)

// CategoryError carries the category plus a stable machine-readable code
// (e.g. "DuplicateStatement") alongside the human message.
type CategoryError struct {
	Category ErrorCategory
	Code     string
	Err      error
}

func (e *CategoryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Err.Error()
}

func (e *CategoryError) Unwrap() error { return e.Err }

func NewValidationError(code string, format string, args ...interface{}) error {
	return &CategoryError{Category: ErrorCategoryValidation, Code: code, Err: fmt.Errorf(format, args...)}
}

func NewNotFoundError(code string, format string, args ...interface{}) error {
	return &CategoryError{Category: ErrorCategoryNotFound, Code: code, Err: fmt.Errorf(format, args...)}
}

func NewConflictError(code string, format string, args ...interface{}) error {
	return &CategoryError{Category: ErrorCategoryConflict, Code: code, Err: fmt.Errorf(format, args...)}
}

func NewTransientError(code string, err error) error {
	return &CategoryError{Category: ErrorCategoryTransient, Code: code, Err: err}
}

func NewPermanentError(code string, format string, args ...interface{}) error {
	return &CategoryError{Category: ErrorCategoryPermanent, Code: code, Err: fmt.Errorf(format, args...)}
}

func NewIntegrityError(code string, format string, args ...interface{}) error {
	return &CategoryError{Category: ErrorCategoryIntegrity, Code: code, Err: fmt.Errorf(format, args...)}
}

// CategoryOf reports the category of err, defaulting to Transient for plain
// errors (DB/network failures bubble up untyped).
func CategoryOf(err error) ErrorCategory {
	var ce *CategoryError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorCategoryNotFound
	}
	return ErrorCategoryTransient
}

// CodeOf returns the stable error code, or "" for untyped errors.
func CodeOf(err error) string {
	var ce *CategoryError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
