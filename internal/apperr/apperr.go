// Package apperr defines the error taxonomy shared by the sync core.
// Errors carry a machine-readable code for the embedding application and a
// human-readable message; the underlying cause stays wrapped for errors.Is/As.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	CodeNetwork    Code = "NET_ERROR"
	CodeAuth       Code = "AUTH_ERROR"
	CodeParse      Code = "PARSE_ERROR"
	CodeStorage    Code = "DB_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VAL_ERROR"
	CodeGeneric    Code = "GENERIC_ERROR"
)

// Error is a categorized error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a categorized error without an underlying cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err, or CodeGeneric when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeGeneric
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
