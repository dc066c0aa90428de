package runtime

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of plugin host failure.
type ErrorCode string

const (
	ErrorCodeInvalidID     ErrorCode = "INVALID_ID"
	ErrorCodeInvalidObject ErrorCode = "INVALID_OBJECT"
	ErrorCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrorCodeInvalidSignal ErrorCode = "INVALID_SIGNAL"
	ErrorCodeInvalidType   ErrorCode = "INVALID_TYPE"
	ErrorCodeConflict      ErrorCode = "CONFLICT"
	ErrorCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrorCodeNoPlugin      ErrorCode = "NO_PLUGIN"
	ErrorCodeNoExtPoint    ErrorCode = "NO_EXTPOINT"
	ErrorCodeNoFile        ErrorCode = "NO_FILE"
	ErrorCodeInvalidFile   ErrorCode = "INVALID_FILE"
	ErrorCodeNoFactory     ErrorCode = "NO_FACTORY"
	ErrorCodeLoad          ErrorCode = "LOAD"
	ErrorCodeStart         ErrorCode = "START"
	ErrorCodeNoSymbol      ErrorCode = "NO_SYMBOL"
	ErrorCodeInvalidSymbol ErrorCode = "INVALID_SYMBOL"
	ErrorCodeImport        ErrorCode = "IMPORT"
	ErrorCodeUnload        ErrorCode = "UNLOAD"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrInvalidID     = &Error{Code: ErrorCodeInvalidID}
	ErrInvalidState  = &Error{Code: ErrorCodeInvalidState}
	ErrInvalidSignal = &Error{Code: ErrorCodeInvalidSignal}
	ErrInvalidType   = &Error{Code: ErrorCodeInvalidType}
	ErrConflict      = &Error{Code: ErrorCodeConflict}
	ErrNoPlugin      = &Error{Code: ErrorCodeNoPlugin}
	ErrNoExtPoint    = &Error{Code: ErrorCodeNoExtPoint}
	ErrNoFile        = &Error{Code: ErrorCodeNoFile}
	ErrNoFactory     = &Error{Code: ErrorCodeNoFactory}
	ErrLoad          = &Error{Code: ErrorCodeLoad}
	ErrStart         = &Error{Code: ErrorCodeStart}
	ErrNoSymbol      = &Error{Code: ErrorCodeNoSymbol}
)

// Error wraps host failures with a code and optional metadata.
type Error struct {
	Code     ErrorCode      // Failure class, used for errors.Is matching
	Message  string         // Human readable detail
	Err      error          // The underlying error, if any
	Metadata map[string]any // Extra context (plugin id, file, symbol...)
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata adds metadata to the error
func (e *Error) WithMetadata(key string, value any) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// NewError creates a host error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError creates a host error around err.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
