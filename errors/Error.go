package errors

import (
	"errors"
	"fmt"
)

// ERR identifies the class of an error. Codes are stable and are the only
// thing Is() compares, so callers can match on class without caring about the
// formatted message.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_INVALID_ARGUMENT
	ERR_NOT_FOUND
	ERR_PROCESSING
	ERR_CONFIGURATION
	ERR_CONTEXT_CANCELED
	ERR_BLOCK_NOT_FOUND
	ERR_BLOCK_EXISTS
	ERR_BLOCK_INVALID
	ERR_TX_NOT_FOUND
	ERR_TX_INVALID
	ERR_STORAGE_ERROR
	ERR_STORAGE_NOT_STARTED
	ERR_SERVICE_ERROR
	ERR_SYSTEM
)

var errName = map[ERR]string{
	ERR_UNKNOWN:             "UNKNOWN",
	ERR_INVALID_ARGUMENT:    "INVALID_ARGUMENT",
	ERR_NOT_FOUND:           "NOT_FOUND",
	ERR_PROCESSING:          "PROCESSING",
	ERR_CONFIGURATION:       "CONFIGURATION",
	ERR_CONTEXT_CANCELED:    "CONTEXT_CANCELED",
	ERR_BLOCK_NOT_FOUND:     "BLOCK_NOT_FOUND",
	ERR_BLOCK_EXISTS:        "BLOCK_EXISTS",
	ERR_BLOCK_INVALID:       "BLOCK_INVALID",
	ERR_TX_NOT_FOUND:        "TX_NOT_FOUND",
	ERR_TX_INVALID:          "TX_INVALID",
	ERR_STORAGE_ERROR:       "STORAGE_ERROR",
	ERR_STORAGE_NOT_STARTED: "STORAGE_NOT_STARTED",
	ERR_SERVICE_ERROR:       "SERVICE_ERROR",
	ERR_SYSTEM:              "SYSTEM",
}

func (c ERR) String() string {
	if s, ok := errName[c]; ok {
		return s
	}
	return fmt.Sprintf("ERR(%d)", int32(c))
}

type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

// New creates an Error with the given code. The message may be a format
// string; if the last argument is an error it is captured as the wrapped
// error instead of being formatted.
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wrapped = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{code: code, message: message, wrappedErr: wrapped}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s (%d): %s", e.code, e.code, e.message)
	}

	return fmt.Sprintf("%s (%d): %s: %v", e.code, e.code, e.message, e.wrappedErr)
}

// Is reports whether target is an *Error with the same code, directly or
// anywhere down the wrapped chain.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	te, ok := target.(*Error)
	if !ok {
		return false
	}

	if e.code == te.code {
		return true
	}

	if e.wrappedErr != nil {
		return errors.Is(e.wrappedErr, target)
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if te, ok := target.(**Error); ok {
		*te = e
		return true
	}

	if e.wrappedErr != nil {
		return errors.As(e.wrappedErr, target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Is mirrors the stdlib so callers do not need to import both packages.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
