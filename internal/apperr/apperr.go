// Package apperr defines the closed error-kind taxonomy surfaced to
// callers of the task service, engine client and bridge.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	InvalidInput     Kind = "InvalidInput"
	TaskNotFound     Kind = "TaskNotFound"
	EngineUnavailable Kind = "EngineUnavailable"
	RpcError         Kind = "RpcError"
	RpcProtocol      Kind = "RpcProtocol"
	PathEscape       Kind = "PathEscape"
	StorageError     Kind = "StorageError"
	UpdateRollback   Kind = "UpdateRollback"
	BridgeAuth       Kind = "BridgeAuth"
	BridgeBadRequest Kind = "BridgeBadRequest"
)

// Error is the concrete error type returned by every public operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperr.New(kind, "")) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports the Kind of err, or "" if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

func InvalidInputf(format string, args ...interface{}) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(TaskNotFound, fmt.Sprintf(format, args...))
}

func EngineUnavailablef(format string, args ...interface{}) *Error {
	return New(EngineUnavailable, fmt.Sprintf(format, args...))
}

func StorageErrorf(cause error, format string, args ...interface{}) *Error {
	return Wrap(StorageError, fmt.Sprintf(format, args...), cause)
}
