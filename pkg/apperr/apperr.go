// Package apperr defines the error kinds returned by the API.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of API error. The string is sent to clients as the "error" field.
type Kind string

const (
	KindAuthFailed       Kind = "auth:failed"
	KindPermissionDenied Kind = "permission:denied"
	KindInvalidParameter Kind = "parameter:invalid"
	KindNotFound         Kind = "entity:notfound"
	KindConflict         Kind = "entity:conflict"
	KindMaximumReached   Kind = "maximum:reached"
	// KindUnavailable is the only retryable kind: persistence, cache or storage failed.
	KindUnavailable Kind = "internal:unavailable"
)

// Error is a typed API error. Data carries the offending field or entity name.
type Error struct {
	Kind    Kind
	Data    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Data != "" {
		msg += " (" + e.Data + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and data, so errors.Is(err, apperr.NotFound("AdSlot")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Data == "" || t.Data == e.Data)
}

// InvalidParam reports a field-level validation failure.
func InvalidParam(field, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("invalid parameter: %s", field)
	}
	return &Error{Kind: KindInvalidParameter, Data: field, Message: message}
}

// NotFound reports a missing entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Data: entity, Message: entity + " not found"}
}

// Conflict reports an illegal state transition or exhausted capacity.
func Conflict(data, message string) *Error {
	return &Error{Kind: KindConflict, Data: data, Message: message}
}

// AuthFailed reports missing or invalid credentials.
func AuthFailed(message string) *Error {
	if message == "" {
		message = "authentication failed"
	}
	return &Error{Kind: KindAuthFailed, Message: message}
}

// PermissionDenied reports a role or ownership failure.
func PermissionDenied(message string) *Error {
	if message == "" {
		message = "permission denied"
	}
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// MaximumReached reports a per-entity quantity cap.
func MaximumReached(data, message string) *Error {
	return &Error{Kind: KindMaximumReached, Data: data, Message: message}
}

// Unavailable wraps an infrastructure failure.
func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Message: "service temporarily unavailable", Err: err}
}

// KindOf returns the kind of err. Errors that are not *Error are infrastructure failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// From converts err to *Error, wrapping unknown errors as unavailable.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unavailable(err)
}
