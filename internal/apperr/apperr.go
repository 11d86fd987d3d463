package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can react without string matching.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindNoActivePeriod Kind = "no_active_period"
	KindDeviceConflict Kind = "device_conflict"
	KindPersistence    Kind = "persistence_failure"
	KindMalformedInput Kind = "malformed_input"
)

// Error carries a Kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing student, timetable or session.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Malformed reports input rejected before any state mutation.
func Malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformedInput, Message: fmt.Sprintf(format, args...)}
}

// DeviceConflict reports a device that no longer owns the student's session.
func DeviceConflict(format string, args ...any) error {
	return &Error{Kind: KindDeviceConflict, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure.
func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
