package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them without string matching.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindSystemLimit  ErrorKind = "system_limit"
	KindRateLimited  ErrorKind = "rate_limited"
	KindNotFound     ErrorKind = "not_found"
	KindPermission   ErrorKind = "permission"
	KindInvalidState ErrorKind = "invalid_state"
	KindMaxRetries   ErrorKind = "max_retries"
	KindExpired      ErrorKind = "expired"
	KindPersistence  ErrorKind = "persistence"
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    ErrorKind
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

// Is matches any *Error with the same kind, so errors.Is(err, ErrRateLimited)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrSystemLimit  = &Error{Kind: KindSystemLimit, Message: "system is at capacity"}
	ErrRateLimited  = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "report not found"}
	ErrPermission   = &Error{Kind: KindPermission, Message: "report belongs to another user"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: "invalid report state"}
	ErrMaxRetries   = &Error{Kind: KindMaxRetries, Message: "maximum retry attempts reached"}
	ErrExpired      = &Error{Kind: KindExpired, Message: "report has expired, generate a new one"}
	ErrPersistence  = &Error{Kind: KindPersistence, Message: "persistence failure"}
)

func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func SystemLimit(message string) error {
	return &Error{Kind: KindSystemLimit, Message: message}
}

func RateLimited(message string) error {
	return &Error{Kind: KindRateLimited, Message: message}
}

func NotFound(jobID string) error {
	return &Error{Kind: KindNotFound, Message: "report " + jobID + " not found"}
}

func InvalidState(from, to ReportStatus) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("cannot move report from %s to %s", from, to)}
}

func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
