// Package apperrors provides structured pipeline errors with stable classification.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
	ErrTransient       = errors.New("transient infrastructure failure")
	ErrStep            = errors.New("step failed")
	ErrAuth            = errors.New("authentication failed")
	ErrPublish         = errors.New("publish failed")
	ErrArtifactMissing = errors.New("artifact missing")
	ErrTimeout         = errors.New("timed out")
	ErrCancelled       = errors.New("cancelled")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "ref", "event")
	Resource string // For not found/conflict (e.g., "run", "artifact")
	Op       string // Operation that failed (e.g., "docker.imageBuild")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both are visible to errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return wrap(ErrInternal, op, cause)
}

// Transient marks an infrastructure failure that exhausted its retry budget.
func Transient(op string, cause error) error {
	return wrap(ErrTransient, op, cause)
}

// Step reports a failed build, test or docs command.
func Step(op string, exitCode int, cause error) error {
	msg := fmt.Sprintf("%s: exit code %d", op, exitCode)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", op, cause)
	}
	return &Error{Sentinel: ErrStep, Message: msg, Op: op, Cause: cause}
}

// Auth reports a credential or registry login failure.
func Auth(op string, cause error) error {
	return wrap(ErrAuth, op, cause)
}

// Publish reports a registry push failure.
func Publish(op string, cause error) error {
	return wrap(ErrPublish, op, cause)
}

// ArtifactMissing reports an artifact read that found nothing despite a declared producer.
func ArtifactMissing(name string, cause error) error {
	return &Error{
		Sentinel: ErrArtifactMissing,
		Message:  fmt.Sprintf("artifact %s missing despite declared dependency", name),
		Resource: "artifact",
		Cause:    cause,
	}
}

// Timeout reports an instance that exceeded its wall-clock budget.
func Timeout(op string, cause error) error {
	return wrap(ErrTimeout, op, cause)
}

// Cancelled reports an instance stopped by run cancellation.
func Cancelled(op string, cause error) error {
	return wrap(ErrCancelled, op, cause)
}

func wrap(sentinel error, op string, cause error) error {
	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Kind returns a stable label for an error, used in reports, events and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArtifactMissing):
		return "invariant"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrPublish):
		return "publish"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrStep):
		return "step"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
