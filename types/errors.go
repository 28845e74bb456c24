package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of coordination failure. Codes are stable
// strings so CLI tooling and agents can branch on them without string
// matching on messages.
type ErrorCode string

const (
	CodeLockTimeout       ErrorCode = "LOCK_TIMEOUT"
	CodeIOFailure         ErrorCode = "IO_FAILURE"
	CodeDuplicateMessage  ErrorCode = "DUPLICATE_MESSAGE"
	CodeDuplicateTask     ErrorCode = "DUPLICATE_TASK"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	CodeTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	CodeMessageNotFound   ErrorCode = "MESSAGE_NOT_FOUND"
	CodeStaleAgent        ErrorCode = "STALE_AGENT"
)

// CoordError provides structured error information for coordination failures.
type CoordError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CoordError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CoordError with the same code, so callers
// can use errors.Is against the sentinel values below.
func (e *CoordError) Is(target error) bool {
	var t *CoordError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinel values for errors.Is checks. Constructed errors carry richer
// messages and details; these exist only as comparison targets.
var (
	ErrLockTimeout       = &CoordError{Code: CodeLockTimeout, Message: "timed out acquiring lock"}
	ErrIOFailure         = &CoordError{Code: CodeIOFailure, Message: "i/o failure"}
	ErrDuplicateMessage  = &CoordError{Code: CodeDuplicateMessage, Message: "duplicate message id"}
	ErrDuplicateTask     = &CoordError{Code: CodeDuplicateTask, Message: "duplicate task id"}
	ErrInvalidTransition = &CoordError{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrValidationFailure = &CoordError{Code: CodeValidationFailure, Message: "validation failed"}
	ErrTaskNotFound      = &CoordError{Code: CodeTaskNotFound, Message: "task not found"}
	ErrMessageNotFound   = &CoordError{Code: CodeMessageNotFound, Message: "message not found"}
	ErrStaleAgent        = &CoordError{Code: CodeStaleAgent, Message: "agent is stale"}
)

// NewCoordError creates a new structured coordination error.
func NewCoordError(code ErrorCode, message string, details map[string]interface{}) *CoordError {
	return &CoordError{Code: code, Message: message, Details: details}
}

// WrapCoordError creates a structured error that wraps an underlying cause.
func WrapCoordError(code ErrorCode, message string, cause error) *CoordError {
	return &CoordError{Code: code, Message: message, Cause: cause}
}

// LockTimeoutError reports a failed advisory-lock acquisition on path.
func LockTimeoutError(path string, cause error) *CoordError {
	return &CoordError{
		Code:    CodeLockTimeout,
		Message: fmt.Sprintf("timed out acquiring lock on %s", path),
		Details: map[string]interface{}{"path": path},
		Cause:   cause,
	}
}

// IOFailureError reports a failed filesystem operation on path.
func IOFailureError(op, path string, cause error) *CoordError {
	return &CoordError{
		Code:    CodeIOFailure,
		Message: fmt.Sprintf("%s failed for %s", op, path),
		Details: map[string]interface{}{"op": op, "path": path},
		Cause:   cause,
	}
}

// InvalidTransitionError reports a rejected task status transition.
func InvalidTransitionError(taskID, from, to string) *CoordError {
	return &CoordError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("task %s cannot move from %q to %q", taskID, from, to),
		Details: map[string]interface{}{"taskId": taskID, "from": from, "to": to},
	}
}
