package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tool registry errors.
var (
	// ErrToolNotFound is returned when no allowed group provides a tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrGroupAlreadyRegistered is returned when registering a duplicate
	// module group.
	ErrGroupAlreadyRegistered = errors.New("tool group already registered")

	// ErrGroupEmpty is returned when a module has no group key.
	ErrGroupEmpty = errors.New("tool group cannot be empty")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrTaskNotFound is returned for an unknown async task id.
	ErrTaskNotFound = errors.New("async task not found")

	// ErrStatusRegression is returned on a backward task status transition.
	ErrStatusRegression = errors.New("async task status cannot move backward")

	// ErrTaskTerminal is returned when transitioning a finished task.
	ErrTaskTerminal = errors.New("async task already terminal")
)

// FailureKind classifies tool failures. Modules must distinguish these and
// the dispatcher passes them through unchanged.
type FailureKind string

const (
	// FailureValidation is a pre-execution failure: malformed arguments,
	// unknown references. Never retried automatically.
	FailureValidation FailureKind = "validation"

	// FailureRuntime is an execution failure: nonzero exit, external
	// process error, captured diagnostics.
	FailureRuntime FailureKind = "runtime"

	// FailureMissingContext means required caller context was absent.
	FailureMissingContext FailureKind = "missing_context"

	// FailureTargetNotFound means a referenced external resource or
	// session is absent.
	FailureTargetNotFound FailureKind = "target_not_found"
)

// ToolError is a structured tool failure. The taxonomy kind and a stable
// machine code survive serialization so callers can branch on them.
type ToolError struct {
	Kind    FailureKind    `json:"kind"`
	Code    string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON renders the error as the boundary envelope {error, message?, details?}.
func (e *ToolError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, e.Code)
	}
	return string(data)
}

// Validation builds a validation failure.
func Validation(code, format string, args ...any) *ToolError {
	return &ToolError{Kind: FailureValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Runtime builds an execution failure.
func Runtime(code, format string, args ...any) *ToolError {
	return &ToolError{Kind: FailureRuntime, Code: code, Message: fmt.Sprintf(format, args...)}
}

// MissingContext builds a missing-caller-context failure.
func MissingContext(code, format string, args ...any) *ToolError {
	return &ToolError{Kind: FailureMissingContext, Code: code, Message: fmt.Sprintf(format, args...)}
}

// TargetNotFound builds a missing-external-target failure.
func TargetNotFound(code, format string, args ...any) *ToolError {
	return &ToolError{Kind: FailureTargetNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}
