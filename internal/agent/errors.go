package agent

import (
	"errors"
	"fmt"
	"time"
)

// Error codes carried by AgentError.
const (
	CodeInternal     = "internal"
	CodePanic        = "panic"
	CodeDisposed     = "disposed"
	CodeCanceled     = "canceled"
	CodeUnavailable  = "unavailable"
	CodeParse        = "parse_error"
	CodeEmptyDataset = "empty_dataset"
	CodeMissingCol   = "missing_column"
	CodeIncompatible = "incompatible_column"
	CodeStepFailed   = "step_failed"
)

// ValidationError means the input was rejected before any work started.
type ValidationError struct {
	Agent   Type
	Message string
}

func (e *ValidationError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("%s: %s", e.Agent, e.Message)
	}
	return e.Message
}

// TimeoutError means the execution exceeded the request timeout.
type TimeoutError struct {
	Agent   Type
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent %s timed out after %s", e.Agent, e.Timeout)
}

// AgentError is an internal failure of an agent.
type AgentError struct {
	AgentType Type
	Code      string
	Message   string
	Details   map[string]any
	Err       error
}

func (e *AgentError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s [%s]: %s: %v", e.AgentType, e.Code, e.Message, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %v", e.AgentType, e.Code, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.AgentType, e.Code, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError builds an AgentError wrapping cause (which may be nil).
func NewAgentError(t Type, code, msg string, cause error) *AgentError {
	return &AgentError{AgentType: t, Code: code, Message: msg, Err: cause}
}

// WithDetail attaches a machine-readable detail and returns e.
func (e *AgentError) WithDetail(key string, value any) *AgentError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AgentValidationError means the input was well-formed but semantically
// unusable, e.g. a profile without columns.
type AgentValidationError struct {
	AgentType Type
	Field     string
	Message   string
}

func (e *AgentValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.AgentType, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.AgentType, e.Message)
}

// IsRetryable reports whether a caller may reasonably retry after err.
// Timeouts and unavailable agents are retryable; validation failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ave *AgentValidationError
	if errors.As(err, &ave) {
		return false
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code == CodeUnavailable
	}
	return false
}
