// Package agent provides the execution framework shared by every analysis
// agent: per-request execution contexts, uniform results, typed errors,
// timeout racing with cooperative cancellation, health accounting and an
// opt-in retry helper.
package agent

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout applies when a request does not set its own.
const DefaultTimeout = 30 * time.Second

// Type identifies an agent implementation in the orchestrator registry.
type Type string

const (
	TypeProfiler         Type = "data-profiler"
	TypeQueryPlanner     Type = "query-planner"
	TypeSemanticExecutor Type = "semantic-executor"
)

// ExecutionContext is created once per request and passed by pointer through
// the call chain. It is never mutated after NewExecutionContext returns.
type ExecutionContext struct {
	RequestID string
	UserID    string
	SessionID string
	StartTime time.Time
	Timeout   time.Duration
}

// ContextOption customizes a new ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithUserID sets the requesting user.
func WithUserID(id string) ContextOption {
	return func(ec *ExecutionContext) { ec.UserID = id }
}

// WithSessionID sets the session the request belongs to.
func WithSessionID(id string) ContextOption {
	return func(ec *ExecutionContext) { ec.SessionID = id }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ContextOption {
	return func(ec *ExecutionContext) {
		if d > 0 {
			ec.Timeout = d
		}
	}
}

// NewExecutionContext builds the context for one request. An empty requestID
// is replaced by a random one.
func NewExecutionContext(requestID string, opts ...ContextOption) *ExecutionContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ec := &ExecutionContext{
		RequestID: requestID,
		StartTime: time.Now(),
		Timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// Elapsed reports the time since the request started.
func (ec *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ec.StartTime)
}
