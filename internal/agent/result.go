package agent

import "time"

// Result is the terminal value of every agent invocation. Failures are
// carried in Error; nothing is thrown past the agent boundary.
type Result[T any] struct {
	Success  bool
	Data     T
	Error    error
	Metrics  Metrics
	Warnings []string
}

// Metrics describes one execution.
type Metrics struct {
	ExecutionTime time.Duration
	// MemoryUsed is the process-wide allocation delta during the execution,
	// so it is approximate when executions overlap.
	MemoryUsed uint64
	CacheHit   bool
}

// Unwrap returns the data or the failure, for callers that want error
// semantics.
func (r Result[T]) Unwrap() (T, error) {
	if !r.Success {
		var zero T
		return zero, r.Error
	}
	return r.Data, nil
}

// ErrorMessage returns the failure message or "".
func (r Result[T]) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

func failed[T any](err error) Result[T] {
	return Result[T]{Success: false, Error: err}
}
