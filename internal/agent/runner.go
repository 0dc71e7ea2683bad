package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/KaramelBytes/tabsense-cli/internal/agent")

// Agent is the capability every pipeline stage implements. ExecuteInternal
// must observe ctx: it is cancelled when the request times out or the
// runner is disposed.
type Agent[I, O any] interface {
	Type() Type
	ValidateInput(in I) bool
	ExecuteInternal(ctx context.Context, in I, ec *ExecutionContext) (O, error)
}

// Executor is anything that produces a Result for an input.
type Executor[I, O any] interface {
	Execute(ctx context.Context, in I, ec *ExecutionContext) Result[O]
}

// Lifecycle is the type-erased view of a runner kept by the orchestrator.
type Lifecycle interface {
	Type() Type
	Health() Health
	Dispose() error
}

// Disposer is implemented by agents holding resources of their own.
type Disposer interface {
	Dispose() error
}

// RunnerConfig tunes health reporting.
type RunnerConfig struct {
	// MinSuccessRate is the lowest success rate still reported healthy.
	MinSuccessRate float64
}

// DefaultRunnerConfig returns the defaults used by the CLI.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{MinSuccessRate: 0.9}
}

// Runner wraps an Agent with validation, timeout racing, error capture and
// health accounting. It is safe for concurrent use.
type Runner[I, O any] struct {
	impl Agent[I, O]
	cfg  RunnerConfig

	life   context.Context
	cancel context.CancelFunc

	total    atomic.Int64
	errs     atomic.Int64
	disposed atomic.Bool

	disposeOnce sync.Once
	disposeErr  error
}

// NewRunner wraps impl.
func NewRunner[I, O any](impl Agent[I, O], cfg RunnerConfig) *Runner[I, O] {
	if cfg.MinSuccessRate <= 0 || cfg.MinSuccessRate > 1 {
		cfg.MinSuccessRate = DefaultRunnerConfig().MinSuccessRate
	}
	life, cancel := context.WithCancel(context.Background())
	return &Runner[I, O]{impl: impl, cfg: cfg, life: life, cancel: cancel}
}

// Type reports the wrapped agent's type.
func (r *Runner[I, O]) Type() Type { return r.impl.Type() }

type outcome[O any] struct {
	data O
	err  error
}

// Execute runs the agent once. It never panics and never returns before the
// health counters reflect this execution.
func (r *Runner[I, O]) Execute(ctx context.Context, in I, ec *ExecutionContext) Result[O] {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if ec == nil {
		ec = NewExecutionContext("")
	}
	agentType := r.impl.Type()
	ctx, span := tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.type", string(agentType)),
		attribute.String("request.id", ec.RequestID),
	))
	defer span.End()

	allocBefore := heapAllocBytes()
	res, label := r.execute(ctx, in, ec)
	res.Metrics.ExecutionTime = time.Since(start)
	if after := heapAllocBytes(); after > allocBefore {
		res.Metrics.MemoryUsed = after - allocBefore
	}

	// Counters are only touched here, in the caller's goroutine, so work that
	// outlives a timeout cannot change them after the caller has its result.
	r.total.Add(1)
	if !res.Success {
		r.errs.Add(1)
	}
	executionsTotal.WithLabelValues(string(agentType), label).Inc()
	executionDuration.WithLabelValues(string(agentType)).Observe(res.Metrics.ExecutionTime.Seconds())

	if res.Success {
		log.Debug().
			Str("agent", string(agentType)).
			Str("request_id", ec.RequestID).
			Dur("elapsed", res.Metrics.ExecutionTime).
			Msg("agent execution succeeded")
	} else {
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, res.ErrorMessage())
		log.Warn().
			Err(res.Error).
			Str("agent", string(agentType)).
			Str("request_id", ec.RequestID).
			Str("result", label).
			Dur("elapsed", res.Metrics.ExecutionTime).
			Msg("agent execution failed")
	}
	return res
}

func (r *Runner[I, O]) execute(ctx context.Context, in I, ec *ExecutionContext) (Result[O], string) {
	agentType := r.impl.Type()
	if r.disposed.Load() {
		return failed[O](NewAgentError(agentType, CodeDisposed, "agent has been disposed", nil)), resultDisposed
	}
	if !r.validate(in) {
		return failed[O](&ValidationError{Agent: agentType, Message: "Invalid input"}), resultInvalid
	}

	timeout := ec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(r.life, cancel)
	defer stop()

	done := make(chan outcome[O], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[O]{err: NewAgentError(agentType, CodePanic, fmt.Sprintf("recovered panic: %v", p), nil)}
			}
		}()
		data, err := r.impl.ExecuteInternal(runCtx, in, ec)
		done <- outcome[O]{data: data, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if runCtx.Err() != nil && (errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled)) {
				return r.interrupted(ctx, runCtx, timeout)
			}
			return failed[O](o.err), resultError
		}
		res := Result[O]{Success: true, Data: o.data}
		if ch, ok := any(o.data).(interface{ WasCacheHit() bool }); ok {
			res.Metrics.CacheHit = ch.WasCacheHit()
		}
		return res, resultSuccess
	case <-runCtx.Done():
		return r.interrupted(ctx, runCtx, timeout)
	}
}

// interrupted classifies a run whose context ended before the work returned.
func (r *Runner[I, O]) interrupted(parent, runCtx context.Context, timeout time.Duration) (Result[O], string) {
	agentType := r.impl.Type()
	switch {
	case r.disposed.Load():
		return failed[O](NewAgentError(agentType, CodeDisposed, "agent disposed during execution", runCtx.Err())), resultDisposed
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failed[O](&TimeoutError{Agent: agentType, Timeout: timeout}), resultTimeout
	default:
		return failed[O](NewAgentError(agentType, CodeCanceled, "execution canceled", parent.Err())), resultCanceled
	}
}

func (r *Runner[I, O]) validate(in I) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	return r.impl.ValidateInput(in)
}

// Health reports running success statistics.
func (r *Runner[I, O]) Health() Health {
	now := time.Now()
	// errs is loaded before total: total is always incremented first.
	errs := r.errs.Load()
	total := r.total.Load()
	rate := 1.0
	if total > 0 {
		rate = float64(total-errs) / float64(total)
		if rate < 0 {
			rate = 0
		}
	}
	return Health{
		Healthy: !r.disposed.Load() && rate >= r.cfg.MinSuccessRate,
		Metrics: HealthMetrics{
			TotalExecutions: total,
			ErrorCount:      errs,
			SuccessRate:     rate,
		},
		LastCheck: now,
	}
}

// Dispose cancels in-flight work and releases the wrapped agent's resources.
// It is idempotent.
func (r *Runner[I, O]) Dispose() error {
	r.disposeOnce.Do(func() {
		r.disposed.Store(true)
		r.cancel()
		if d, ok := any(r.impl).(Disposer); ok {
			r.disposeErr = d.Dispose()
		}
		log.Debug().Str("agent", string(r.impl.Type())).Msg("agent disposed")
	})
	return r.disposeErr
}

// Health is the liveness view of one agent instance.
type Health struct {
	Healthy   bool          `json:"healthy"`
	Metrics   HealthMetrics `json:"metrics"`
	LastCheck time.Time     `json:"lastCheck"`
}

// HealthMetrics are the counters behind Health.
type HealthMetrics struct {
	TotalExecutions int64   `json:"totalExecutions"`
	ErrorCount      int64   `json:"errorCount"`
	SuccessRate     float64 `json:"successRate"`
}

var heapAllocSample = "/gc/heap/allocs:bytes"

func heapAllocBytes() uint64 {
	s := []metrics.Sample{{Name: heapAllocSample}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}
