// Package orchestrator is the composition root of the analysis engine. It
// keeps one agent per type, creates missing agents lazily from factories and
// chains the planner and executor to answer questions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/executor"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
	"github.com/KaramelBytes/tabsense-cli/internal/planner"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
)

// DefaultResultCacheSize bounds the in-memory result cache.
const DefaultResultCacheSize = 128

// Factory builds an agent on first use.
type Factory func() agent.Lifecycle

// Options configures an Orchestrator.
type Options struct {
	// Factories create agents that were not registered explicitly.
	Factories map[agent.Type]Factory
	// RetryMaxAttempts above 1 retries retryable planner and executor
	// failures through agent.RetryExecution.
	RetryMaxAttempts int
	RetryDelay       time.Duration
	// ResultCacheSize is the number of answers kept for the plan cache step;
	// negative disables it.
	ResultCacheSize int
}

// DefaultFactories wires the built-in agents.
func DefaultFactories(pc profiler.Config, plc planner.Config, rc agent.RunnerConfig) map[agent.Type]Factory {
	return map[agent.Type]Factory{
		agent.TypeProfiler:         func() agent.Lifecycle { return profiler.NewRunner(pc, rc) },
		agent.TypeQueryPlanner:     func() agent.Lifecycle { return planner.NewRunner(plc, rc) },
		agent.TypeSemanticExecutor: func() agent.Lifecycle { return executor.NewRunner(rc) },
	}
}

// DefaultOptions uses the built-in agents with default configuration and no
// retries.
func DefaultOptions() Options {
	return Options{
		Factories:        DefaultFactories(profiler.DefaultConfig(), planner.DefaultConfig(), agent.DefaultRunnerConfig()),
		RetryMaxAttempts: 1,
		ResultCacheSize:  DefaultResultCacheSize,
	}
}

// Orchestrator owns the agent registry. It is safe for concurrent use.
type Orchestrator struct {
	opts Options

	mu     sync.RWMutex
	agents map[agent.Type]agent.Lifecycle
	closed bool

	results      *lru.Cache[string, *models.AnalysisResult]
	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns an orchestrator with an empty registry.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{opts: opts, agents: map[agent.Type]agent.Lifecycle{}}
	size := opts.ResultCacheSize
	if size == 0 {
		size = DefaultResultCacheSize
	}
	if size > 0 {
		// lru.New only fails on a non-positive size.
		o.results, _ = lru.New[string, *models.AnalysisResult](size)
	}
	return o
}

// RegisterAgent stores a under its type, replacing any earlier instance.
// A replaced instance is disposed.
func (o *Orchestrator) RegisterAgent(a agent.Lifecycle) {
	o.mu.Lock()
	prev, had := o.agents[a.Type()]
	o.agents[a.Type()] = a
	o.mu.Unlock()
	if had && prev != a {
		if err := prev.Dispose(); err != nil {
			log.Warn().Err(err).Str("agent", string(a.Type())).Msg("disposing replaced agent")
		}
	}
	log.Debug().Str("agent", string(a.Type())).Bool("replaced", had).Msg("agent registered")
}

// GetAgent returns the registered agent of type t.
func (o *Orchestrator) GetAgent(t agent.Type) (agent.Lifecycle, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[t]
	return a, ok
}

// ensure returns the agent of type t, creating it from its factory when
// nothing is registered.
func (o *Orchestrator) ensure(t agent.Type) (agent.Lifecycle, error) {
	o.mu.RLock()
	a, ok := o.agents[t]
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil, agent.NewAgentError(t, agent.CodeDisposed, "orchestrator is shut down", nil)
	}
	if ok {
		return a, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, agent.NewAgentError(t, agent.CodeDisposed, "orchestrator is shut down", nil)
	}
	if a, ok := o.agents[t]; ok {
		return a, nil
	}
	f := o.opts.Factories[t]
	if f == nil {
		return nil, agent.NewAgentError(t, agent.CodeUnavailable, "no agent registered and no factory configured", nil)
	}
	a = f()
	if a == nil || a.Type() != t {
		return nil, agent.NewAgentError(t, agent.CodeInternal, "factory built the wrong agent type", nil)
	}
	o.agents[t] = a
	log.Debug().Str("agent", string(t)).Msg("agent created lazily")
	return a, nil
}

// executorFor looks up the agent of type t as an Executor of I to O.
func executorFor[I, O any](o *Orchestrator, t agent.Type) (agent.Executor[I, O], error) {
	a, err := o.ensure(t)
	if err != nil {
		return nil, err
	}
	ex, ok := a.(agent.Executor[I, O])
	if !ok {
		return nil, agent.NewAgentError(t, agent.CodeInternal, fmt.Sprintf("registered %T does not accept this input", a), nil)
	}
	return ex, nil
}

// run executes once and, when configured, retries a retryable failure.
func run[I, O any](ctx context.Context, o *Orchestrator, ex agent.Executor[I, O], in I, ec *agent.ExecutionContext) agent.Result[O] {
	res := ex.Execute(ctx, in, ec)
	if res.Success || o.opts.RetryMaxAttempts <= 1 || !agent.IsRetryable(res.Error) {
		return res
	}
	return agent.RetryExecution(ctx, ex, in, ec, o.opts.RetryMaxAttempts-1, o.opts.RetryDelay)
}

// ProcessDataUpload profiles one uploaded file.
func (o *Orchestrator) ProcessDataUpload(ctx context.Context, in profiler.Input, ec *agent.ExecutionContext) (*models.DataProfile, error) {
	if ec == nil {
		ec = agent.NewExecutionContext("")
	}
	ex, err := executorFor[profiler.Input, *models.DataProfile](o, agent.TypeProfiler)
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, in, ec).Unwrap()
}

// Plan reads a question against a profile without executing it.
func (o *Orchestrator) Plan(ctx context.Context, query string, p *models.DataProfile, ec *agent.ExecutionContext) (*models.QueryPlannerResult, error) {
	if ec == nil {
		ec = agent.NewExecutionContext("")
	}
	ex, err := executorFor[planner.Input, *models.QueryPlannerResult](o, agent.TypeQueryPlanner)
	if err != nil {
		return nil, err
	}
	return run(ctx, o, ex, planner.Input{Query: query, Profile: p}, ec).Unwrap()
}

// Analyze answers a question: the planner compiles it and the executor runs
// the plan. Answers are kept by cache key so a repeated question is served
// by the plan's cache step.
func (o *Orchestrator) Analyze(ctx context.Context, query string, p *models.DataProfile, ec *agent.ExecutionContext) (*models.AnalysisResult, error) {
	if ec == nil {
		ec = agent.NewExecutionContext("")
	}
	planned, err := o.Plan(ctx, query, p, ec)
	if err != nil {
		return nil, err
	}
	ex, err := executorFor[executor.Input, *models.AnalysisResult](o, agent.TypeSemanticExecutor)
	if err != nil {
		return nil, err
	}
	in := executor.Input{Intent: planned.QueryIntent, Profile: p, Plan: planned.ExecutionPlan}
	key := planned.ExecutionPlan.CacheKey
	if o.results != nil && key != "" {
		if cached, ok := o.results.Get(key); ok {
			in.Cached = cached.Clone()
		}
	}
	res, err := run(ctx, o, ex, in, ec).Unwrap()
	if err != nil {
		return nil, err
	}
	if o.results != nil && key != "" && !res.Metadata.CacheHit {
		o.results.Add(key, res.Clone())
	}

	out := res.Clone()
	out.Metadata.AgentPath = append([]string{string(agent.TypeQueryPlanner)}, res.Metadata.AgentPath...)
	log.Debug().
		Str("request_id", ec.RequestID).
		Str("intent", string(planned.QueryIntent.Type)).
		Bool("cache_hit", out.Metadata.CacheHit).
		Int("rows", len(out.Data)).
		Msg("question answered")
	return out, nil
}

// Health reports every registered agent.
func (o *Orchestrator) Health() map[agent.Type]agent.Health {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[agent.Type]agent.Health, len(o.agents))
	for t, a := range o.agents {
		out[t] = a.Health()
	}
	return out
}

// Shutdown disposes every registered agent. Later calls return the first
// result.
func (o *Orchestrator) Shutdown() error {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		agents := make([]agent.Lifecycle, 0, len(o.agents))
		for _, a := range o.agents {
			agents = append(agents, a)
		}
		o.mu.Unlock()

		var errs []error
		for _, a := range agents {
			if err := a.Dispose(); err != nil {
				errs = append(errs, fmt.Errorf("dispose %s: %w", a.Type(), err))
			}
		}
		if o.results != nil {
			o.results.Purge()
		}
		o.shutdownErr = errors.Join(errs...)
		log.Debug().Int("agents", len(agents)).Msg("orchestrator shut down")
	})
	return o.shutdownErr
}
