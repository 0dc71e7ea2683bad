// Package executor implements the semantic-executor agent: it runs an
// ExecutionPlan against a DataProfile's sample and precomputed aggregates.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

var tracer = otel.Tracer("github.com/KaramelBytes/tabsense-cli/internal/executor")

// planStepsTotal counts executed plan steps by kind
var planStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tabsense_plan_steps_total",
	Help: "Total plan steps executed by step kind",
}, []string{"kind"})

// Input is one plan to run. Cached, when set, is a result the caller already
// holds; a cache step whose key matches it short-circuits the plan.
type Input struct {
	Intent  *models.QueryIntent
	Profile *models.DataProfile
	Plan    *models.ExecutionPlan
	Cached  *models.AnalysisResult
}

// Agent executes plans. It keeps no state between executions.
type Agent struct{}

// New returns an executor.
func New() *Agent { return &Agent{} }

// NewRunner wraps a new executor in the execution framework.
func NewRunner(rc agent.RunnerConfig) *agent.Runner[Input, *models.AnalysisResult] {
	return agent.NewRunner[Input, *models.AnalysisResult](New(), rc)
}

func (a *Agent) Type() agent.Type { return agent.TypeSemanticExecutor }

func (a *Agent) ValidateInput(in Input) bool {
	return in.Intent != nil && in.Profile != nil && in.Plan != nil && len(in.Plan.Steps) > 0
}

// run is the mutable state of one execution.
type run struct {
	in         Input
	frames     map[string]*frame
	dataPoints int
	sampled    bool
	executed   []string
	hit        *models.AnalysisResult
}

func (a *Agent) ExecuteInternal(ctx context.Context, in Input, ec *agent.ExecutionContext) (*models.AnalysisResult, error) {
	start := time.Now()
	if err := in.Plan.Validate(); err != nil {
		return nil, &agent.AgentValidationError{AgentType: a.Type(), Field: "plan", Message: err.Error()}
	}

	r := &run{in: in, frames: make(map[string]*frame, len(in.Plan.Steps))}
	var last *frame
	completed := make(map[string]bool, len(in.Plan.Steps))
	for len(completed) < len(in.Plan.Steps) {
		// Find the first step whose dependencies have all completed.
		var next *models.PlanStep
		for i := range in.Plan.Steps {
			s := &in.Plan.Steps[i]
			if completed[s.ID] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !completed[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = s
				break
			}
		}
		if next == nil {
			return nil, agent.NewAgentError(a.Type(), agent.CodeStepFailed, "no step is ready but the plan is incomplete", nil)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := a.runStep(ctx, r, *next)
		if err != nil {
			return nil, err
		}
		completed[next.ID] = true
		r.executed = append(r.executed, next.ID)
		planStepsTotal.WithLabelValues(string(next.Kind)).Inc()
		if r.hit != nil {
			return a.cacheHit(r, start), nil
		}
		if out != nil {
			r.frames[next.ID] = out
			last = out
		}
	}
	if last == nil {
		return nil, agent.NewAgentError(a.Type(), agent.CodeStepFailed, "plan produced no data", nil)
	}

	ii := insightInput{intent: in.Intent, plan: in.Plan, profile: in.Profile, result: last, sampled: r.sampled}
	res := &models.AnalysisResult{
		Columns:     last.columns,
		Data:        make([]map[string]any, 0, len(last.rows)),
		Insights:    generateInsights(ii),
		Suggestions: suggestCharts(ii),
		Metadata: models.ResultMetadata{
			ExecutionTime: float64(time.Since(start).Microseconds()) / 1000,
			DataPoints:    r.dataPoints,
			CacheKey:      in.Plan.CacheKey,
			AgentPath:     []string{string(a.Type())},
			StepsExecuted: r.executed,
		},
	}
	for _, row := range last.rows {
		cp := make(map[string]any, len(last.columns))
		for _, c := range last.columns {
			cp[c] = outputCell(row[c])
		}
		res.Data = append(res.Data, cp)
	}

	log.Debug().
		Str("request_id", ec.RequestID).
		Str("plan_id", in.Plan.ID).
		Int("steps", len(r.executed)).
		Int("rows", len(res.Data)).
		Int("data_points", r.dataPoints).
		Msg("plan executed")
	return res, nil
}

// runStep executes one step against the frame of its last dependency.
func (a *Agent) runStep(ctx context.Context, r *run, s models.PlanStep) (*frame, error) {
	_, span := tracer.Start(ctx, "executor.step")
	span.SetAttributes(attribute.String("step.id", s.ID), attribute.String("step.kind", string(s.Kind)))
	defer span.End()

	var input *frame
	if n := len(s.DependsOn); n > 0 {
		input = r.frames[s.DependsOn[n-1]]
	}
	needInput := func() error {
		if input == nil {
			return stepError(s, agent.CodeStepFailed, "no input rows: step must depend on a load")
		}
		return nil
	}

	switch s.Kind {
	case models.StepCache:
		if c := r.in.Cached; c != nil && s.Params.CacheKey != "" && c.Metadata.CacheKey == s.Params.CacheKey {
			r.hit = c
		}
		return input, nil
	case models.StepLoad:
		if s.Params.Source == models.SourceAggregations {
			f, points, err := loadAggregations(s, r.in.Profile)
			if err != nil {
				return nil, err
			}
			r.dataPoints = points
			return f, nil
		}
		if s.Params.Source != "" && s.Params.Source != models.SourceSample {
			return nil, stepError(s, agent.CodeIncompatible, "unknown load source %q", s.Params.Source)
		}
		f, err := loadSample(s, r.in.Profile)
		if err != nil {
			return nil, err
		}
		r.dataPoints = len(f.rows)
		r.sampled = true
		return f, nil
	case models.StepFilter:
		if err := needInput(); err != nil {
			return nil, err
		}
		return applyFilter(s, input)
	case models.StepAggregate:
		if err := needInput(); err != nil {
			return nil, err
		}
		return aggregate(s, input)
	case models.StepSort:
		if err := needInput(); err != nil {
			return nil, err
		}
		return sortFrame(s, input)
	case models.StepLimit:
		if err := needInput(); err != nil {
			return nil, err
		}
		return limitFrame(s, input)
	case models.StepTransform:
		if err := needInput(); err != nil {
			return nil, err
		}
		return transform(s, input)
	}
	return nil, stepError(s, agent.CodeStepFailed, "unknown step kind %q", s.Kind)
}

// cacheHit returns the caller's cached result stamped for this request.
func (a *Agent) cacheHit(r *run, start time.Time) *models.AnalysisResult {
	cp := *r.hit
	cp.Metadata.CacheHit = true
	cp.Metadata.ExecutionTime = float64(time.Since(start).Microseconds()) / 1000
	cp.Metadata.AgentPath = []string{string(a.Type())}
	cp.Metadata.StepsExecuted = append([]string(nil), r.executed...)
	log.Debug().Str("cache_key", cp.Metadata.CacheKey).Msg("plan served from cache")
	return &cp
}

// Describe renders a one-line summary of a step for logs and the CLI.
func Describe(s models.PlanStep) string {
	switch s.Kind {
	case models.StepLoad:
		return fmt.Sprintf("load %d columns from %s", len(s.Params.Columns), s.Params.Source)
	case models.StepFilter:
		return fmt.Sprintf("filter on %d conditions", len(s.Params.Filters)+boolCount(s.Params.TimeRange != nil))
	case models.StepAggregate:
		return fmt.Sprintf("%s of %v by %v", s.Params.Aggregation, s.Params.Measures, s.Params.GroupBy)
	case models.StepSort:
		return fmt.Sprintf("sort by %d keys", len(s.Params.Sort))
	case models.StepLimit:
		return fmt.Sprintf("keep first %d rows", s.Params.Limit)
	case models.StepTransform:
		return fmt.Sprintf("derive %d fields", len(s.Params.Derive))
	case models.StepCache:
		return "check cache " + s.Params.CacheKey
	}
	return string(s.Kind)
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
