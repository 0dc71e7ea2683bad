// Package planner implements the query-planning agent. It reads a natural
// language question against a DataProfile's schema and compiles the typed
// intent into an ExecutionPlan.
package planner

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// DefaultLowConfidenceThreshold is the confidence below which a plan asks
// for the LLM fallback.
const DefaultLowConfidenceThreshold = 0.5

// Input is one question about one profile.
type Input struct {
	Query   string
	Profile *models.DataProfile
}

// Config tunes planning.
type Config struct {
	// Classifier decides the intent type; nil means NewRuleClassifier.
	Classifier             Classifier
	LowConfidenceThreshold float64
	// CacheStep prefixes plans with a cache lookup step.
	CacheStep bool
}

// DefaultConfig returns the rule classifier with the default threshold and
// cache steps enabled.
func DefaultConfig() Config {
	return Config{
		Classifier:             NewRuleClassifier(),
		LowConfidenceThreshold: DefaultLowConfidenceThreshold,
		CacheStep:              true,
	}
}

// Agent plans queries. It is stateless and safe for concurrent use.
type Agent struct {
	cfg Config
}

// New returns a planner, filling unset fields from DefaultConfig.
func New(cfg Config) *Agent {
	if cfg.Classifier == nil {
		cfg.Classifier = NewRuleClassifier()
	}
	if cfg.LowConfidenceThreshold <= 0 || cfg.LowConfidenceThreshold > 1 {
		cfg.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	return &Agent{cfg: cfg}
}

// NewRunner wraps a new planner in the execution framework.
func NewRunner(cfg Config, rc agent.RunnerConfig) *agent.Runner[Input, *models.QueryPlannerResult] {
	return agent.NewRunner[Input, *models.QueryPlannerResult](New(cfg), rc)
}

func (a *Agent) Type() agent.Type { return agent.TypeQueryPlanner }

// ValidateInput requires a profile and a non-blank question.
func (a *Agent) ValidateInput(in Input) bool {
	return in.Profile != nil && strings.TrimSpace(in.Query) != ""
}

func (a *Agent) ExecuteInternal(ctx context.Context, in Input, ec *agent.ExecutionContext) (*models.QueryPlannerResult, error) {
	p := in.Profile
	if len(p.Schema.Columns) == 0 {
		return nil, &agent.AgentValidationError{AgentType: a.Type(), Field: "profile", Message: "profile has no columns"}
	}
	intent, r := a.read(in.Query, p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := compile(intent, r, p, a.cfg.CacheStep)
	if err != nil {
		return nil, agent.NewAgentError(a.Type(), agent.CodeInternal, "compiled plan is invalid", err)
	}
	plan.FallbackToLLM = intent.Type == models.IntentCustom || intent.Confidence < a.cfg.LowConfidenceThreshold

	log.Debug().
		Str("request_id", ec.RequestID).
		Str("intent", string(intent.Type)).
		Float64("confidence", intent.Confidence).
		Int("steps", len(plan.Steps)).
		Strs("optimizations", plan.Optimizations).
		Bool("fallback", plan.FallbackToLLM).
		Msg("query planned")
	return &models.QueryPlannerResult{QueryIntent: intent, ExecutionPlan: plan}, nil
}

// read turns the question into a QueryIntent and the operation details
// the compiler needs.
func (a *Agent) read(query string, p *models.DataProfile) (*models.QueryIntent, reading) {
	q := normalizeQuery(query)
	c := a.cfg.Classifier.Classify(q)
	x := extract(q, p)
	r := readOperation(q, x, c.Type, p)
	t := refineType(c.Type, x, &r)
	settle(t, x, &r)

	switch t {
	case models.IntentCustom:
		r = reading{}
	case models.IntentProfile:
		r = reading{limit: r.limit}
	}

	intent := &models.QueryIntent{
		Type:  t,
		Query: q,
		Entities: models.QueryEntities{
			Measures:   x.measures(),
			Dimensions: x.dimensions(),
			Filters:    x.filters,
			TimeRange:  x.timeRange,
		},
		Operation: models.QueryOperation{
			Aggregation: r.fn,
			Sort:        r.sort,
			Limit:       r.limit,
		},
		Confidence: confidence(t, c, x, r),
	}
	if r.fn != "" {
		intent.Operation.GroupBy = r.groupBy
	}
	intent.Operation.Sort = resolveSortKeys(intent.Operation, intent.Entities.Measures)
	if t != models.IntentCustom {
		intent.Visualization = visualization(t, r, primaryColumn(intent.Operation, intent.Entities.Measures))
	}
	return intent, r
}
