package models

import (
	"fmt"
	"time"
)

// IntentType classifies what a natural-language question asks for.
type IntentType string

const (
	IntentProfile     IntentType = "profile"
	IntentTrend       IntentType = "trend"
	IntentComparison  IntentType = "comparison"
	IntentAggregation IntentType = "aggregation"
	IntentFilter      IntentType = "filter"
	IntentCustom      IntentType = "custom"
)

// AggregationFunc is the reducer applied by an aggregate step.
type AggregationFunc string

const (
	AggSum    AggregationFunc = "sum"
	AggAvg    AggregationFunc = "avg"
	AggCount  AggregationFunc = "count"
	AggMin    AggregationFunc = "min"
	AggMax    AggregationFunc = "max"
	AggMedian AggregationFunc = "median"
	AggMode   AggregationFunc = "mode"
)

// FilterOperator is a typed comparison used by filter steps.
type FilterOperator string

const (
	OpEq         FilterOperator = "eq"
	OpNe         FilterOperator = "ne"
	OpGt         FilterOperator = "gt"
	OpLt         FilterOperator = "lt"
	OpGte        FilterOperator = "gte"
	OpLte        FilterOperator = "lte"
	OpIn         FilterOperator = "in"
	OpNotIn      FilterOperator = "not_in"
	OpContains   FilterOperator = "contains"
	OpStartsWith FilterOperator = "starts_with"
	OpEndsWith   FilterOperator = "ends_with"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// QueryIntent is the structured reading of one question.
type QueryIntent struct {
	Type          IntentType         `json:"type"`
	Query         string             `json:"query"`
	Entities      QueryEntities      `json:"entities"`
	Operation     QueryOperation     `json:"operation"`
	Visualization *VisualizationHint `json:"visualization,omitempty"`
	Confidence    float64            `json:"confidence"`
}

// QueryEntities are the schema elements a question refers to.
type QueryEntities struct {
	Measures   []string          `json:"measures,omitempty"`
	Dimensions []string          `json:"dimensions,omitempty"`
	Filters    []FilterCondition `json:"filters,omitempty"`
	TimeRange  *TimeRange        `json:"timeRange,omitempty"`
}

// FilterCondition compares a column against a value. Value is a float64 for
// numeric columns, a bool for boolean columns, a []string for in/not_in and a
// string otherwise (RFC3339 for datetimes).
type FilterCondition struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// TimeRange bounds a datetime column; either end may be zero (open).
type TimeRange struct {
	Column string    `json:"column"`
	Start  time.Time `json:"start,omitzero"`
	End    time.Time `json:"end,omitzero"`
}

// QueryOperation is the shape of the computation requested.
type QueryOperation struct {
	GroupBy     []string        `json:"groupBy,omitempty"`
	Aggregation AggregationFunc `json:"aggregation,omitempty"`
	Sort        []SortKey       `json:"sort,omitempty"`
	Limit       int             `json:"limit,omitempty"`
}

// SortKey is one key of a multi-key sort.
type SortKey struct {
	Column    string        `json:"column"`
	Direction SortDirection `json:"direction"`
}

// VisualizationHint is a structural chart suggestion; nothing is rendered.
type VisualizationHint struct {
	ChartType string `json:"chartType"`
	X         string `json:"x,omitempty"`
	Y         string `json:"y,omitempty"`
}

// StepKind names the operation a plan step performs.
type StepKind string

const (
	StepLoad      StepKind = "load"
	StepFilter    StepKind = "filter"
	StepAggregate StepKind = "aggregate"
	StepSort      StepKind = "sort"
	StepLimit     StepKind = "limit"
	StepTransform StepKind = "transform"
	StepCache     StepKind = "cache"
)

// ExecutionPlan is a DAG of steps; DependsOn only references earlier steps.
type ExecutionPlan struct {
	ID            string     `json:"id"`
	Steps         []PlanStep `json:"steps"`
	EstimatedTime float64    `json:"estimatedTimeMs"`
	EstimatedCost float64    `json:"estimatedCost"`
	CacheKey      string     `json:"cacheKey,omitempty"`
	FallbackToLLM bool       `json:"fallbackToLLM"`
	Optimizations []string   `json:"optimizations,omitempty"`
}

// PlanStep is one node of an ExecutionPlan.
type PlanStep struct {
	ID            string     `json:"id"`
	Kind          StepKind   `json:"kind"`
	Operation     string     `json:"operation"`
	Params        StepParams `json:"params"`
	EstimatedTime float64    `json:"estimatedTimeMs"`
	DependsOn     []string   `json:"dependsOn,omitempty"`
}

// StepParams carries the typed parameters of every step kind; each kind reads
// only its own fields.
type StepParams struct {
	// load
	Columns []string `json:"columns,omitempty"`
	Source  string   `json:"source,omitempty"`
	// filter
	Filters   []FilterCondition `json:"filters,omitempty"`
	TimeRange *TimeRange        `json:"timeRange,omitempty"`
	// aggregate
	GroupBy     []string        `json:"groupBy,omitempty"`
	Measures    []string        `json:"measures,omitempty"`
	Aggregation AggregationFunc `json:"aggregation,omitempty"`
	TimeBucket  string          `json:"timeBucket,omitempty"`
	// sort
	Sort []SortKey `json:"sort,omitempty"`
	// limit
	Limit int `json:"limit,omitempty"`
	// transform
	Derive []DerivedField `json:"derive,omitempty"`
	// cache
	CacheKey string `json:"cacheKey,omitempty"`
}

// Load sources.
const (
	SourceSample       = "sample"
	SourceAggregations = "aggregations"
)

// DerivedField is a computed column added by a transform step.
type DerivedField struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
}

// Derived field kinds.
const (
	DeriveShare  = "share"
	DeriveChange = "change"
	DeriveRank   = "rank"
)

// Validate enforces unique step ids and dependencies on earlier steps only,
// which makes the declared order a valid topological order.
func (p *ExecutionPlan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d: empty id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %s: duplicate id", s.ID)
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("step %s: depends on itself", s.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("step %s: dependency %s is not an earlier step", s.ID, dep)
			}
		}
		seen[s.ID] = true
	}
	return nil
}

// QueryPlannerResult is the output of the query-planning agent.
type QueryPlannerResult struct {
	QueryIntent   *QueryIntent   `json:"queryIntent"`
	ExecutionPlan *ExecutionPlan `json:"executionPlan"`
}

// AnalysisResult is the output of the semantic executor.
type AnalysisResult struct {
	Columns     []string           `json:"columns"`
	Data        []map[string]any   `json:"data"`
	Insights    []GeneratedInsight `json:"insights,omitempty"`
	Metadata    ResultMetadata     `json:"metadata"`
	Suggestions []ChartSuggestion  `json:"suggestions,omitempty"`
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	ExecutionTime float64  `json:"executionTimeMs"`
	DataPoints    int      `json:"dataPoints"`
	CacheHit      bool     `json:"cacheHit"`
	CacheKey      string   `json:"cacheKey,omitempty"`
	AgentPath     []string `json:"agentPath"`
	StepsExecuted []string `json:"stepsExecuted,omitempty"`
}

// InsightType classifies a generated insight.
type InsightType string

const (
	InsightSummary        InsightType = "summary"
	InsightTrend          InsightType = "trend"
	InsightComparison     InsightType = "comparison"
	InsightAnomaly        InsightType = "anomaly"
	InsightRecommendation InsightType = "recommendation"
)

// GeneratedInsight is a finding derived from a result.
type GeneratedInsight struct {
	Type        InsightType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
}

// ChartSuggestion is a structural chart hint.
type ChartSuggestion struct {
	ChartType string `json:"chartType"`
	X         string `json:"x,omitempty"`
	Y         string `json:"y,omitempty"`
	Reason    string `json:"reason"`
}

// Clone returns a deep copy of r; rows hold scalar cells, so copying each row
// map is enough.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Columns = append([]string(nil), r.Columns...)
	if r.Data != nil {
		out.Data = make([]map[string]any, len(r.Data))
		for i, row := range r.Data {
			cp := make(map[string]any, len(row))
			for k, v := range row {
				cp[k] = v
			}
			out.Data[i] = cp
		}
	}
	out.Insights = append([]GeneratedInsight(nil), r.Insights...)
	out.Suggestions = append([]ChartSuggestion(nil), r.Suggestions...)
	out.Metadata.AgentPath = append([]string(nil), r.Metadata.AgentPath...)
	out.Metadata.StepsExecuted = append([]string(nil), r.Metadata.StepsExecuted...)
	return &out
}

// WasCacheHit reports whether the result was served from the plan cache.
func (r *AnalysisResult) WasCacheHit() bool { return r != nil && r.Metadata.CacheHit }

// AggregateColumn names the output column of fn applied to measure. A count
// without a measure is "count".
func AggregateColumn(fn AggregationFunc, measure string) string {
	if measure == "" {
		return string(fn)
	}
	return string(fn) + "_" + measure
}
