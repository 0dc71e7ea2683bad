package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
)

func salesProfile(t *testing.T) *models.DataProfile {
	t.Helper()
	regions := []string{"north", "south", "east"}
	categories := []string{"hardware", "software", "services"}
	var b strings.Builder
	b.WriteString("date,region,category,revenue,units,returned\n")
	for i := 0; i < 12; i++ {
		returned := "no"
		if i%4 == 0 {
			returned = "yes"
		}
		fmt.Fprintf(&b, "2024-%02d-01,%s,%s,%d.5,%d,%s\n", i+1, regions[i%3], categories[(i/2)%3], 100+i*10, 5+i, returned)
	}
	a := profiler.New(profiler.DefaultConfig())
	p, err := a.ExecuteInternal(context.Background(), profiler.Input{Buffer: []byte(b.String()), Name: "sales.csv"}, agent.NewExecutionContext("fixture"))
	require.NoError(t, err)
	return p
}

func plan(t *testing.T, p *models.DataProfile, query string) *models.QueryPlannerResult {
	t.Helper()
	r := NewRunner(DefaultConfig(), agent.DefaultRunnerConfig())
	defer r.Dispose()
	res := r.Execute(context.Background(), Input{Query: query, Profile: p}, agent.NewExecutionContext(""))
	require.True(t, res.Success, res.ErrorMessage())
	require.NoError(t, res.Data.ExecutionPlan.Validate())
	return res.Data
}

func stepKinds(p *models.ExecutionPlan) []models.StepKind {
	var out []models.StepKind
	for _, s := range p.Steps {
		out = append(out, s.Kind)
	}
	return out
}

func step(t *testing.T, p *models.ExecutionPlan, kind models.StepKind) models.PlanStep {
	t.Helper()
	for _, s := range p.Steps {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("plan has no %s step", kind)
	return models.PlanStep{}
}

func TestPlan_TrendOverTime(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "Show the revenue trend over time")

	in := res.QueryIntent
	assert.Equal(t, models.IntentTrend, in.Type)
	assert.Equal(t, []string{"revenue"}, in.Entities.Measures)
	assert.Equal(t, []string{"date"}, in.Operation.GroupBy)
	assert.Equal(t, models.AggSum, in.Operation.Aggregation)
	assert.GreaterOrEqual(t, in.Confidence, 0.5)
	require.NotNil(t, in.Visualization)
	assert.Equal(t, "line", in.Visualization.ChartType)

	ep := res.ExecutionPlan
	assert.False(t, ep.FallbackToLLM)
	assert.Equal(t, []models.StepKind{models.StepCache, models.StepLoad, models.StepAggregate, models.StepSort}, stepKinds(ep))
	agg := step(t, ep, models.StepAggregate)
	assert.Equal(t, "month", agg.Params.TimeBucket)
	assert.Equal(t, []models.SortKey{{Column: "date", Direction: models.SortAsc}}, step(t, ep, models.StepSort).Params.Sort)
}

func TestPlan_StepsDependOnPredecessor(t *testing.T) {
	p := salesProfile(t)
	ep := plan(t, p, "top 2 regions by average units where revenue > 120").ExecutionPlan
	require.NotEmpty(t, ep.Steps)
	assert.Empty(t, ep.Steps[0].DependsOn)
	for i := 1; i < len(ep.Steps); i++ {
		assert.Equal(t, []string{ep.Steps[i-1].ID}, ep.Steps[i].DependsOn)
	}
	assert.Greater(t, ep.EstimatedTime, 0.0)
	assert.Greater(t, ep.EstimatedCost, 0.0)
}

func TestPlan_ComparisonUsesPrecomputedAggregates(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "compare total revenue by region")

	assert.Equal(t, models.IntentComparison, res.QueryIntent.Type)
	assert.Equal(t, []string{"region"}, res.QueryIntent.Operation.GroupBy)
	ep := res.ExecutionPlan
	assert.Equal(t, []models.StepKind{models.StepCache, models.StepLoad}, stepKinds(ep))
	load := step(t, ep, models.StepLoad)
	assert.Equal(t, models.SourceAggregations, load.Params.Source)
	assert.Equal(t, models.AggSum, load.Params.Aggregation)
	assert.Contains(t, ep.Optimizations, OptPrecomputedAggregation)
	assert.Contains(t, ep.Optimizations, OptColumnPruning)
	assert.ElementsMatch(t, []string{"region", "revenue"}, load.Params.Columns)
}

func TestPlan_ComparisonOfValues(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "compare revenue for north vs south")

	in := res.QueryIntent
	assert.Equal(t, models.IntentComparison, in.Type)
	require.Len(t, in.Entities.Filters, 1)
	f := in.Entities.Filters[0]
	assert.Equal(t, "region", f.Column)
	assert.Equal(t, models.OpIn, f.Operator)
	assert.Equal(t, []string{"north", "south"}, f.Value)
	assert.Equal(t, []string{"region"}, in.Operation.GroupBy)
	assert.Equal(t, []models.StepKind{models.StepCache, models.StepLoad, models.StepFilter, models.StepAggregate}, stepKinds(res.ExecutionPlan))
	assert.Contains(t, res.ExecutionPlan.Optimizations, OptPredicatePushdown)
}

func TestPlan_FilterExtraction(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "rows where units > 10 and region is North")

	in := res.QueryIntent
	assert.Equal(t, models.IntentFilter, in.Type)
	assert.ElementsMatch(t, []models.FilterCondition{
		{Column: "units", Operator: models.OpGt, Value: 10.0},
		{Column: "region", Operator: models.OpEq, Value: "north"},
	}, in.Entities.Filters)
	assert.Empty(t, in.Operation.Aggregation)
	assert.Equal(t, []models.StepKind{models.StepCache, models.StepLoad, models.StepFilter}, stepKinds(res.ExecutionPlan))
	assert.Len(t, step(t, res.ExecutionPlan, models.StepLoad).Params.Columns, len(p.Schema.Columns))
}

func TestPlan_FilterOperators(t *testing.T) {
	p := salesProfile(t)
	cases := []struct {
		query string
		want  models.FilterCondition
	}{
		{"rows where units >= 7", models.FilterCondition{Column: "units", Operator: models.OpGte, Value: 7.0}},
		{"rows where units at most 9", models.FilterCondition{Column: "units", Operator: models.OpLte, Value: 9.0}},
		{"rows where revenue less than 1.5k", models.FilterCondition{Column: "revenue", Operator: models.OpLt, Value: 1500.0}},
		{"rows where region is not east", models.FilterCondition{Column: "region", Operator: models.OpNe, Value: "east"}},
		{"rows where category starts with soft", models.FilterCondition{Column: "category", Operator: models.OpStartsWith, Value: "soft"}},
		{"rows where category contains 'ware'", models.FilterCondition{Column: "category", Operator: models.OpContains, Value: "ware"}},
		{"rows where region not in (north, east)", models.FilterCondition{Column: "region", Operator: models.OpNotIn, Value: []string{"north", "east"}}},
		{"rows where returned = yes", models.FilterCondition{Column: "returned", Operator: models.OpEq, Value: true}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			in := plan(t, p, tc.query).QueryIntent
			require.Len(t, in.Entities.Filters, 1)
			assert.Equal(t, tc.want, in.Entities.Filters[0])
		})
	}
}

func TestPlan_TopN(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "top 2 categories by revenue")

	in := res.QueryIntent
	assert.Equal(t, models.IntentAggregation, in.Type)
	assert.Equal(t, []string{"category"}, in.Operation.GroupBy)
	assert.Equal(t, 2, in.Operation.Limit)
	assert.Equal(t, []models.SortKey{{Column: "sum_revenue", Direction: models.SortDesc}}, in.Operation.Sort)
	assert.Equal(t, []models.StepKind{models.StepCache, models.StepLoad, models.StepSort, models.StepLimit}, stepKinds(res.ExecutionPlan))
}

func TestPlan_Superlative(t *testing.T) {
	p := salesProfile(t)
	in := plan(t, p, "which region has the lowest average units").QueryIntent
	assert.Equal(t, models.AggAvg, in.Operation.Aggregation)
	assert.Equal(t, []string{"region"}, in.Operation.GroupBy)
	assert.Equal(t, []models.SortKey{{Column: "avg_units", Direction: models.SortAsc}}, in.Operation.Sort)
	assert.Equal(t, 1, in.Operation.Limit)
}

func TestPlan_TimeRanges(t *testing.T) {
	p := salesProfile(t)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	cases := []struct {
		query      string
		start, end time.Time
	}{
		{"total revenue in 2024", day(2024, 1, 1), day(2025, 1, 1)},
		{"average units since 2024-06", day(2024, 6, 1), time.Time{}},
		{"total revenue before march 2024", time.Time{}, day(2024, 3, 1)},
		{"total revenue between 2024-02 and 2024-04", day(2024, 2, 1), day(2024, 5, 1)},
		{"total revenue where date >= 2024-07-01", day(2024, 7, 1), time.Time{}},
		{"total revenue for the last 3 months", day(2024, 9, 1), time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			res := plan(t, p, tc.query)
			tr := res.QueryIntent.Entities.TimeRange
			require.NotNil(t, tr)
			assert.Equal(t, "date", tr.Column)
			assert.True(t, tc.start.Equal(tr.Start), "start = %v", tr.Start)
			assert.True(t, tc.end.Equal(tr.End), "end = %v", tr.End)
			assert.Equal(t, tr, step(t, res.ExecutionPlan, models.StepFilter).Params.TimeRange)
		})
	}
}

func TestPlan_DateRangeBetweenIsNotAComparison(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "revenue between 2024-02-01 and 2024-04-30")

	in := res.QueryIntent
	assert.Equal(t, models.IntentAggregation, in.Type)
	assert.Empty(t, in.Operation.GroupBy)
	assert.Equal(t, models.AggSum, in.Operation.Aggregation)
	require.NotNil(t, in.Entities.TimeRange)
	assert.Equal(t, "date", in.Entities.TimeRange.Column)
	assert.True(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Equal(in.Entities.TimeRange.Start))
	assert.True(t, in.Entities.TimeRange.End.After(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, in.Entities.TimeRange, step(t, res.ExecutionPlan, models.StepFilter).Params.TimeRange)

	rows := plan(t, p, "rows between 2024-02-01 and 2024-04-30").QueryIntent
	assert.NotEqual(t, models.IntentComparison, rows.Type)
	require.NotNil(t, rows.Entities.TimeRange)

	cmp := plan(t, p, "compare revenue between north and south").QueryIntent
	assert.Equal(t, models.IntentComparison, cmp.Type)
}

func TestPlan_Transforms(t *testing.T) {
	p := salesProfile(t)
	tf := step(t, plan(t, p, "share of total revenue by category").ExecutionPlan, models.StepTransform)
	assert.Equal(t, []models.DerivedField{{Name: "sum_revenue_share", Kind: models.DeriveShare, Source: "sum_revenue"}}, tf.Params.Derive)

	tf = step(t, plan(t, p, "monthly revenue growth over time").ExecutionPlan, models.StepTransform)
	assert.Equal(t, models.DeriveChange, tf.Params.Derive[0].Kind)
}

func TestPlan_ProfileQuestion(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "describe this dataset")
	assert.Equal(t, models.IntentProfile, res.QueryIntent.Type)
	load := step(t, res.ExecutionPlan, models.StepLoad)
	assert.Equal(t, defaultProfileRows, load.Params.Limit)
	assert.Contains(t, res.ExecutionPlan.Optimizations, OptEarlyLimit)
}

func TestPlan_UnparseableQueryFallsBack(t *testing.T) {
	p := salesProfile(t)
	res := plan(t, p, "flibber the wobble")
	assert.Equal(t, models.IntentCustom, res.QueryIntent.Type)
	assert.Zero(t, res.QueryIntent.Confidence)
	assert.True(t, res.ExecutionPlan.FallbackToLLM)
	assert.NotEmpty(t, res.ExecutionPlan.CacheKey)
}

func TestPlan_UnknownReferentLowersConfidence(t *testing.T) {
	p := salesProfile(t)
	full := plan(t, p, "total revenue by region").QueryIntent.Confidence
	partial := plan(t, p, "total revenue by warehouse").QueryIntent.Confidence
	assert.Less(t, partial, full)
}

func TestPlan_CacheKeyIsStable(t *testing.T) {
	p := salesProfile(t)
	a := plan(t, p, "Total revenue by region?").ExecutionPlan
	b := plan(t, p, "  total   REVENUE by region ").ExecutionPlan
	assert.Equal(t, a.CacheKey, b.CacheKey)
	assert.NotEqual(t, a.ID, b.ID)

	bumped := *p
	bumped.Version++
	assert.NotEqual(t, a.CacheKey, CacheKey("total revenue by region", &bumped))
}

func TestPlan_InvalidInputs(t *testing.T) {
	r := NewRunner(DefaultConfig(), agent.DefaultRunnerConfig())
	defer r.Dispose()

	res := r.Execute(context.Background(), Input{Query: "  ", Profile: &models.DataProfile{}}, agent.NewExecutionContext(""))
	require.False(t, res.Success)
	var ve *agent.ValidationError
	assert.ErrorAs(t, res.Error, &ve)

	res = r.Execute(context.Background(), Input{Query: "total revenue"}, agent.NewExecutionContext(""))
	assert.ErrorAs(t, res.Error, &ve)

	res = r.Execute(context.Background(), Input{Query: "total revenue", Profile: &models.DataProfile{}}, agent.NewExecutionContext(""))
	require.False(t, res.Success)
	var ave *agent.AgentValidationError
	require.ErrorAs(t, res.Error, &ave)
	assert.Equal(t, "profile", ave.Field)
	assert.False(t, agent.IsRetryable(res.Error))
}

type fixedClassifier struct{ t models.IntentType }

func (f fixedClassifier) Classify(string) Classification {
	return Classification{Type: f.t, Score: 1}
}

func TestPlan_PluggableClassifier(t *testing.T) {
	p := salesProfile(t)
	cfg := DefaultConfig()
	cfg.Classifier = fixedClassifier{models.IntentProfile}
	r := NewRunner(cfg, agent.DefaultRunnerConfig())
	res := r.Execute(context.Background(), Input{Query: "total revenue by region", Profile: p}, agent.NewExecutionContext(""))
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, models.IntentProfile, res.Data.QueryIntent.Type)
}

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier()
	cases := []struct {
		query string
		want  models.IntentType
	}{
		{"show the trend of revenue", models.IntentTrend},
		{"how did sales evolve over time", models.IntentTrend},
		{"compare north vs south", models.IntentComparison},
		{"average units", models.IntentAggregation},
		{"top 5 products", models.IntentAggregation},
		{"total revenue where units > 3", models.IntentAggregation},
		{"rows where units > 5", models.IntentFilter},
		{"describe the dataset", models.IntentProfile},
		{"hello there", models.IntentCustom},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(normalizeQuery(tc.query)).Type)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in         string
		start, end string
		ok         bool
	}{
		{"2023", "2023-01-01", "2024-01-01", true},
		{"2023-02", "2023-02-01", "2023-03-01", true},
		{"2023/12/31", "2023-12-31", "2024-01-01", true},
		{"Sept 2022", "2022-09-01", "2022-10-01", true},
		{"1850", "", "", false},
		{"2023-13", "", "", false},
		{"north", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			s, e, ok := parsePeriod(tc.in)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.start, s.Format("2006-01-02"))
				assert.Equal(t, tc.end, e.Format("2006-01-02"))
			}
		})
	}
}

func TestAliases(t *testing.T) {
	assert.Contains(t, aliases("unit_price"), "unit price")
	assert.Contains(t, aliases("Category"), "categories")
	assert.Contains(t, aliases("sales"), "sale")
}
