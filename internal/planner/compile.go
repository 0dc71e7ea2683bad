package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// Optimization names recorded on plans.
const (
	OptColumnPruning          = "column-pruning"
	OptPredicatePushdown      = "predicate-pushdown"
	OptPrecomputedAggregation = "precomputed-aggregation"
	OptEarlyLimit             = "early-limit"
)

// defaultProfileRows is how many sample rows a profile question returns.
const defaultProfileRows = 10

// Per-step base cost in milliseconds and per-cell cost of reading rows.
var stepBase = map[models.StepKind]float64{
	models.StepCache:     0.1,
	models.StepLoad:      1,
	models.StepFilter:    0.5,
	models.StepAggregate: 1,
	models.StepSort:      0.5,
	models.StepLimit:     0.1,
	models.StepTransform: 0.3,
}

const cellCost = 0.0005

// CacheKey derives the plan cache key from the normalized question and the
// profile identity. It is stable across processes.
func CacheKey(normalized string, p *models.DataProfile) string {
	sum := sha256.Sum256([]byte(normalized + "|" + p.ID + "|" + strconv.Itoa(p.Version)))
	return hex.EncodeToString(sum[:16])
}

// compile turns an intent into a linear plan in canonical order
// cache, load, filter, aggregate, sort, limit, transform.
func compile(intent *models.QueryIntent, r reading, p *models.DataProfile, cacheStep bool) (*models.ExecutionPlan, error) {
	plan := &models.ExecutionPlan{
		ID:            uuid.New().String(),
		CacheKey:      CacheKey(intent.Query, p),
		FallbackToLLM: false,
	}
	op := intent.Operation
	ent := intent.Entities
	aggregating := op.Aggregation != ""

	var steps []models.PlanStep
	add := func(kind models.StepKind, operation string, params models.StepParams) {
		s := models.PlanStep{ID: string(kind), Kind: kind, Operation: operation, Params: params}
		if n := len(steps); n > 0 {
			s.DependsOn = []string{steps[n-1].ID}
		}
		steps = append(steps, s)
	}

	if cacheStep {
		add(models.StepCache, "lookup cached result", models.StepParams{CacheKey: plan.CacheKey})
	}

	cols := neededColumns(intent, p)
	if len(cols) > 0 && len(cols) < len(p.Schema.Columns) {
		plan.Optimizations = append(plan.Optimizations, OptColumnPruning)
	} else {
		cols = allColumns(p)
	}

	precomputed := aggregating && canUsePrecomputed(intent, r, p)
	limit := op.Limit
	if intent.Type == models.IntentProfile && limit == 0 {
		limit = defaultProfileRows
	}
	hasFilter := len(ent.Filters) > 0 || ent.TimeRange != nil

	load := models.StepParams{Columns: cols, Source: models.SourceSample}
	switch {
	case precomputed:
		load.Source = models.SourceAggregations
		load.GroupBy = op.GroupBy
		load.Measures = ent.Measures
		load.Aggregation = op.Aggregation
		plan.Optimizations = append(plan.Optimizations, OptPrecomputedAggregation)
	case limit > 0 && !hasFilter && !aggregating && len(op.Sort) == 0:
		load.Limit = limit
		limit = 0
		plan.Optimizations = append(plan.Optimizations, OptEarlyLimit)
	}
	add(models.StepLoad, "load "+load.Source, load)

	if hasFilter && !precomputed {
		add(models.StepFilter, fmt.Sprintf("apply %d predicates", len(ent.Filters)+boolInt(ent.TimeRange != nil)),
			models.StepParams{Filters: ent.Filters, TimeRange: ent.TimeRange})
		if aggregating {
			plan.Optimizations = append(plan.Optimizations, OptPredicatePushdown)
		}
	}

	if aggregating && !precomputed {
		add(models.StepAggregate, string(op.Aggregation), models.StepParams{
			GroupBy:     op.GroupBy,
			Measures:    ent.Measures,
			Aggregation: op.Aggregation,
			TimeBucket:  r.bucket,
		})
	}

	if keys := resolveSortKeys(op, ent.Measures); len(keys) > 0 {
		add(models.StepSort, "sort", models.StepParams{Sort: keys})
	}
	if limit > 0 {
		add(models.StepLimit, "limit "+strconv.Itoa(limit), models.StepParams{Limit: limit})
	}
	if fields := derivedFields(r.derive, op, ent.Measures); len(fields) > 0 {
		add(models.StepTransform, "derive", models.StepParams{Derive: fields})
	}

	plan.Steps = steps
	estimate(plan, p, len(cols), precomputed)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// neededColumns are the columns any step reads. Empty means all of them.
func neededColumns(intent *models.QueryIntent, p *models.DataProfile) []string {
	if intent.Type == models.IntentProfile || intent.Type == models.IntentCustom {
		return nil
	}
	ent, op := intent.Entities, intent.Operation
	if op.Aggregation == "" && len(ent.Measures) == 0 && len(ent.Dimensions) == 0 {
		// a plain row listing shows every column
		return nil
	}
	var out []string
	addCol := func(name string) {
		if name != "" && !contains(out, name) {
			if _, ok := p.Schema.Column(name); ok {
				out = append(out, name)
			}
		}
	}
	for _, c := range op.GroupBy {
		addCol(c)
	}
	for _, c := range ent.Dimensions {
		addCol(c)
	}
	for _, c := range ent.Measures {
		addCol(c)
	}
	for _, f := range ent.Filters {
		addCol(f.Column)
	}
	if ent.TimeRange != nil {
		addCol(ent.TimeRange.Column)
	}
	if op.Aggregation == "" {
		for _, k := range op.Sort {
			addCol(k.Column)
		}
	}
	return out
}

func allColumns(p *models.DataProfile) []string {
	out := make([]string, 0, len(p.Schema.Columns))
	for _, c := range p.Schema.Columns {
		out = append(out, c.Name)
	}
	return out
}

// canUsePrecomputed reports whether the grouped summaries computed at
// profiling time answer the aggregation exactly.
func canUsePrecomputed(intent *models.QueryIntent, r reading, p *models.DataProfile) bool {
	op, ent := intent.Operation, intent.Entities
	if len(op.GroupBy) != 1 || len(ent.Filters) > 0 || ent.TimeRange != nil || r.bucket != "" || len(ent.Measures) == 0 {
		return false
	}
	switch op.Aggregation {
	case models.AggSum, models.AggAvg, models.AggCount, models.AggMin, models.AggMax:
	default:
		return false
	}
	dim, ok := p.Schema.Column(op.GroupBy[0])
	if !ok || (dim.Type != models.ColumnCategorical && dim.Type != models.ColumnBoolean) {
		return false
	}
	for _, m := range ent.Measures {
		if _, ok := p.Aggregations.FindGrouped(dim.Name, m); !ok {
			return false
		}
	}
	return true
}

// resolveSortKeys points keys at aggregate output columns. A key without a
// column sorts by the first aggregate.
func resolveSortKeys(op models.QueryOperation, measures []string) []models.SortKey {
	first := primaryColumn(op, measures)
	var out []models.SortKey
	for _, k := range op.Sort {
		switch {
		case k.Column == "":
			k.Column = first
		case op.Aggregation != "" && contains(measures, k.Column):
			k.Column = models.AggregateColumn(op.Aggregation, k.Column)
		}
		if k.Column != "" {
			out = append(out, k)
		}
	}
	return out
}

// primaryColumn is the result column a question is mostly about.
func primaryColumn(op models.QueryOperation, measures []string) string {
	switch {
	case op.Aggregation != "" && len(measures) > 0:
		return models.AggregateColumn(op.Aggregation, measures[0])
	case op.Aggregation != "":
		return models.AggregateColumn(op.Aggregation, "")
	case len(measures) > 0:
		return measures[0]
	}
	return ""
}

// derivedFields names the transform outputs over the primary column.
func derivedFields(kinds []string, op models.QueryOperation, measures []string) []models.DerivedField {
	src := primaryColumn(op, measures)
	if src == "" {
		return nil
	}
	var out []models.DerivedField
	for _, k := range kinds {
		out = append(out, models.DerivedField{Name: src + "_" + k, Kind: k, Source: src})
	}
	return out
}

// estimate fills per-step and plan totals from the rows each step touches.
func estimate(plan *models.ExecutionPlan, p *models.DataProfile, cols int, precomputed bool) {
	rows := len(p.SampleData)
	if precomputed {
		rows = 0
		for _, g := range p.Aggregations.Grouped {
			if n := len(g.Groups); n > rows {
				rows = n
			}
		}
	}
	total := 0.0
	for i := range plan.Steps {
		s := &plan.Steps[i]
		t := stepBase[s.Kind]
		switch s.Kind {
		case models.StepLoad, models.StepFilter, models.StepAggregate:
			t += float64(rows*cols) * cellCost
		case models.StepSort:
			t += float64(rows) * cellCost * 4
		}
		s.EstimatedTime = round2(t)
		total += t
	}
	plan.EstimatedTime = round2(total)
	scanned := p.Metadata.ProcessedRows
	if scanned == 0 {
		scanned = p.Metadata.RowCount
	}
	if precomputed {
		scanned = rows
	}
	plan.EstimatedCost = round2(float64(len(plan.Steps)) + float64(scanned*cols)/1000)
}

func round2(f float64) float64 { return float64(int64(f*100+0.5)) / 100 }
