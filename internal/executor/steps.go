package executor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// stepError is an AgentError naming the failing step.
func stepError(s models.PlanStep, code, format string, args ...any) *agent.AgentError {
	msg := fmt.Sprintf("step %s (%s): %s", s.ID, s.Kind, fmt.Sprintf(format, args...))
	return agent.NewAgentError(agent.TypeSemanticExecutor, code, msg, nil).
		WithDetail("step", s.ID).
		WithDetail("kind", string(s.Kind))
}

// loadSample reads the profile's row sample restricted to the step columns.
func loadSample(s models.PlanStep, p *models.DataProfile) (*frame, error) {
	cols := s.Params.Columns
	if len(cols) == 0 {
		for _, c := range p.Schema.Columns {
			cols = append(cols, c.Name)
		}
	}
	f := &frame{types: map[string]models.ColumnType{}}
	for _, name := range cols {
		c, ok := p.Schema.Column(name)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "column %q is not in the dataset", name)
		}
		f.columns = append(f.columns, c.Name)
		f.types[c.Name] = c.Type
	}
	rows := p.SampleData
	if s.Params.Limit > 0 && len(rows) > s.Params.Limit {
		rows = rows[:s.Params.Limit]
	}
	f.rows = make([]map[string]any, 0, len(rows))
	for _, rec := range rows {
		row := make(map[string]any, len(f.columns))
		for _, c := range f.columns {
			row[c] = typedCell(f.types[c], rec[c])
		}
		f.rows = append(f.rows, row)
	}
	return f, nil
}

// loadAggregations answers a single-dimension aggregation from the grouped
// summaries computed at profiling time. dataPoints is the number of rows the
// summaries cover.
func loadAggregations(s models.PlanStep, p *models.DataProfile) (*frame, int, error) {
	if len(s.Params.GroupBy) != 1 {
		return nil, 0, stepError(s, agent.CodeIncompatible, "precomputed aggregations need exactly one group-by column, got %d", len(s.Params.GroupBy))
	}
	dim, ok := p.Schema.Column(s.Params.GroupBy[0])
	if !ok {
		return nil, 0, stepError(s, agent.CodeMissingCol, "column %q is not in the dataset", s.Params.GroupBy[0])
	}
	fn := s.Params.Aggregation
	f := &frame{columns: []string{dim.Name}, types: map[string]models.ColumnType{dim.Name: dim.Type}}
	byKey := map[string]map[string]any{}
	var keys []string
	points := 0
	for _, m := range s.Params.Measures {
		g, ok := p.Aggregations.FindGrouped(dim.Name, m)
		if !ok {
			return nil, 0, stepError(s, agent.CodeMissingCol, "no precomputed aggregate for %q by %q", m, dim.Name)
		}
		if g.RowCount > points {
			points = g.RowCount
		}
		out := models.AggregateColumn(fn, g.Measure)
		f.columns = append(f.columns, out)
		for key, na := range g.Groups {
			row, seen := byKey[key]
			if !seen {
				row = map[string]any{dim.Name: typedCell(dim.Type, key)}
				byKey[key] = row
				keys = append(keys, key)
			}
			v, err := pickAggregate(na, fn)
			if err != nil {
				return nil, 0, stepError(s, agent.CodeIncompatible, "%v", err)
			}
			row[out] = v
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		row := byKey[k]
		for _, c := range f.columns {
			if _, ok := row[c]; !ok {
				row[c] = nil
			}
		}
		f.rows = append(f.rows, row)
	}
	return f, points, nil
}

func pickAggregate(na models.NumericAggregate, fn models.AggregationFunc) (any, error) {
	switch fn {
	case models.AggSum:
		return na.Sum, nil
	case models.AggCount:
		return float64(na.Count), nil
	case models.AggAvg:
		if na.Count == 0 {
			return nil, nil
		}
		return na.Mean, nil
	case models.AggMin:
		if na.Count == 0 {
			return nil, nil
		}
		return na.Min, nil
	case models.AggMax:
		if na.Count == 0 {
			return nil, nil
		}
		return na.Max, nil
	}
	return nil, fmt.Errorf("%s cannot be answered from precomputed aggregates", fn)
}

// applyFilter keeps rows matching every predicate and the time range.
func applyFilter(s models.PlanStep, in *frame) (*frame, error) {
	type pred struct {
		col string
		fn  func(any) bool
	}
	var preds []pred
	for _, fc := range s.Params.Filters {
		col, ok := in.resolve(fc.Column)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "filter column %q is not loaded", fc.Column)
		}
		t, _ := in.typeOf(col)
		fn, err := predicate(t, fc.Operator, fc.Value)
		if err != nil {
			return nil, stepError(s, agent.CodeIncompatible, "column %q: %v", col, err)
		}
		preds = append(preds, pred{col: col, fn: fn})
	}
	if tr := s.Params.TimeRange; tr != nil {
		col, ok := in.resolve(tr.Column)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "time column %q is not loaded", tr.Column)
		}
		if t, _ := in.typeOf(col); t != models.ColumnDateTime {
			return nil, stepError(s, agent.CodeIncompatible, "column %q is %s, not datetime", col, t)
		}
		start, end := tr.Start, tr.End
		preds = append(preds, pred{col: col, fn: func(v any) bool {
			ts, ok := v.(time.Time)
			if !ok {
				return false
			}
			return (start.IsZero() || !ts.Before(start)) && (end.IsZero() || ts.Before(end))
		}})
	}

	out := &frame{columns: in.columns, types: in.types}
	for _, row := range in.rows {
		keep := true
		for _, p := range preds {
			if !p.fn(row[p.col]) {
				keep = false
				break
			}
		}
		if keep {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// predicate builds the row test for one condition, typed by the column.
// Nulls only satisfy ne and not_in.
func predicate(t models.ColumnType, op models.FilterOperator, value any) (func(any) bool, error) {
	negated := op == models.OpNe || op == models.OpNotIn
	wrap := func(test func(any) bool) func(any) bool {
		return func(v any) bool {
			if v == nil {
				return negated
			}
			return test(v)
		}
	}

	if op == models.OpIn || op == models.OpNotIn {
		items, ok := toStrings(value)
		if !ok {
			return nil, fmt.Errorf("%s needs a list, got %T", op, value)
		}
		return wrap(func(v any) bool {
			hit := false
			for _, it := range items {
				if cellEquals(t, v, it) {
					hit = true
					break
				}
			}
			return hit != negated
		}), nil
	}

	switch t {
	case models.ColumnNumeric:
		want, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("value %v is not numeric", value)
		}
		cmp, err := ordering(op)
		if err != nil {
			return nil, err
		}
		return wrap(func(v any) bool {
			f, ok := v.(float64)
			return ok && cmp(compareCells(f, want))
		}), nil
	case models.ColumnDateTime:
		want, ok := toTime(value)
		if !ok {
			return nil, fmt.Errorf("value %v is not a date", value)
		}
		cmp, err := ordering(op)
		if err != nil {
			return nil, err
		}
		return wrap(func(v any) bool {
			ts, ok := v.(time.Time)
			return ok && cmp(ts.Compare(want))
		}), nil
	case models.ColumnBoolean:
		want, ok := toBool(value)
		if !ok {
			return nil, fmt.Errorf("value %v is not a boolean", value)
		}
		if op != models.OpEq && op != models.OpNe {
			return nil, fmt.Errorf("operator %s does not apply to booleans", op)
		}
		return wrap(func(v any) bool {
			b, ok := v.(bool)
			return ok && (b == want) == (op == models.OpEq)
		}), nil
	}

	want := strings.ToLower(cellString(value))
	switch op {
	case models.OpEq:
		return wrap(func(v any) bool { return strings.ToLower(cellString(v)) == want }), nil
	case models.OpNe:
		return wrap(func(v any) bool { return strings.ToLower(cellString(v)) != want }), nil
	case models.OpContains:
		return wrap(func(v any) bool { return strings.Contains(strings.ToLower(cellString(v)), want) }), nil
	case models.OpStartsWith:
		return wrap(func(v any) bool { return strings.HasPrefix(strings.ToLower(cellString(v)), want) }), nil
	case models.OpEndsWith:
		return wrap(func(v any) bool { return strings.HasSuffix(strings.ToLower(cellString(v)), want) }), nil
	}
	cmp, err := ordering(op)
	if err != nil {
		return nil, err
	}
	return wrap(func(v any) bool { return cmp(strings.Compare(strings.ToLower(cellString(v)), want)) }), nil
}

// ordering maps comparison operators onto a three-way compare result.
func ordering(op models.FilterOperator) (func(int) bool, error) {
	switch op {
	case models.OpEq:
		return func(c int) bool { return c == 0 }, nil
	case models.OpNe:
		return func(c int) bool { return c != 0 }, nil
	case models.OpGt:
		return func(c int) bool { return c > 0 }, nil
	case models.OpGte:
		return func(c int) bool { return c >= 0 }, nil
	case models.OpLt:
		return func(c int) bool { return c < 0 }, nil
	case models.OpLte:
		return func(c int) bool { return c <= 0 }, nil
	}
	return nil, fmt.Errorf("operator %s does not apply", op)
}

func cellEquals(t models.ColumnType, v any, item string) bool {
	switch t {
	case models.ColumnNumeric:
		f, ok := toFloat(item)
		return ok && v == f
	case models.ColumnBoolean:
		b, ok := toBool(item)
		return ok && v == b
	case models.ColumnDateTime:
		want, ok := parseTime(item)
		ts, ok2 := v.(time.Time)
		return ok && ok2 && ts.Equal(want)
	}
	return strings.EqualFold(cellString(v), item)
}

// aggregate groups rows and reduces every measure with the step function.
func aggregate(s models.PlanStep, in *frame) (*frame, error) {
	fn := s.Params.Aggregation
	if fn == "" {
		return nil, stepError(s, agent.CodeIncompatible, "no aggregation function")
	}
	var groupCols, measures []string
	for _, g := range s.Params.GroupBy {
		col, ok := in.resolve(g)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "group-by column %q is not loaded", g)
		}
		groupCols = append(groupCols, col)
	}
	for _, m := range s.Params.Measures {
		col, ok := in.resolve(m)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "measure %q is not loaded", m)
		}
		if t, _ := in.typeOf(col); t != models.ColumnNumeric && fn != models.AggCount && fn != models.AggMode {
			return nil, stepError(s, agent.CodeIncompatible, "cannot %s column %q of type %s", fn, col, t)
		}
		measures = append(measures, col)
	}
	if len(measures) == 0 && fn != models.AggCount {
		return nil, stepError(s, agent.CodeIncompatible, "%s needs at least one measure", fn)
	}

	out := &frame{types: map[string]models.ColumnType{}}
	for _, g := range groupCols {
		out.columns = append(out.columns, g)
		out.types[g] = in.types[g]
		if s.Params.TimeBucket != "" && in.types[g] == models.ColumnDateTime {
			out.types[g] = models.ColumnCategorical
		}
	}
	outNames := make([]string, len(measures))
	for i, m := range measures {
		outNames[i] = models.AggregateColumn(fn, m)
	}
	if len(measures) == 0 {
		outNames = []string{models.AggregateColumn(fn, "")}
	}
	out.columns = append(out.columns, outNames...)

	type group struct {
		key  map[string]any
		rows int
		vals [][]any
	}
	groups := map[string]*group{}
	var order []string
	for _, row := range in.rows {
		key := make(map[string]any, len(groupCols))
		parts := make([]string, len(groupCols))
		for i, g := range groupCols {
			v := row[g]
			if ts, ok := v.(time.Time); ok && s.Params.TimeBucket != "" {
				v = bucketLabel(ts, s.Params.TimeBucket)
			}
			key[g] = v
			parts[i] = cellString(v)
		}
		id := strings.Join(parts, "\x1f")
		gr, ok := groups[id]
		if !ok {
			gr = &group{key: key, vals: make([][]any, len(measures))}
			groups[id] = gr
			order = append(order, id)
		}
		gr.rows++
		for i, m := range measures {
			if v := row[m]; v != nil {
				gr.vals[i] = append(gr.vals[i], v)
			}
		}
	}
	if len(groupCols) == 0 && len(order) == 0 {
		// an empty input still yields one total row
		groups[""] = &group{key: map[string]any{}, vals: make([][]any, len(measures))}
		order = append(order, "")
	}

	for _, id := range order {
		gr := groups[id]
		row := make(map[string]any, len(out.columns))
		for k, v := range gr.key {
			row[k] = v
		}
		if len(measures) == 0 {
			row[outNames[0]] = float64(gr.rows)
		}
		for i := range measures {
			row[outNames[i]] = reduce(fn, gr.vals[i])
		}
		out.rows = append(out.rows, row)
	}
	for _, n := range outNames {
		out.types[n] = models.ColumnNumeric
	}
	if fn == models.AggMode {
		for i, m := range measures {
			out.types[outNames[i]] = in.types[m]
		}
	}
	return out, nil
}

// reduce applies fn to the non-null values of one group.
func reduce(fn models.AggregationFunc, vals []any) any {
	if fn == models.AggCount {
		return float64(len(vals))
	}
	if fn == models.AggMode {
		return modeOf(vals)
	}
	nums := make([]float64, 0, len(vals))
	for _, v := range vals {
		if f, ok := v.(float64); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		if fn == models.AggSum {
			return 0.0
		}
		return nil
	}
	switch fn {
	case models.AggSum:
		return sum(nums)
	case models.AggAvg:
		return sum(nums) / float64(len(nums))
	case models.AggMin:
		m := nums[0]
		for _, f := range nums[1:] {
			m = math.Min(m, f)
		}
		return m
	case models.AggMax:
		m := nums[0]
		for _, f := range nums[1:] {
			m = math.Max(m, f)
		}
		return m
	case models.AggMedian:
		sort.Float64s(nums)
		n := len(nums)
		if n%2 == 1 {
			return nums[n/2]
		}
		return (nums[n/2-1] + nums[n/2]) / 2
	}
	return nil
}

func sum(nums []float64) float64 {
	total := 0.0
	for _, f := range nums {
		total += f
	}
	return total
}

// modeOf returns the most frequent value; ties go to the smallest.
func modeOf(vals []any) any {
	if len(vals) == 0 {
		return nil
	}
	counts := map[string]int{}
	first := map[string]any{}
	for _, v := range vals {
		k := cellString(v)
		counts[k]++
		if _, ok := first[k]; !ok {
			first[k] = v
		}
	}
	var best string
	bestN := 0
	for k, n := range counts {
		if n > bestN || (n == bestN && compareCells(first[k], first[best]) < 0) {
			best, bestN = k, n
		}
	}
	return first[best]
}

// bucketLabel is the sortable period label of t.
func bucketLabel(t time.Time, bucket string) string {
	t = t.UTC()
	switch bucket {
	case "day":
		return t.Format("2006-01-02")
	case "week":
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case "quarter":
		return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case "year":
		return t.Format("2006")
	}
	return t.Format("2006-01")
}

// sortFrame orders rows by every key in turn; the sort is stable.
func sortFrame(s models.PlanStep, in *frame) (*frame, error) {
	type key struct {
		col  string
		desc bool
	}
	var keys []key
	for _, k := range s.Params.Sort {
		col, ok := in.resolve(k.Column)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "sort column %q is not in the result", k.Column)
		}
		keys = append(keys, key{col: col, desc: k.Direction == models.SortDesc})
	}
	rows := append([]map[string]any(nil), in.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := rows[i][k.col], rows[j][k.col]
			c := compareCells(a, b)
			if c == 0 {
				continue
			}
			if k.desc && a != nil && b != nil {
				c = -c
			}
			return c < 0
		}
		return false
	})
	return &frame{columns: in.columns, rows: rows, types: in.types}, nil
}

func limitFrame(s models.PlanStep, in *frame) (*frame, error) {
	if s.Params.Limit < 0 {
		return nil, stepError(s, agent.CodeIncompatible, "negative limit %d", s.Params.Limit)
	}
	rows := in.rows
	if s.Params.Limit > 0 && len(rows) > s.Params.Limit {
		rows = rows[:s.Params.Limit]
	}
	return &frame{columns: in.columns, rows: rows, types: in.types}, nil
}

// transform adds derived fields: share of total in percent, change from the
// previous row and competition rank (1 = largest).
func transform(s models.PlanStep, in *frame) (*frame, error) {
	out := &frame{columns: append([]string(nil), in.columns...), types: map[string]models.ColumnType{}}
	for k, v := range in.types {
		out.types[k] = v
	}
	out.rows = make([]map[string]any, len(in.rows))
	for i, row := range in.rows {
		cp := make(map[string]any, len(row)+len(s.Params.Derive))
		for k, v := range row {
			cp[k] = v
		}
		out.rows[i] = cp
	}
	for _, d := range s.Params.Derive {
		src, ok := out.resolve(d.Source)
		if !ok {
			return nil, stepError(s, agent.CodeMissingCol, "derived field %q reads missing column %q", d.Name, d.Source)
		}
		if t, _ := out.typeOf(src); t != models.ColumnNumeric {
			return nil, stepError(s, agent.CodeIncompatible, "derived field %q needs a numeric source, %q is %s", d.Name, src, t)
		}
		vals := make([]*float64, len(out.rows))
		for i, row := range out.rows {
			if f, ok := row[src].(float64); ok {
				vals[i] = &f
			}
		}
		switch d.Kind {
		case models.DeriveShare:
			total := 0.0
			for _, v := range vals {
				if v != nil {
					total += *v
				}
			}
			for i, v := range vals {
				if v != nil && total != 0 {
					out.rows[i][d.Name] = round(*v / total * 100)
				} else {
					out.rows[i][d.Name] = nil
				}
			}
		case models.DeriveChange:
			var prev *float64
			for i, v := range vals {
				if v != nil && prev != nil {
					out.rows[i][d.Name] = *v - *prev
				} else {
					out.rows[i][d.Name] = nil
				}
				if v != nil {
					prev = v
				}
			}
		case models.DeriveRank:
			for i, v := range vals {
				if v == nil {
					out.rows[i][d.Name] = nil
					continue
				}
				rank := 1
				for _, o := range vals {
					if o != nil && *o > *v {
						rank++
					}
				}
				out.rows[i][d.Name] = float64(rank)
			}
		default:
			return nil, stepError(s, agent.CodeIncompatible, "unknown derived field kind %q", d.Kind)
		}
		out.columns = append(out.columns, d.Name)
		out.types[d.Name] = models.ColumnNumeric
	}
	return out, nil
}

func round(f float64) float64 { return math.Round(f*100) / 100 }
