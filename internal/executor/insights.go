package executor

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// robustZThreshold flags a value as anomalous by modified z-score.
const robustZThreshold = 3.5

// insightInput is what insight generation sees of one run.
type insightInput struct {
	intent  *models.QueryIntent
	plan    *models.ExecutionPlan
	profile *models.DataProfile
	result  *frame
	// sampled is set when rows came from the bounded sample rather than the
	// precomputed aggregates.
	sampled bool
}

// primary returns the first numeric result column that is not a group key.
func (in insightInput) primary() string {
	keys := map[string]bool{}
	for _, g := range in.intent.Operation.GroupBy {
		keys[g] = true
	}
	for _, c := range in.result.columns {
		if keys[c] {
			continue
		}
		if t, ok := in.result.typeOf(c); ok && t == models.ColumnNumeric {
			return c
		}
	}
	return ""
}

// label is the group-key column used to name rows in insights.
func (in insightInput) label() string {
	for _, c := range in.result.columns {
		for _, g := range in.intent.Operation.GroupBy {
			if c == g {
				return c
			}
		}
	}
	return ""
}

func generateInsights(in insightInput) []models.GeneratedInsight {
	var out []models.GeneratedInsight
	rows := in.result.rows
	primary, label := in.primary(), in.label()
	values, names := series(rows, primary, label)

	switch {
	case len(rows) == 0:
		out = append(out, models.GeneratedInsight{
			Type:        models.InsightSummary,
			Title:       "No matching rows",
			Description: "No rows matched the question's filters.",
			Confidence:  0.9,
		})
	case primary != "" && len(values) > 0:
		desc := fmt.Sprintf("%s across %d rows: total %s, mean %s.", primary, len(values), num(sum(values)), num(sum(values)/float64(len(values))))
		if len(values) == 1 {
			desc = fmt.Sprintf("%s is %s.", primary, num(values[0]))
		}
		out = append(out, models.GeneratedInsight{Type: models.InsightSummary, Title: "Summary", Description: desc, Confidence: 0.9})
	default:
		out = append(out, models.GeneratedInsight{
			Type:        models.InsightSummary,
			Title:       "Summary",
			Description: fmt.Sprintf("%d rows with %d columns.", len(rows), len(in.result.columns)),
			Confidence:  0.8,
		})
	}

	if in.intent.Type == models.IntentTrend && len(values) >= 3 {
		out = append(out, trendInsight(primary, values, names))
	}
	if label != "" && len(values) >= 2 && in.intent.Type != models.IntentTrend {
		out = append(out, comparisonInsight(primary, values, names))
	}
	if len(values) >= 5 {
		out = append(out, anomalyInsights(primary, values, names)...)
	}
	out = append(out, recommendations(in)...)
	return out
}

// series extracts the non-null numeric values of col with their row labels.
func series(rows []map[string]any, col, label string) ([]float64, []string) {
	if col == "" {
		return nil, nil
	}
	var vals []float64
	var names []string
	for i, r := range rows {
		f, ok := r[col].(float64)
		if !ok {
			continue
		}
		vals = append(vals, f)
		name := fmt.Sprintf("row %d", i+1)
		if label != "" {
			name = cellString(r[label])
		}
		names = append(names, name)
	}
	return vals, names
}

// trendInsight fits a least-squares line through the ordered values.
func trendInsight(col string, values []float64, names []string) models.GeneratedInsight {
	n := float64(len(values))
	var sx, sy, sxx, sxy, syy float64
	for i, y := range values {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
		syy += y * y
	}
	den := n*sxx - sx*sx
	slope := 0.0
	if den != 0 {
		slope = (n*sxy - sx*sy) / den
	}
	r := 0.0
	if d := math.Sqrt((n*sxx - sx*sx) * (n*syy - sy*sy)); d > 0 {
		r = (n*sxy - sx*sy) / d
	}
	direction := "flat"
	mean := sy / n
	if (mean != 0 && math.Abs(slope*n/mean) >= 0.05) || (mean == 0 && slope != 0) {
		direction = "upward"
		if slope < 0 {
			direction = "downward"
		}
	}
	first, last := values[0], values[len(values)-1]
	desc := fmt.Sprintf("%s moves %s from %s (%s) to %s (%s)", col, direction, num(first), names[0], num(last), names[len(names)-1])
	if first != 0 {
		desc += fmt.Sprintf(", a %s%% change", num((last-first)/math.Abs(first)*100))
	}
	return models.GeneratedInsight{
		Type:        models.InsightTrend,
		Title:       "Trend is " + direction,
		Description: desc + ".",
		Confidence:  round(math.Max(0.3, math.Abs(r))),
	}
}

// comparisonInsight contrasts the largest and smallest groups.
func comparisonInsight(col string, values []float64, names []string) models.GeneratedInsight {
	hi, lo := 0, 0
	for i, v := range values {
		if v > values[hi] {
			hi = i
		}
		if v < values[lo] {
			lo = i
		}
	}
	desc := fmt.Sprintf("%s leads %s with %s; %s is lowest with %s", names[hi], col, num(values[hi]), names[lo], num(values[lo]))
	if values[lo] != 0 {
		desc += fmt.Sprintf(" (%sx)", num(values[hi]/values[lo]))
	}
	return models.GeneratedInsight{
		Type:        models.InsightComparison,
		Title:       names[hi] + " leads",
		Description: desc + ".",
		Confidence:  0.8,
	}
}

// anomalyInsights flags values whose modified z-score (median absolute
// deviation) exceeds robustZThreshold.
func anomalyInsights(col string, values []float64, names []string) []models.GeneratedInsight {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	med := median(sorted)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	mad := median(dev)
	if mad == 0 {
		return nil
	}
	var out []models.GeneratedInsight
	for i, v := range values {
		z := 0.6745 * (v - med) / mad
		if math.Abs(z) < robustZThreshold {
			continue
		}
		out = append(out, models.GeneratedInsight{
			Type:        models.InsightAnomaly,
			Title:       "Unusual value for " + names[i],
			Description: fmt.Sprintf("%s of %s is far from the median %s (robust z %s).", col, num(v), num(med), num(z)),
			Confidence:  round(math.Min(0.95, 0.5+math.Abs(z)/20)),
		})
	}
	return out
}

func recommendations(in insightInput) []models.GeneratedInsight {
	var out []models.GeneratedInsight
	if in.plan.FallbackToLLM {
		out = append(out, models.GeneratedInsight{
			Type:        models.InsightRecommendation,
			Title:       "Question only partly understood",
			Description: "Name columns from the dataset explicitly, for example \"total <measure> by <dimension>\".",
			Confidence:  0.6,
		})
	}
	if in.sampled {
		total := in.profile.Metadata.ProcessedRows
		if n := len(in.profile.SampleData); total > n && in.intent.Operation.Aggregation != "" {
			out = append(out, models.GeneratedInsight{
				Type:        models.InsightRecommendation,
				Title:       "Computed on a sample",
				Description: fmt.Sprintf("Aggregates use %d of %d rows; totals are scaled-down estimates.", n, total),
				Confidence:  0.7,
			})
		}
	}
	return out
}

// suggestCharts proposes chart shapes for the result; the planner's hint
// comes first.
func suggestCharts(in insightInput) []models.ChartSuggestion {
	var out []models.ChartSuggestion
	seen := map[string]bool{}
	add := func(c models.ChartSuggestion) {
		if seen[c.ChartType] {
			return
		}
		seen[c.ChartType] = true
		out = append(out, c)
	}
	primary, label := in.primary(), in.label()
	if v := in.intent.Visualization; v != nil && v.ChartType != "" {
		y := v.Y
		if y == "" {
			y = primary
		}
		add(models.ChartSuggestion{ChartType: v.ChartType, X: v.X, Y: y, Reason: "matches the question's shape"})
	}
	n := len(in.result.rows)
	switch {
	case label != "" && primary != "":
		if t, _ := in.profile.Schema.Column(label); t.Type == models.ColumnDateTime {
			add(models.ChartSuggestion{ChartType: "line", X: label, Y: primary, Reason: "values over time"})
			add(models.ChartSuggestion{ChartType: "area", X: label, Y: primary, Reason: "cumulative view over time"})
		} else {
			add(models.ChartSuggestion{ChartType: "bar", X: label, Y: primary, Reason: "compare groups"})
			if n > 1 && n <= 6 {
				add(models.ChartSuggestion{ChartType: "pie", X: label, Y: primary, Reason: "few groups forming a whole"})
			}
		}
	case primary != "" && n == 1:
		add(models.ChartSuggestion{ChartType: "metric", Y: primary, Reason: "single value"})
	case primary != "" && n > 1:
		add(models.ChartSuggestion{ChartType: "histogram", X: primary, Reason: "distribution of values"})
	}
	add(models.ChartSuggestion{ChartType: "table", Reason: "raw result rows"})
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// num formats a number compactly for insight text.
func num(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.2f", f)
}
