package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

const maxTrendPairs = 5

func deriveInsights(p *models.DataProfile, cols []*column) models.DatasetInsights {
	var in models.DatasetInsights
	md := p.Metadata
	in.KeyFindings = append(in.KeyFindings, fmt.Sprintf("%d rows and %d columns; quality score %.1f/100", md.RowCount, md.ColumnCount, p.Quality.Score))
	if md.ProcessedRows < md.RowCount {
		in.KeyFindings = append(in.KeyFindings, fmt.Sprintf("processed only %d/%d rows due to MaxRows", md.ProcessedRows, md.RowCount))
	}
	if len(p.Schema.Relationships) > 0 {
		r := p.Schema.Relationships[0]
		in.KeyFindings = append(in.KeyFindings, fmt.Sprintf("%s and %s are correlated (r=%.2f)", r.From, r.To, r.Coefficient))
	}
	for _, c := range cols {
		if st, ok := c.profile.Categorical(); ok && len(st.TopValues) > 0 && st.Cardinality > 1 {
			top := st.TopValues[0]
			share := st.Distribution[top.Value]
			in.KeyFindings = append(in.KeyFindings, fmt.Sprintf("%q is the most common %s (%.0f%%)", top.Value, c.profile.Name, share*100))
			break
		}
	}

	in.Trends = measureTrends(cols)
	for _, t := range in.Trends {
		if t.Direction != "stable" {
			in.KeyFindings = append(in.KeyFindings, fmt.Sprintf("%s is %s over %s", t.Measure, t.Direction, t.Over))
		}
	}

	for _, c := range cols {
		if st, ok := c.profile.Numeric(); ok {
			if n := st.Outliers.IQRCount; n > 0 {
				in.Anomalies = append(in.Anomalies, models.AnomalyFinding{
					Column:      c.profile.Name,
					Description: fmt.Sprintf("%d values outside [%.4g, %.4g]", n, st.Outliers.LowerFence, st.Outliers.UpperFence),
					Count:       n,
				})
			}
		}
		if st, ok := c.profile.DateTime(); ok && len(st.Gaps) > 0 {
			in.Anomalies = append(in.Anomalies, models.AnomalyFinding{
				Column:      c.profile.Name,
				Description: fmt.Sprintf("%d unusually long gaps in a %s series", len(st.Gaps), st.Frequency),
				Count:       len(st.Gaps),
			})
		}
	}

	seen := map[string]bool{}
	for _, issue := range p.Quality.Issues {
		if issue.Suggestion == "" || issue.Severity.Rank() < models.SeverityMedium.Rank() {
			continue
		}
		rec := fmt.Sprintf("%s: %s", safeName(issue.Column), issue.Suggestion)
		if issue.Column == "" {
			rec = issue.Suggestion
		}
		if !seen[rec] {
			seen[rec] = true
			in.Recommendations = append(in.Recommendations, rec)
		}
	}
	in.Recommendations = append(in.Recommendations, p.Security.Recommendations...)
	in.SuggestedQueries = suggestQueries(p.Schema)
	return in
}

// measureTrends fits the monthly mean of each measure against time.
func measureTrends(cols []*column) []models.TrendFinding {
	var out []models.TrendFinding
	for _, tc := range cols {
		if tc.profile.Type != models.ColumnDateTime {
			continue
		}
		for _, mc := range cols {
			if mc.profile.Type != models.ColumnNumeric || len(out) >= maxTrendPairs {
				continue
			}
			sums := map[string]*numAcc{}
			for i, ok := range tc.timeOK {
				if !ok || !mc.numOK[i] {
					continue
				}
				k := tc.times[i].UTC().Format("2006-01")
				if sums[k] == nil {
					sums[k] = &numAcc{}
				}
				sums[k].add(mc.nums[i])
			}
			if len(sums) < 3 {
				continue
			}
			periods := make([]string, 0, len(sums))
			for k := range sums {
				periods = append(periods, k)
			}
			sort.Strings(periods)
			ys := make([]float64, len(periods))
			var pa pairAcc
			for i, k := range periods {
				ys[i] = sums[k].result().Mean
				pa.add(float64(i), ys[i])
			}
			r, _ := pa.r()
			dir := trendDirection(ys)
			if math.Abs(r) < 0.3 {
				dir = "stable"
			}
			out = append(out, models.TrendFinding{
				Measure:   mc.profile.Name,
				Over:      tc.profile.Name,
				Direction: dir,
				Strength:  round3(math.Abs(r)),
			})
		}
	}
	return out
}

func suggestQueries(s models.Schema) []string {
	measures := s.ColumnsOfType(models.ColumnNumeric)
	dims := s.ColumnsOfType(models.ColumnCategorical)
	times := s.ColumnsOfType(models.ColumnDateTime)
	var out []string
	if len(measures) > 0 && len(dims) > 0 {
		out = append(out,
			fmt.Sprintf("What is the total %s by %s?", measures[0], dims[0]),
			fmt.Sprintf("Top 5 %s by %s", dims[0], measures[0]),
			fmt.Sprintf("Compare average %s across %s", measures[0], dims[0]),
		)
	}
	if len(measures) > 0 && len(times) > 0 {
		out = append(out, fmt.Sprintf("Show the trend of %s over time", measures[0]))
	}
	if len(measures) > 1 {
		out = append(out, fmt.Sprintf("What is the average %s?", measures[1]))
	}
	if len(out) == 0 {
		out = append(out, "Give me a profile of this dataset")
	}
	return out
}
