package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// RenderMarkdown renders a compact profile summary suitable for prompts or
// standalone docs.
func RenderMarkdown(p *models.DataProfile) string {
	var b strings.Builder
	md := p.Metadata
	b.WriteString("[DATASET SUMMARY]\n")
	if md.Filename != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", md.Filename))
	}
	if md.Sheet != "" {
		b.WriteString(fmt.Sprintf("Sheet: %s\n", md.Sheet))
	}
	if md.RowCount > 0 {
		if md.ProcessedRows > 0 && md.ProcessedRows < md.RowCount {
			b.WriteString(fmt.Sprintf("Rows: ~%d (processed %d)\n", md.RowCount, md.ProcessedRows))
		} else {
			b.WriteString(fmt.Sprintf("Rows: %d\n", md.RowCount))
		}
	}
	b.WriteString(fmt.Sprintf("Columns: %d\n", len(p.Schema.Columns)))
	if md.Encoding != "" {
		b.WriteString(fmt.Sprintf("Encoding: %s\n", md.Encoding))
	}
	if p.ID != "" {
		b.WriteString(fmt.Sprintf("Profile: %s (expires %s)\n", p.ID, p.ExpiresAt.Format("2006-01-02 15:04")))
	}
	b.WriteString("\n[SCHEMA]\n")
	total := md.ProcessedRows
	for _, c := range p.Schema.Columns {
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.NullCount) * 100.0 / float64(total)
		}
		name := safeName(c.Name)
		if c.Unit != "" {
			name = fmt.Sprintf("%s [%s]", name, c.Unit)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", name, c.Type, total-c.NullCount, missPct))
		switch st := c.Statistics.(type) {
		case *models.NumericStats:
			b.WriteString(fmt.Sprintf(": min %.4g, max %.4g, mean %.4g, median %.4g, std %.4g", st.Min, st.Max, st.Mean, st.Median, st.StdDev))
			if st.Outliers.MaxAbsZ > 0 {
				b.WriteString(fmt.Sprintf("; outliers: %d above |z|>%.1f (max |z|≈%.2f)", st.Outliers.RobustZCount, st.Outliers.Threshold, st.Outliers.MaxAbsZ))
			}
		case *models.CategoricalStats:
			if len(st.TopValues) > 0 {
				b.WriteString(": top ")
				for i, kv := range st.TopValues {
					if i == 8 {
						break
					}
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if st.Cardinality > len(st.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", st.Cardinality))
				}
			}
		case *models.DateTimeStats:
			if !st.Min.IsZero() {
				b.WriteString(fmt.Sprintf(": %s to %s, %s, trend %s", st.Min.Format("2006-01-02"), st.Max.Format("2006-01-02"), st.Frequency, st.Trend))
			}
		case *models.BooleanStats:
			b.WriteString(fmt.Sprintf(": true %d, false %d", st.TrueCount, st.FalseCount))
		case *models.TextStats:
			if len(c.SampleValues) > 0 {
				b.WriteString(": e.g., ")
				for i, ex := range c.SampleValues {
					if i == 3 {
						break
					}
					if i > 0 {
						b.WriteString(" | ")
					}
					b.WriteString(safeVal(ex))
				}
			}
		}
		b.WriteString("\n")
	}

	q := p.Quality
	b.WriteString("\n[QUALITY]\n")
	b.WriteString(fmt.Sprintf("Score: %.1f/100 (completeness %.1f, consistency %.1f, accuracy %.1f, uniqueness %.1f, validity %.1f)\n",
		q.Score, q.Dimensions.Completeness, q.Dimensions.Consistency, q.Dimensions.Accuracy, q.Dimensions.Uniqueness, q.Dimensions.Validity))
	for _, is := range q.Issues {
		col := ""
		if is.Column != "" {
			col = is.Column + ": "
		}
		b.WriteString(fmt.Sprintf("- [%s] %s%s\n", is.Severity, col, is.Description))
	}

	if sec := p.Security; len(sec.PIIColumns) > 0 {
		b.WriteString("\n[SECURITY]\n")
		b.WriteString(fmt.Sprintf("Risk: %s\n", sec.RiskLevel))
		for _, f := range sec.PIIColumns {
			b.WriteString(fmt.Sprintf("- %s: %s (confidence %.2f)", f.Column, f.Type, f.Confidence))
			if len(f.RedactedSamples) > 0 {
				b.WriteString(" e.g. " + strings.Join(f.RedactedSamples, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(p.Aggregations.Grouped) > 0 {
		b.WriteString("\n[GROUP-BY SUMMARY]\n")
		limit := 6
		for i, g := range p.Aggregations.Grouped {
			if i == limit {
				break
			}
			b.WriteString(fmt.Sprintf("- %s by %s\n", g.Measure, g.Dimension))
			keys := make([]string, 0, len(g.Groups))
			for k := range g.Groups {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for j, k := range keys {
				if j == 8 {
					break
				}
				m := g.Groups[k]
				b.WriteString(fmt.Sprintf("  • %s=%s (n=%d): mean %.4g (min %.4g, max %.4g)\n", g.Dimension, safeVal(k), m.Count, m.Mean, m.Min, m.Max))
			}
		}
	}
	if len(p.Schema.Relationships) > 0 {
		b.WriteString("\n[CORRELATIONS]\n")
		for i, r := range p.Schema.Relationships {
			if i == 10 {
				break
			}
			b.WriteString(fmt.Sprintf("- %s ~ %s: r=%.3f\n", r.From, r.To, r.Coefficient))
		}
	}
	in := p.Insights
	if len(in.Trends)+len(in.Anomalies)+len(in.SuggestedQueries) > 0 {
		b.WriteString("\n[INSIGHTS]\n")
		for _, t := range in.Trends {
			b.WriteString(fmt.Sprintf("- trend: %s %s over %s (strength %.2f)\n", t.Measure, t.Direction, t.Over, t.Strength))
		}
		for _, a := range in.Anomalies {
			b.WriteString(fmt.Sprintf("- anomaly: %s: %s\n", a.Column, a.Description))
		}
		for _, s := range in.SuggestedQueries {
			b.WriteString(fmt.Sprintf("- try: %s\n", s))
		}
	}
	if len(p.SampleData) > 0 {
		b.WriteString("\n[HEAD AND SAMPLE ROWS]\n")
		b.WriteString("| ")
		for i, c := range p.Schema.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeName(c.Name))
		}
		b.WriteString(" |\n| ")
		for i := range p.Schema.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString("---")
		}
		b.WriteString(" |\n")
		for r, row := range p.SampleData {
			if r == 5 {
				break
			}
			b.WriteString("| ")
			for i, c := range p.Schema.Columns {
				if i > 0 {
					b.WriteString(" | ")
				}
				val := row[c.Name]
				if len(val) > 80 {
					val = val[:77] + "..."
				}
				b.WriteString(safeVal(val))
			}
			b.WriteString(" |\n")
		}
	}
	notes := append([]string{}, in.KeyFindings...)
	notes = append(notes, in.Recommendations...)
	if len(notes) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range notes {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}
