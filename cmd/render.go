package cmd

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/tabsense-cli/internal/executor"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// maxRenderedRows caps the markdown answer table.
const maxRenderedRows = 50

func renderPlan(r *models.QueryPlannerResult) string {
	var b strings.Builder
	if in := r.QueryIntent; in != nil {
		b.WriteString("[QUERY INTENT]\n")
		b.WriteString(fmt.Sprintf("Question: %s\n", in.Query))
		b.WriteString(fmt.Sprintf("Type: %s (confidence %.2f)\n", in.Type, in.Confidence))
		if len(in.Entities.Measures) > 0 {
			b.WriteString(fmt.Sprintf("Measures: %s\n", strings.Join(in.Entities.Measures, ", ")))
		}
		if len(in.Entities.Dimensions) > 0 {
			b.WriteString(fmt.Sprintf("Dimensions: %s\n", strings.Join(in.Entities.Dimensions, ", ")))
		}
		for _, f := range in.Entities.Filters {
			b.WriteString(fmt.Sprintf("Filter: %s %s %v\n", f.Column, f.Operator, f.Value))
		}
		if tr := in.Entities.TimeRange; tr != nil {
			b.WriteString(fmt.Sprintf("Time range: %s %s .. %s\n", tr.Column, dateOrOpen(tr.Start.IsZero(), tr.Start.Format("2006-01-02")), dateOrOpen(tr.End.IsZero(), tr.End.Format("2006-01-02"))))
		}
		if v := in.Visualization; v != nil {
			b.WriteString(fmt.Sprintf("Visualization: %s\n", v.ChartType))
		}
		b.WriteString("\n")
	}
	if p := r.ExecutionPlan; p != nil {
		b.WriteString("[EXECUTION PLAN]\n")
		for i, s := range p.Steps {
			line := fmt.Sprintf("%d. %s", i+1, executor.Describe(s))
			if len(s.DependsOn) > 0 {
				line += fmt.Sprintf(" (after %s)", strings.Join(s.DependsOn, ", "))
			}
			b.WriteString(line + "\n")
		}
		b.WriteString(fmt.Sprintf("Estimated: %.0fms, cost %.1f\n", p.EstimatedTime, p.EstimatedCost))
		if len(p.Optimizations) > 0 {
			b.WriteString(fmt.Sprintf("Optimizations: %s\n", strings.Join(p.Optimizations, ", ")))
		}
		if p.FallbackToLLM {
			b.WriteString("⚠ Low confidence: the answer may not match the question.\n")
		}
	}
	return b.String()
}

func dateOrOpen(open bool, s string) string {
	if open {
		return "*"
	}
	return s
}

func renderAnswer(question string, r *models.AnalysisResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[ANSWER] %s\n\n", question))
	if len(r.Data) == 0 {
		b.WriteString("No rows matched.\n")
	} else {
		b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
		b.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")
		for i, row := range r.Data {
			if i == maxRenderedRows {
				b.WriteString(fmt.Sprintf("\n… %d more rows (use --format json for all)\n", len(r.Data)-maxRenderedRows))
				break
			}
			cells := make([]string, len(r.Columns))
			for j, col := range r.Columns {
				cells[j] = formatCell(row[col])
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}
	if len(r.Insights) > 0 {
		b.WriteString("\n[INSIGHTS]\n")
		for _, in := range r.Insights {
			b.WriteString(fmt.Sprintf("- %s: %s\n", in.Title, in.Description))
		}
	}
	if len(r.Suggestions) > 0 {
		b.WriteString("\n[CHARTS]\n")
		for _, s := range r.Suggestions {
			b.WriteString(fmt.Sprintf("- %s", s.ChartType))
			if s.X != "" || s.Y != "" {
				b.WriteString(fmt.Sprintf(" (x=%s, y=%s)", s.X, s.Y))
			}
			b.WriteString(fmt.Sprintf(": %s\n", s.Reason))
		}
	}
	md := r.Metadata
	cache := "miss"
	if md.CacheHit {
		cache = "hit"
	}
	b.WriteString(fmt.Sprintf("\n%d data points, %.1fms, cache %s, via %s\n", md.DataPoints, md.ExecutionTime, cache, strings.Join(md.AgentPath, " → ")))
	return b.String()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.4g", x)
	case string:
		return strings.ReplaceAll(x, "|", "\\|")
	}
	return fmt.Sprint(v)
}
