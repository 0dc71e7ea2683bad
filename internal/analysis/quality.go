package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// Dimension weights of the overall quality score.
const (
	weightCompleteness = 0.30
	weightConsistency  = 0.20
	weightAccuracy     = 0.20
	weightUniqueness   = 0.15
	weightValidity     = 0.15
)

// assessQuality scores the processed rows and records issues on the report
// and as flags on the affected columns.
func assessQuality(cols []*column, rows [][]string) models.QualityReport {
	var rep models.QualityReport
	if len(cols) == 0 {
		return rep
	}
	nrows := len(rows)
	cells := nrows * len(cols)

	var nulls int
	var consistency, accuracy, validity float64
	for _, c := range cols {
		nulls += c.profile.NullCount
		cons := columnConsistency(c)
		acc := columnAccuracy(c)
		val := columnValidity(c)
		consistency += cons
		accuracy += acc
		validity += val

		if nrows > 0 {
			ratio := float64(c.profile.NullCount) / float64(nrows)
			if ratio > 0.05 {
				sev := models.SeverityLow
				switch {
				case ratio > 0.5:
					sev = models.SeverityHigh
				case ratio > 0.2:
					sev = models.SeverityMedium
				}
				c.addIssue(&rep, models.QualityIssue{
					Kind:         "missing_values",
					Severity:     sev,
					Description:  fmt.Sprintf("%.1f%% of values are missing", ratio*100),
					AffectedRows: c.profile.NullCount,
					Suggestion:   "impute or drop rows with missing values",
				})
			}
		}
		if c.invalid > 0 {
			sev := models.SeverityLow
			if float64(c.invalid) > 0.01*float64(c.nonNull()) {
				sev = models.SeverityMedium
			}
			c.addIssue(&rep, models.QualityIssue{
				Kind:         "invalid_values",
				Severity:     sev,
				Description:  fmt.Sprintf("%d values do not parse as %s", c.invalid, c.profile.Type),
				AffectedRows: c.invalid,
				Suggestion:   "correct or null out malformed values",
			})
		}
		if cons < 0.9 {
			c.addIssue(&rep, models.QualityIssue{
				Kind:        "inconsistent_format",
				Severity:    models.SeverityMedium,
				Description: fmt.Sprintf("only %.0f%% of values share the dominant format", cons*100),
				Suggestion:  "normalize formatting and casing",
			})
		}
		if st, ok := c.profile.Numeric(); ok && st.Outliers.RobustZCount > 0 {
			c.addIssue(&rep, models.QualityIssue{
				Kind:         "outliers",
				Severity:     models.SeverityLow,
				Description:  fmt.Sprintf("%d values above |z|>%.1f", st.Outliers.RobustZCount, st.Outliers.Threshold),
				AffectedRows: st.Outliers.RobustZCount,
				Suggestion:   "verify extreme values before aggregating",
			})
		}
		if nrows > 1 && c.profile.UniqueCount == 1 && c.profile.NullCount == 0 {
			c.addIssue(&rep, models.QualityIssue{
				Kind:        "constant_column",
				Severity:    models.SeverityLow,
				Description: "column holds a single value",
				Suggestion:  "drop the column from analysis",
			})
		}
	}
	n := float64(len(cols))
	completeness := 1.0
	if cells > 0 {
		completeness = 1 - float64(nulls)/float64(cells)
	}
	dups := duplicateRows(rows)
	uniqueness := 1.0
	if nrows > 0 {
		uniqueness = 1 - float64(dups)/float64(nrows)
	}
	if dups > 0 {
		sev := models.SeverityLow
		if float64(dups) > 0.05*float64(nrows) {
			sev = models.SeverityMedium
		}
		rep.Issues = append(rep.Issues, models.QualityIssue{
			Kind:         "duplicate_rows",
			Severity:     sev,
			Description:  fmt.Sprintf("%d rows duplicate an earlier row", dups),
			AffectedRows: dups,
			Suggestion:   "deduplicate before aggregating",
		})
	}
	rep.Dimensions = models.QualityDimensions{
		Completeness: round1(completeness * 100),
		Consistency:  round1(consistency / n * 100),
		Accuracy:     round1(accuracy / n * 100),
		Uniqueness:   round1(uniqueness * 100),
		Validity:     round1(validity / n * 100),
	}
	d := rep.Dimensions
	rep.Score = round1(weightCompleteness*d.Completeness + weightConsistency*d.Consistency +
		weightAccuracy*d.Accuracy + weightUniqueness*d.Uniqueness + weightValidity*d.Validity)
	return rep
}

func (c *column) addIssue(rep *models.QualityReport, issue models.QualityIssue) {
	issue.Column = c.profile.Name
	rep.Issues = append(rep.Issues, issue)
	c.profile.QualityFlags = append(c.profile.QualityFlags, issue.Kind)
}

// columnConsistency is the share of values in the dominant format: the
// dominant datetime layout, the dominant boolean spelling, or for strings the
// dominant spelling of values that differ only in case or spacing.
func columnConsistency(c *column) float64 {
	n := c.nonNull()
	if n == 0 {
		return 1
	}
	switch c.profile.Type {
	case models.ColumnNumeric:
		return float64(n-c.invalid) / float64(n)
	case models.ColumnDateTime:
		best := 0
		for _, k := range c.layouts {
			if k > best {
				best = k
			}
		}
		return float64(best) / float64(n)
	case models.ColumnBoolean:
		styles := map[string]int{}
		for _, v := range c.raw {
			if v == "" {
				continue
			}
			styles[boolStyle(v)]++
		}
		best := 0
		for _, k := range styles {
			if k > best {
				best = k
			}
		}
		return float64(best) / float64(n)
	}
	// group spellings by their folded form; minority spellings are inconsistent
	spellings := map[string]map[string]int{}
	for _, v := range c.raw {
		if v == "" {
			continue
		}
		key := strings.Join(strings.Fields(strings.ToLower(v)), " ")
		if spellings[key] == nil {
			spellings[key] = map[string]int{}
		}
		spellings[key][v]++
	}
	inconsistent := 0
	for _, forms := range spellings {
		total, best := 0, 0
		for _, k := range forms {
			total += k
			if k > best {
				best = k
			}
		}
		inconsistent += total - best
	}
	return float64(n-inconsistent) / float64(n)
}

func boolStyle(v string) string {
	switch strings.ToLower(v) {
	case "true", "false":
		return "true/false"
	case "yes", "no":
		return "yes/no"
	}
	return "letter"
}

// columnAccuracy flags implausible values: robust outliers for numbers and
// dates outside 1900..now+1y.
func columnAccuracy(c *column) float64 {
	n := c.nonNull()
	if n == 0 {
		return 1
	}
	switch c.profile.Type {
	case models.ColumnNumeric:
		st, _ := c.profile.Numeric()
		return 1 - float64(st.Outliers.RobustZCount)/float64(n)
	case models.ColumnDateTime:
		lo := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
		hi := time.Now().AddDate(1, 0, 0)
		bad := 0
		for i, ok := range c.timeOK {
			if ok && (c.times[i].Before(lo) || c.times[i].After(hi)) {
				bad++
			}
		}
		return 1 - float64(bad)/float64(n)
	}
	return 1
}

// columnValidity is the share of values that parse as the declared type.
func columnValidity(c *column) float64 {
	n := c.nonNull()
	if n == 0 {
		return 1
	}
	return float64(n-c.invalid) / float64(n)
}

func duplicateRows(rows [][]string) int {
	seen := make(map[string]struct{}, len(rows))
	dups := 0
	for _, r := range rows {
		k := strings.Join(r, "\x1f")
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return dups
}

func round1(x float64) float64 {
	return float64(int64(x*10+0.5)) / 10
}
