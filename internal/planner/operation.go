package planner

import (
	"regexp"
	"strconv"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// reading is the operation part of a question: what to compute and how to
// order and cut the result.
type reading struct {
	fn       models.AggregationFunc
	explicit bool
	groupBy  []string
	bucket   string
	sort     []models.SortKey
	limit    int
	derive   []string
	// superlative asks for the single best or worst group.
	superlative models.SortDirection
}

var fnPatterns = []struct {
	re *regexp.Regexp
	fn models.AggregationFunc
}{
	{regexp.MustCompile(`\b(?:most\s+common|most\s+frequent|mode)\b`), models.AggMode},
	{regexp.MustCompile(`\bmedian\b`), models.AggMedian},
	{regexp.MustCompile(`\b(?:average|avg|mean)\b`), models.AggAvg},
	{regexp.MustCompile(`\b(?:how\s+many|number\s+of|count)\b`), models.AggCount},
	{regexp.MustCompile(`\b(?:total|sum)\b`), models.AggSum},
	{regexp.MustCompile(`\b(?:maximum|max)\b`), models.AggMax},
	{regexp.MustCompile(`\b(?:minimum|min)\b`), models.AggMin},
}

var (
	numberWord = `(\d+|one|two|three|four|five|six|seven|eight|nine|ten|twenty)`
	topNRe     = regexp.MustCompile(`\b(top|best|highest|largest|biggest|bottom|worst|lowest|smallest)\s+` + numberWord + `\b`)
	superRe    = regexp.MustCompile(`\b(highest|largest|biggest|most|top|best|greatest|lowest|smallest|least|fewest|worst|bottom)\b`)
	limitRe    = regexp.MustCompile(`\b(?:limit(?:\s+to)?|first|only)\s+` + numberWord + `\b|\b` + numberWord + `\s+(?:rows|records|results|entries|lines)\b`)
	sortRe     = regexp.MustCompile(`\b(sort(?:ed)?|order(?:ed)?|rank(?:ed)?)\s+(?:it\s+|them\s+|results\s+)?by\s+`)
	dirRe      = regexp.MustCompile(`^\s*(?:in\s+)?(asc|ascending|desc|descending|highest\s+first|largest\s+first|lowest\s+first|smallest\s+first|increasing|decreasing)\b`)
	bucketRe   = regexp.MustCompile(`\b(?:(daily|weekly|monthly|quarterly|yearly|annually|annual)|(?:by|per|each|every)\s+(day|week|month|quarter|year))\b`)
	shareRe    = regexp.MustCompile(`\b(?:share|percentage|percent|proportion|breakdown)\b|% of`)
	changeRe   = regexp.MustCompile(`\b(?:change|changes|growth|grow|grew|increase|decrease|delta|month\s+over\s+month|year\s+over\s+year|mom|yoy)\b`)
	rankRe     = regexp.MustCompile(`\b(?:rank|ranking|ranked)\b`)
)

var smallNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "twenty": 20,
}

func atoiWord(s string) int {
	if n, ok := smallNumbers[s]; ok {
		return n
	}
	n, _ := strconv.Atoi(s)
	return n
}

func isAscending(word string) bool {
	switch word {
	case "bottom", "worst", "lowest", "smallest", "least", "fewest":
		return true
	}
	return false
}

// readOperation extracts the aggregation function, grouping, ordering,
// cut-off and derived fields from the normalized query.
func readOperation(q string, x *extraction, intent models.IntentType, p *models.DataProfile) reading {
	var r reading

	best := -1
	for _, fp := range fnPatterns {
		loc := fp.re.FindStringIndex(q)
		if loc == nil || x.taken(loc[0], loc[1]) {
			continue
		}
		if best < 0 || loc[0] < best {
			best, r.fn, r.explicit = loc[0], fp.fn, true
		}
	}

	r.groupBy = groupDimensions(x, intent, p)
	if x.timeCol != "" && (intent == models.IntentTrend || bucketRe.MatchString(q)) {
		r.bucket = timeBucket(q, x.timeCol, p)
		if !contains(r.groupBy, x.timeCol) {
			r.groupBy = append([]string{x.timeCol}, r.groupBy...)
		}
	}

	if m := topNRe.FindStringSubmatchIndex(q); m != nil && !x.taken(m[0], m[1]) {
		r.limit = atoiWord(q[m[4]:m[5]])
		dir := models.SortDesc
		if isAscending(q[m[2]:m[3]]) {
			dir = models.SortAsc
		}
		r.sort = append(r.sort, models.SortKey{Direction: dir})
	} else if m := superRe.FindStringSubmatchIndex(q); m != nil && r.fn != models.AggMode && !x.taken(m[0], m[1]) {
		r.superlative = models.SortDesc
		if isAscending(q[m[2]:m[3]]) {
			r.superlative = models.SortAsc
		}
	}

	if m := sortRe.FindStringSubmatchIndex(q); m != nil {
		dir := models.SortAsc
		if q[m[2]] == 'r' {
			dir = models.SortDesc
		}
		for _, ref := range x.refs {
			if ref.start < m[1] {
				continue
			}
			if dm := dirRe.FindStringSubmatch(q[ref.end:]); dm != nil {
				switch dm[1] {
				case "desc", "descending", "highest first", "largest first", "decreasing":
					dir = models.SortDesc
				default:
					dir = models.SortAsc
				}
			}
			r.sort = append([]models.SortKey{{Column: ref.col.Name, Direction: dir}}, r.sort...)
			break
		}
	}

	if r.limit == 0 {
		if m := limitRe.FindStringSubmatch(q); m != nil {
			w := m[1]
			if w == "" {
				w = m[2]
			}
			r.limit = atoiWord(w)
		}
	}

	if shareRe.MatchString(q) {
		r.derive = append(r.derive, models.DeriveShare)
	}
	if r.bucket != "" && changeRe.MatchString(q) {
		r.derive = append(r.derive, models.DeriveChange)
	}
	if rankRe.MatchString(q) {
		r.derive = append(r.derive, models.DeriveRank)
	}
	return r
}

// groupDimensions are the mentioned categorical and boolean columns. A
// comparison also groups by a column filtered to a value list ("north vs
// south").
func groupDimensions(x *extraction, intent models.IntentType, p *models.DataProfile) []string {
	var out []string
	for _, name := range x.dimensions() {
		if c, ok := p.Schema.Column(name); ok && c.Type != models.ColumnDateTime {
			out = append(out, name)
		}
	}
	for _, f := range x.filters {
		if intent != models.IntentComparison || f.Operator != models.OpIn {
			continue
		}
		if !contains(out, f.Column) {
			out = append(out, f.Column)
		}
	}
	return out
}

// timeBucket picks the period a trend is bucketed by: an explicit word wins,
// then the column's observed frequency, then month.
func timeBucket(q, col string, p *models.DataProfile) string {
	if m := bucketRe.FindStringSubmatch(q); m != nil {
		switch w := m[1] + m[2]; w {
		case "daily", "day":
			return "day"
		case "weekly", "week":
			return "week"
		case "monthly", "month":
			return "month"
		case "quarterly", "quarter":
			return "quarter"
		default:
			return "year"
		}
	}
	if c, ok := p.Schema.Column(col); ok {
		if st, ok := c.DateTime(); ok {
			switch st.Frequency {
			case "hourly", "daily":
				if st.RangeDays > 92 {
					return "month"
				}
				return "day"
			case "weekly":
				if st.RangeDays > 365 {
					return "month"
				}
				return "week"
			case "quarterly":
				return "quarter"
			case "yearly":
				return "year"
			}
		}
	}
	return "month"
}

// refineType corrects the classifier with what actually resolved.
func refineType(t models.IntentType, x *extraction, r *reading) models.IntentType {
	measures := x.measures()
	switch t {
	case models.IntentTrend:
		if x.timeCol == "" {
			x.unresolved = append(x.unresolved, "time axis")
			if len(r.groupBy) > 0 {
				return models.IntentComparison
			}
			return models.IntentAggregation
		}
	case models.IntentComparison:
		if len(r.groupBy) == 0 && len(measures) > 1 {
			return models.IntentAggregation
		}
		// "revenue between 2024-02-01 and 2024-04-30" bounds a period and
		// compares nothing
		if len(r.groupBy) == 0 && x.timeRange != nil {
			if len(measures) == 1 || r.explicit {
				return models.IntentAggregation
			}
			return models.IntentFilter
		}
	case models.IntentFilter:
		if len(x.filters) == 0 && x.timeRange == nil && (r.explicit || len(r.groupBy) > 0) {
			return models.IntentAggregation
		}
	case models.IntentCustom:
		switch {
		case len(x.refs) == 0:
			return models.IntentCustom
		case len(x.filters) > 0 && !r.explicit && len(r.groupBy) == 0:
			return models.IntentFilter
		case len(r.groupBy) > 0 || len(measures) > 0:
			return models.IntentAggregation
		}
	}
	return t
}

// settle fills defaults the type implies and resolves superlatives.
func settle(t models.IntentType, x *extraction, r *reading) {
	measures := x.measures()
	if r.fn == models.AggMode && len(measures) == 0 && len(r.groupBy) > 0 {
		// "most common region" counts rows per region
		r.fn, r.superlative = models.AggCount, models.SortDesc
	}
	switch t {
	case models.IntentTrend, models.IntentComparison, models.IntentAggregation:
		if r.fn == "" {
			if r.superlative != "" && len(r.groupBy) == 0 {
				r.fn = models.AggMax
				if r.superlative == models.SortAsc {
					r.fn = models.AggMin
				}
			} else if len(measures) > 0 {
				r.fn = models.AggSum
			} else {
				r.fn = models.AggCount
			}
		}
	case models.IntentFilter:
		if r.fn == "" && len(r.groupBy) > 0 {
			r.fn = models.AggCount
		}
	}
	if r.superlative != "" && len(r.groupBy) > 0 && len(r.sort) == 0 {
		r.sort = []models.SortKey{{Direction: r.superlative}}
		if r.limit == 0 {
			r.limit = 1
		}
	}
	if t == models.IntentTrend && len(r.sort) == 0 && x.timeCol != "" {
		r.sort = []models.SortKey{{Column: x.timeCol, Direction: models.SortAsc}}
	}
	if r.fn == "" {
		r.derive = nil
	}
}

// resolvedOperation reports whether the intent has everything its type needs.
func resolvedOperation(t models.IntentType, x *extraction, r reading) bool {
	measures := x.measures()
	switch t {
	case models.IntentProfile:
		return true
	case models.IntentTrend:
		return x.timeCol != "" && (len(measures) > 0 || r.fn == models.AggCount)
	case models.IntentComparison:
		return len(r.groupBy) > 0 && (len(measures) > 0 || r.fn == models.AggCount)
	case models.IntentAggregation:
		return r.fn != "" && (len(measures) > 0 || r.fn == models.AggCount)
	case models.IntentFilter:
		return len(x.filters) > 0 || x.timeRange != nil
	}
	return false
}

// confidence is 0.2 base, 0.3 for keyword evidence, 0.3 scaled by entity
// coverage and 0.2 when the operation resolved. Custom intents score 0.
func confidence(t models.IntentType, c Classification, x *extraction, r reading) float64 {
	if t == models.IntentCustom {
		return 0
	}
	score := 0.2 + 0.3*x.coverage()
	if c.Score > 0 {
		score += 0.3
	}
	if resolvedOperation(t, x, r) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return round2(score)
}

// visualization suggests a chart for the result shape.
func visualization(t models.IntentType, r reading, y string) *models.VisualizationHint {
	switch {
	case t == models.IntentTrend && len(r.groupBy) > 0:
		return &models.VisualizationHint{ChartType: "line", X: r.groupBy[0], Y: y}
	case t == models.IntentProfile:
		return &models.VisualizationHint{ChartType: "table"}
	case len(r.groupBy) > 0 && r.fn != "":
		chart := "bar"
		for _, d := range r.derive {
			if d == models.DeriveShare {
				chart = "pie"
			}
		}
		return &models.VisualizationHint{ChartType: chart, X: r.groupBy[0], Y: y}
	case r.fn != "":
		return &models.VisualizationHint{ChartType: "metric", Y: y}
	}
	return &models.VisualizationHint{ChartType: "table"}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
