package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

const dateExpr = `(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{4}[-/]\d{1,2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4}|\d{4})`

var (
	betweenRe = regexp.MustCompile(`\bbetween\s+` + dateExpr + `\s+and\s+` + dateExpr + `\b`)
	fromToRe  = regexp.MustCompile(`\bfrom\s+` + dateExpr + `\s+(?:to|until|till|through|thru)\s+` + dateExpr + `\b`)
	sinceRe   = regexp.MustCompile(`\b(?:since|from|starting\s+from|starting\s+in)\s+` + dateExpr + `\b`)
	afterRe   = regexp.MustCompile(`\bafter\s+` + dateExpr + `\b`)
	beforeRe  = regexp.MustCompile(`\b(?:before|until|till|prior\s+to)\s+` + dateExpr + `\b`)
	duringRe  = regexp.MustCompile(`\b(?:in|during|for)\s+` + dateExpr + `\b`)
	lastRe    = regexp.MustCompile(`\b(?:last|past|previous)\s+(?:(\d+)\s+)?(day|week|month|quarter|year)s?\b`)
	thisRe    = regexp.MustCompile(`\bthis\s+(month|quarter|year)\b`)
	ymdRe     = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	ymRe      = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})$`)
	monRe     = regexp.MustCompile(`^([a-z]{3})[a-z]*\.?\s+(\d{4})$`)
)

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// parsePeriod returns the half-open interval [start, next) that s denotes:
// a day, a month or a year.
func parsePeriod(s string) (start, next time.Time, ok bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if m := ymdRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo < 1 || mo > 12 || d < 1 || d > 31 {
			return start, next, false
		}
		start = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), true
	}
	if m := ymRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if mo < 1 || mo > 12 {
			return start, next, false
		}
		start = time.Date(y, time.Month(mo), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	}
	if m := monRe.FindStringSubmatch(s); m != nil {
		mo, known := monthByPrefix[m[1]]
		if !known {
			return start, next, false
		}
		y, _ := strconv.Atoi(m[2])
		start = time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	}
	if len(s) == 4 {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1900 || y > 2100 {
			return start, next, false
		}
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), true
	}
	return start, next, false
}

func (x *extraction) bound(start, end time.Time) {
	if x.timeRange == nil {
		x.timeRange = &models.TimeRange{Column: x.timeCol}
	}
	if !start.IsZero() {
		x.timeRange.Start = start
	}
	if !end.IsZero() {
		x.timeRange.End = end
	}
}

// applyTimeOperator turns "<datetime column> <op> <date>" into bounds.
func (x *extraction) applyTimeOperator(col string, op models.FilterOperator, raw string) bool {
	start, next, ok := parsePeriod(unquote(raw))
	if !ok {
		return false
	}
	if x.timeRange != nil && x.timeRange.Column != col {
		return false
	}
	x.timeCol = col
	switch op {
	case models.OpGt:
		x.bound(next, time.Time{})
	case models.OpGte:
		x.bound(start, time.Time{})
	case models.OpLt:
		x.bound(time.Time{}, start)
	case models.OpLte:
		x.bound(time.Time{}, next)
	case models.OpEq:
		x.bound(start, next)
	default:
		return false
	}
	return true
}

// timeRanges reads free-standing time expressions ("in 2023", "last 3
// months", "between 2023-01 and 2023-06") against the chosen time column.
// Relative ranges are anchored at the column's latest value.
func (x *extraction) timeRanges(q string, p *models.DataProfile) {
	type hit struct {
		m   []int
		set func(m []int)
	}
	period := func(m []int, i int) (time.Time, time.Time, bool) {
		return parsePeriod(q[m[2*i]:m[2*i+1]])
	}
	hits := []hit{
		{betweenRe.FindStringSubmatchIndex(q), func(m []int) {
			s, _, ok1 := period(m, 1)
			_, e, ok2 := period(m, 2)
			if ok1 && ok2 {
				x.bound(s, e)
			}
		}},
		{fromToRe.FindStringSubmatchIndex(q), func(m []int) {
			s, _, ok1 := period(m, 1)
			_, e, ok2 := period(m, 2)
			if ok1 && ok2 {
				x.bound(s, e)
			}
		}},
		{sinceRe.FindStringSubmatchIndex(q), func(m []int) {
			if s, _, ok := period(m, 1); ok {
				x.bound(s, time.Time{})
			}
		}},
		{afterRe.FindStringSubmatchIndex(q), func(m []int) {
			if _, n, ok := period(m, 1); ok {
				x.bound(n, time.Time{})
			}
		}},
		{beforeRe.FindStringSubmatchIndex(q), func(m []int) {
			if s, _, ok := period(m, 1); ok {
				x.bound(time.Time{}, s)
			}
		}},
		{duringRe.FindStringSubmatchIndex(q), func(m []int) {
			if s, n, ok := period(m, 1); ok {
				x.bound(s, n)
			}
		}},
		{lastRe.FindStringSubmatchIndex(q), func(m []int) {
			n := 1
			if m[2] >= 0 {
				n, _ = strconv.Atoi(q[m[2]:m[3]])
			}
			anchor := x.anchor(p)
			x.bound(shift(anchor, q[m[4]:m[5]], -n), time.Time{})
		}},
		{thisRe.FindStringSubmatchIndex(q), func(m []int) {
			x.bound(periodStart(x.anchor(p), q[m[2]:m[3]]), time.Time{})
		}},
	}
	for _, h := range hits {
		if h.m == nil || x.taken(h.m[0], h.m[1]) {
			continue
		}
		if x.timeCol == "" {
			x.unresolved = append(x.unresolved, strings.TrimSpace(q[h.m[0]:h.m[1]]))
			x.consumed = append(x.consumed, [2]int{h.m[0], h.m[1]})
			continue
		}
		before := x.timeRange
		var snapshot models.TimeRange
		if before != nil {
			snapshot = *before
		}
		h.set(h.m)
		if x.timeRange != nil && (before == nil || *x.timeRange != snapshot) {
			x.consumed = append(x.consumed, [2]int{h.m[0], h.m[1]})
		}
	}
	if x.timeRange != nil {
		x.resolved++
	}
}

// anchor is the latest value of the time column, or now when unknown.
func (x *extraction) anchor(p *models.DataProfile) time.Time {
	if c, ok := p.Schema.Column(x.timeCol); ok {
		if st, ok := c.DateTime(); ok && !st.Max.IsZero() {
			return st.Max.UTC()
		}
	}
	return time.Now().UTC()
}

func shift(t time.Time, unit string, n int) time.Time {
	switch unit {
	case "day":
		return t.AddDate(0, 0, n)
	case "week":
		return t.AddDate(0, 0, 7*n)
	case "month":
		return t.AddDate(0, n, 0)
	case "quarter":
		return t.AddDate(0, 3*n, 0)
	}
	return t.AddDate(n, 0, 0)
}

func periodStart(t time.Time, unit string) time.Time {
	switch unit {
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "quarter":
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}
