package planner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// columnRef is one mention of a column in the normalized query.
type columnRef struct {
	col        models.ColumnProfile
	start, end int
	// filtered is set when an operator right after the mention consumed it.
	filtered bool
}

// extraction is everything resolved from the query text against a schema.
type extraction struct {
	refs       []columnRef
	filters    []models.FilterCondition
	timeRange  *models.TimeRange
	timeCol    string
	resolved   int
	unresolved []string
	// consumed spans are not reused by later passes.
	consumed [][2]int
}

func (x *extraction) taken(s, e int) bool {
	for _, sp := range x.consumed {
		if s < sp[1] && sp[0] < e {
			return true
		}
	}
	for _, r := range x.refs {
		if s < r.end && r.start < e {
			return true
		}
	}
	return false
}

func (x *extraction) hasFilter(col string) bool {
	for _, f := range x.filters {
		if strings.EqualFold(f.Column, col) {
			return true
		}
	}
	return false
}

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	trailRe  = regexp.MustCompile(`[?!.\s]+$`)
	quoteRep = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)
)

// normalizeQuery lowercases q, unifies quotes and collapses whitespace.
func normalizeQuery(q string) string {
	q = quoteRep.Replace(strings.ToLower(q))
	q = spaceRe.ReplaceAllString(strings.TrimSpace(q), " ")
	return trailRe.ReplaceAllString(q, "")
}

// aliases lists the spellings a column may be referred to by.
func aliases(name string) []string {
	base := strings.ToLower(strings.TrimSpace(name))
	spaced := strings.Join(strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	}), " ")
	set := map[string]struct{}{}
	for _, a := range []string{base, spaced} {
		if a == "" {
			continue
		}
		set[a] = struct{}{}
		set[plural(a)] = struct{}{}
		set[singular(a)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		if len(a) > 1 {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func plural(w string) string {
	switch {
	case strings.HasSuffix(w, "s"), strings.HasSuffix(w, "x"), strings.HasSuffix(w, "ch"), strings.HasSuffix(w, "sh"):
		return w + "es"
	case strings.HasSuffix(w, "y") && len(w) > 1 && !strings.ContainsRune("aeiou", rune(w[len(w)-2])):
		return w[:len(w)-1] + "ies"
	}
	return w + "s"
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 3:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 1:
		return w[:len(w)-1]
	}
	return w
}

// findPhrase returns the whole-word occurrences of phrase in q.
func findPhrase(q, phrase string) [][2]int {
	var out [][2]int
	if phrase == "" {
		return nil
	}
	for from := 0; from < len(q); {
		i := strings.Index(q[from:], phrase)
		if i < 0 {
			break
		}
		s, e := from+i, from+i+len(phrase)
		if boundaryBefore(q, s) && boundaryAfter(q, e) {
			out = append(out, [2]int{s, e})
		}
		from = s + 1
	}
	return out
}

func boundaryBefore(q string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(q[:i])
	return !isWordRune(r)
}

func boundaryAfter(q string, i int) bool {
	if i >= len(q) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(q[i:])
	return !isWordRune(r)
}

// findRefs resolves column mentions, longest alias first so that
// "unit price" wins over "price".
func findRefs(q string, schema models.Schema) []columnRef {
	type cand struct {
		alias string
		col   int
	}
	var cands []cand
	for i, c := range schema.Columns {
		for _, a := range aliases(c.Name) {
			cands = append(cands, cand{alias: a, col: i})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i].alias) > len(cands[j].alias) })

	var refs []columnRef
	overlaps := func(s, e int) bool {
		for _, r := range refs {
			if s < r.end && r.start < e {
				return true
			}
		}
		return false
	}
	for _, c := range cands {
		for _, sp := range findPhrase(q, c.alias) {
			if !overlaps(sp[0], sp[1]) {
				refs = append(refs, columnRef{col: schema.Columns[c.col], start: sp[0], end: sp[1]})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].start < refs[j].start })
	return refs
}

const (
	valueExpr = `("[^"]*"|'[^']*'|[^\s,;?!()]+)`
	itemExpr  = `(?:"[^"]*"|'[^']*'|[^\s,;?!()]+)`
	listExpr  = `\(?\s*(` + itemExpr + `(?:\s*(?:,\s*(?:and\s+|or\s+)?|\s+or\s+)` + itemExpr + `)*)\s*\)?`
)

// opPatterns are tried in order against the text right after a column mention.
var opPatterns = []struct {
	re   *regexp.Regexp
	op   models.FilterOperator
	list bool
}{
	{opRe(nil, []string{"not in", "not one of"}, listExpr), models.OpNotIn, true},
	{opRe(nil, []string{"in", "one of"}, listExpr), models.OpIn, true},
	{opRe([]string{">=", "=>"}, []string{"at least", "no less than", "greater than or equal to"}, valueExpr), models.OpGte, false},
	{opRe([]string{"<=", "=<"}, []string{"at most", "no more than", "less than or equal to"}, valueExpr), models.OpLte, false},
	{opRe([]string{"!=", "<>"}, []string{"not equal to", "other than", "isn't", "not"}, valueExpr), models.OpNe, false},
	{opRe([]string{">"}, []string{"greater than", "more than", "higher than", "above", "over", "exceeds", "exceeding", "after"}, valueExpr), models.OpGt, false},
	{opRe([]string{"<"}, []string{"less than", "fewer than", "lower than", "below", "under", "before"}, valueExpr), models.OpLt, false},
	{opRe(nil, []string{"contains", "containing", "includes", "including", "like"}, valueExpr), models.OpContains, false},
	{opRe(nil, []string{"starts with", "starting with", "begins with", "beginning with"}, valueExpr), models.OpStartsWith, false},
	{opRe(nil, []string{"ends with", "ending with"}, valueExpr), models.OpEndsWith, false},
	{opRe([]string{"==", "="}, []string{"equal to", "equals", "is"}, valueExpr), models.OpEq, false},
}

// opRe builds an anchored operator pattern: symbols may touch the value,
// words must be followed by whitespace. A leading "is" is optional.
func opRe(symbols, words []string, tail string) *regexp.Regexp {
	var alts []string
	for _, s := range symbols {
		alts = append(alts, regexp.QuoteMeta(s)+`\s*`)
	}
	for _, w := range words {
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`)+`\s+`)
	}
	return regexp.MustCompile(`^\s*(?:is\s+)?(?:` + strings.Join(alts, "|") + `)` + tail)
}

var listSplitRe = regexp.MustCompile(`\s*,\s*(?:and\s+|or\s+)?|\s+or\s+`)

// operatorFilters parses "<column> <operator> <value>" after each mention.
// Datetime comparisons become the time range instead of filters.
func (x *extraction) operatorFilters(q string, p *models.DataProfile) {
	for i := range x.refs {
		ref := &x.refs[i]
		rest := q[ref.end:]
		for _, pat := range opPatterns {
			m := pat.re.FindStringSubmatchIndex(rest)
			if m == nil {
				continue
			}
			raw := rest[m[2]:m[3]]
			if ref.col.Type == models.ColumnDateTime {
				if pat.list || !x.applyTimeOperator(ref.col.Name, pat.op, raw) {
					continue
				}
			} else {
				fc, ok := typedFilter(ref.col, pat.op, raw, pat.list, p)
				if !ok {
					continue
				}
				x.filters = append(x.filters, fc)
			}
			ref.filtered = true
			x.consumed = append(x.consumed, [2]int{ref.start, ref.end + m[1]})
			break
		}
	}
}

// typedFilter converts raw into the value type the column declares.
func typedFilter(col models.ColumnProfile, op models.FilterOperator, raw string, list bool, p *models.DataProfile) (models.FilterCondition, bool) {
	fc := models.FilterCondition{Column: col.Name, Operator: op}
	if list {
		if col.Type == models.ColumnNumeric || col.Type == models.ColumnDateTime {
			return fc, false
		}
		known := knownValues(col, p)
		var vals []string
		for _, item := range listSplitRe.Split(raw, -1) {
			v := unquote(item)
			if v == "" || isStopword(v) {
				continue
			}
			if len(known) > 0 && !containsFold(known, v) {
				// "region in march" is not a membership test
				return fc, false
			}
			vals = append(vals, canonicalValue(col, v, p))
		}
		if len(vals) == 0 {
			return fc, false
		}
		fc.Value = vals
		return fc, true
	}
	v := unquote(raw)
	if v == "" || isStopword(v) {
		return fc, false
	}
	switch col.Type {
	case models.ColumnNumeric:
		if !isOrdering(op) && op != models.OpEq && op != models.OpNe {
			return fc, false
		}
		f, ok := parseNumber(v)
		if !ok {
			return fc, false
		}
		fc.Value = f
	case models.ColumnBoolean:
		if op != models.OpEq && op != models.OpNe {
			return fc, false
		}
		b, ok := parseBoolWord(v)
		if !ok {
			return fc, false
		}
		fc.Value = b
	default:
		if isOrdering(op) {
			return fc, false
		}
		fc.Value = canonicalValue(col, v, p)
	}
	return fc, true
}

func isOrdering(op models.FilterOperator) bool {
	switch op {
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		return true
	}
	return false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// canonicalValue restores the dataset's spelling of a categorical value.
func canonicalValue(col models.ColumnProfile, v string, p *models.DataProfile) string {
	for _, known := range knownValues(col, p) {
		if strings.EqualFold(known, v) {
			return known
		}
	}
	return v
}

func containsFold(vals []string, v string) bool {
	for _, k := range vals {
		if strings.EqualFold(k, v) {
			return true
		}
	}
	return false
}

// knownValues are the observed values of a categorical or boolean column.
func knownValues(col models.ColumnProfile, p *models.DataProfile) []string {
	var out []string
	if p != nil {
		for _, vc := range p.Aggregations.Categorical[col.Name] {
			out = append(out, vc.Value)
		}
	}
	if len(out) == 0 {
		if st, ok := col.Categorical(); ok {
			for _, vc := range st.TopValues {
				out = append(out, vc.Value)
			}
		}
	}
	return out
}

var numberSuffix = map[byte]float64{'k': 1e3, 'm': 1e6, 'b': 1e9}

func parseNumber(s string) (float64, bool) {
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "%", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	if m, ok := numberSuffix[s[len(s)-1]]; ok && len(s) > 1 {
		mult, s = m, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

func parseBoolWord(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "t", "1":
		return true, true
	case "false", "no", "n", "f", "0":
		return false, true
	}
	return false, false
}

// valueFilters turns bare mentions of known categorical values into equality
// (or membership) filters, e.g. "revenue in the north region".
func (x *extraction) valueFilters(q string, p *models.DataProfile) {
	for _, col := range p.Schema.Columns {
		if col.Type != models.ColumnCategorical || x.hasFilter(col.Name) {
			continue
		}
		var hits []string
		var spans [][2]int
		for _, v := range knownValues(col, p) {
			lv := strings.ToLower(strings.TrimSpace(v))
			if utf8.RuneCountInString(lv) < 2 || isStopword(lv) {
				continue
			}
			for _, sp := range findPhrase(q, lv) {
				if x.taken(sp[0], sp[1]) {
					continue
				}
				hits = append(hits, v)
				spans = append(spans, sp)
				break
			}
		}
		switch len(hits) {
		case 0:
			continue
		case 1:
			x.filters = append(x.filters, models.FilterCondition{Column: col.Name, Operator: models.OpEq, Value: hits[0]})
		default:
			x.filters = append(x.filters, models.FilterCondition{Column: col.Name, Operator: models.OpIn, Value: hits})
		}
		x.consumed = append(x.consumed, spans...)
		x.resolved++
	}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "or": true, "the": true, "of": true, "in": true, "on": true,
	"by": true, "for": true, "to": true, "is": true, "are": true, "all": true, "any": true, "me": true,
	"show": true, "what": true, "which": true, "how": true, "with": true, "per": true, "each": true,
	"none": true, "other": true, "total": true, "top": true,
}

func isStopword(s string) bool { return stopwords[s] }

var cueRe = regexp.MustCompile(`\b(?:by|per|of|across|for\s+each|grouped\s+by)\s+(?:the\s+|each\s+|every\s+|all\s+)?([a-z][a-z0-9_\-]*)`)

// ignoredReferents follow cue words without naming a column.
var ignoredReferents = map[string]bool{
	"time": true, "day": true, "days": true, "week": true, "weeks": true, "month": true, "months": true,
	"quarter": true, "quarters": true, "year": true, "years": true, "date": true, "rows": true, "row": true,
	"records": true, "record": true, "data": true, "dataset": true, "it": true, "them": true, "this": true,
	"that": true, "these": true, "those": true, "values": true, "value": true, "entries": true, "items": true,
	"total": true, "average": true, "count": true, "number": true, "sum": true, "share": true, "percentage": true,
	"one": true, "two": true, "three": true,
}

// unresolvedReferents finds words after "by", "per", "of"... that name no
// column; they lower the entity coverage of the query.
func (x *extraction) unresolvedReferents(q string) {
	for _, m := range cueRe.FindAllStringSubmatchIndex(q, -1) {
		s, e := m[2], m[3]
		if x.taken(s, e) {
			continue
		}
		w := q[s:e]
		if ignoredReferents[w] || isStopword(w) {
			continue
		}
		x.unresolved = append(x.unresolved, w)
	}
}

// coverage is the share of referenced entities that resolved to the schema.
func (x *extraction) coverage() float64 {
	total := x.resolved + len(x.unresolved)
	if total == 0 {
		return 0
	}
	return float64(x.resolved) / float64(total)
}

// extract runs every resolution pass over the normalized query.
func extract(q string, p *models.DataProfile) *extraction {
	x := &extraction{refs: findRefs(q, p.Schema)}
	seen := map[string]bool{}
	for _, r := range x.refs {
		if !seen[r.col.Name] {
			seen[r.col.Name] = true
			x.resolved++
		}
	}
	x.timeCol = pickTimeColumn(x.refs, p.Schema)
	x.operatorFilters(q, p)
	x.valueFilters(q, p)
	x.timeRanges(q, p)
	x.unresolvedReferents(q)
	return x
}

// pickTimeColumn prefers a mentioned datetime column, then the first one.
func pickTimeColumn(refs []columnRef, schema models.Schema) string {
	for _, r := range refs {
		if r.col.Type == models.ColumnDateTime {
			return r.col.Name
		}
	}
	if cols := schema.ColumnsOfType(models.ColumnDateTime); len(cols) > 0 {
		return cols[0]
	}
	return ""
}

// measures are numeric columns mentioned other than purely as filters.
func (x *extraction) measures() []string {
	return x.mentioned(func(c models.ColumnProfile) bool { return c.Type == models.ColumnNumeric })
}

// dimensions are categorical, boolean or datetime columns mentioned other
// than purely as filters.
func (x *extraction) dimensions() []string {
	return x.mentioned(func(c models.ColumnProfile) bool {
		switch c.Type {
		case models.ColumnCategorical, models.ColumnBoolean, models.ColumnDateTime:
			return true
		}
		return false
	})
}

func (x *extraction) mentioned(keep func(models.ColumnProfile) bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range x.refs {
		if r.filtered || !keep(r.col) || seen[r.col.Name] {
			continue
		}
		seen[r.col.Name] = true
		out = append(out, r.col.Name)
	}
	return out
}
