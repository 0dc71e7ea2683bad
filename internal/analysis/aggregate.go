package analysis

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

const maxCategoricalCounts = 50

// aggregate precomputes the summaries the executor answers from.
func aggregate(cols []*column, maxCardinality int) models.Aggregations {
	agg := models.Aggregations{
		Numeric:     map[string]models.NumericAggregate{},
		Categorical: map[string][]models.ValueCount{},
		Temporal:    map[string][]models.TimeBucket{},
	}
	if maxCardinality <= 0 {
		maxCardinality = 50
	}
	var measures, dims []*column
	for _, c := range cols {
		switch c.profile.Type {
		case models.ColumnNumeric:
			measures = append(measures, c)
			var na numAcc
			for i, ok := range c.numOK {
				if ok {
					na.add(c.nums[i])
				}
			}
			agg.Numeric[c.profile.Name] = na.result()
		case models.ColumnCategorical, models.ColumnBoolean:
			var vals []string
			for _, v := range c.norm {
				if v != "" {
					vals = append(vals, v)
				}
			}
			counts := countValues(vals)
			if len(counts) <= maxCardinality {
				dims = append(dims, c)
			}
			if len(counts) > maxCategoricalCounts {
				counts = counts[:maxCategoricalCounts]
			}
			agg.Categorical[c.profile.Name] = counts
		case models.ColumnDateTime:
			buckets := map[string]int{}
			for i, ok := range c.timeOK {
				if ok {
					buckets[c.times[i].UTC().Format("2006-01")]++
				}
			}
			periods := make([]string, 0, len(buckets))
			for k := range buckets {
				periods = append(periods, k)
			}
			sort.Strings(periods)
			for _, k := range periods {
				agg.Temporal[c.profile.Name] = append(agg.Temporal[c.profile.Name], models.TimeBucket{Period: k, Count: buckets[k]})
			}
		}
	}
	for _, d := range dims {
		for _, m := range measures {
			groups := map[string]*numAcc{}
			for i, key := range d.norm {
				if key == "" || !m.numOK[i] {
					continue
				}
				ga := groups[key]
				if ga == nil {
					ga = &numAcc{}
					groups[key] = ga
				}
				ga.add(m.nums[i])
			}
			ga := models.GroupedAggregate{
				Dimension: d.profile.Name,
				Measure:   m.profile.Name,
				RowCount:  len(d.norm),
				Groups:    make(map[string]models.NumericAggregate, len(groups)),
			}
			for k, acc := range groups {
				ga.Groups[k] = acc.result()
			}
			agg.Grouped = append(agg.Grouped, ga)
		}
	}
	return agg
}

type numAcc struct {
	n             int
	sum, min, max float64
}

func (a *numAcc) add(x float64) {
	if a.n == 0 || x < a.min {
		a.min = x
	}
	if a.n == 0 || x > a.max {
		a.max = x
	}
	a.n++
	a.sum += x
}

func (a *numAcc) result() models.NumericAggregate {
	out := models.NumericAggregate{Count: a.n, Sum: a.sum, Min: a.min, Max: a.max}
	if a.n > 0 {
		out.Mean = a.sum / float64(a.n)
	}
	return out
}

// indexHints suggests secondary indexes on filterable columns, composite
// (dimension, time) pairs and full-text indexes on free text.
func indexHints(cols []*column) models.Indexes {
	var idx models.Indexes
	var timeCol string
	for _, c := range cols {
		if c.profile.Type == models.ColumnDateTime && timeCol == "" {
			timeCol = c.profile.Name
		}
	}
	for _, c := range cols {
		name := c.profile.Name
		switch c.profile.Type {
		case models.ColumnCategorical, models.ColumnBoolean:
			idx.Secondary = append(idx.Secondary, name)
			if timeCol != "" && len(idx.Composite) < 3 && c.profile.Type == models.ColumnCategorical {
				idx.Composite = append(idx.Composite, []string{name, timeCol})
			}
		case models.ColumnDateTime:
			idx.Secondary = append(idx.Secondary, name)
		case models.ColumnText:
			if c.profile.Unique {
				idx.Secondary = append(idx.Secondary, name)
			} else {
				idx.FullText = append(idx.FullText, name)
			}
		case models.ColumnNumeric:
			if c.profile.Unique && isIdentifierName(name) {
				idx.Secondary = append(idx.Secondary, name)
			}
		}
	}
	return idx
}

// pairAcc accumulates exact Pearson sums over rows where both values exist.
type pairAcc struct {
	n     float64
	sumX  float64
	sumY  float64
	sumXX float64
	sumYY float64
	sumXY float64
}

func (pa *pairAcc) add(x, y float64) {
	pa.n++
	pa.sumX += x
	pa.sumY += y
	pa.sumXX += x * x
	pa.sumYY += y * y
	pa.sumXY += x * y
}

func (pa *pairAcc) r() (float64, bool) {
	if pa.n < 2 {
		return 0, false
	}
	denom := math.Sqrt((pa.n*pa.sumXX - pa.sumX*pa.sumX) * (pa.n*pa.sumYY - pa.sumY*pa.sumY))
	if denom == 0 {
		return 0, false
	}
	r := (pa.n*pa.sumXY - pa.sumX*pa.sumY) / denom
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}

// correlate returns numeric column pairs with |r| >= threshold, strongest first.
func correlate(cols []*column, threshold float64) []models.Relationship {
	var nums []*column
	for _, c := range cols {
		if c.profile.Type == models.ColumnNumeric {
			nums = append(nums, c)
		}
	}
	var out []models.Relationship
	for a := 0; a < len(nums); a++ {
		for b := a + 1; b < len(nums); b++ {
			var pa pairAcc
			x, y := nums[a], nums[b]
			for i := range x.numOK {
				if x.numOK[i] && y.numOK[i] {
					pa.add(x.nums[i], y.nums[i])
				}
			}
			r, ok := pa.r()
			if !ok || math.Abs(r) < threshold {
				continue
			}
			kind := "positive_correlation"
			if r < 0 {
				kind = "negative_correlation"
			}
			out = append(out, models.Relationship{From: x.profile.Name, To: y.profile.Name, Kind: kind, Coefficient: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Coefficient) > math.Abs(out[j].Coefficient)
	})
	return out
}

var fkRe = regexp.MustCompile(`^(?i)(.+?)[_ ]?id$`)

func isIdentifierName(name string) bool {
	n := strings.ToLower(name)
	return n == "id" || strings.HasSuffix(n, "_id") || strings.HasSuffix(name, "Id") || strings.HasSuffix(n, " id")
}

// foreignKeyHints flags "<entity>_id" style columns; repeated values make
// the reference more likely.
func foreignKeyHints(cols []*column) []models.ForeignKey {
	var out []models.ForeignKey
	for _, c := range cols {
		name := c.profile.Name
		if strings.EqualFold(name, "id") || !isIdentifierName(name) {
			continue
		}
		m := fkRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		entity := strings.ToLower(strings.TrimRight(m[1], "_ "))
		conf := 0.6
		if c.profile.DuplicateCount > 0 {
			conf = 0.8
		}
		out = append(out, models.ForeignKey{Column: name, ReferencedEntity: entity, Confidence: conf})
	}
	return out
}
