package analysis

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

const maxHistogramBins = 20

func numericStats(vals []float64, threshold float64) *models.NumericStats {
	st := &models.NumericStats{Count: len(vals)}
	st.Outliers.Threshold = threshold
	if len(vals) == 0 {
		return st
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	// Welford update
	var mean, m2 float64
	for i, x := range vals {
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
		st.Sum += x
	}
	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.Mean = mean
	if len(vals) > 1 {
		st.Variance = m2 / float64(len(vals)-1)
		st.StdDev = math.Sqrt(st.Variance)
	}
	st.Median = quantile(sorted, 0.5)
	st.Mode = modeOf(sorted)
	st.Percentiles = models.Percentiles{
		P25: quantile(sorted, 0.25),
		P50: st.Median,
		P75: quantile(sorted, 0.75),
		P90: quantile(sorted, 0.90),
		P95: quantile(sorted, 0.95),
	}
	st.Histogram = histogram(sorted)
	st.Outliers = outliers(sorted, threshold)
	return st
}

// modeOf returns the most frequent value of a sorted slice; ties go to the smallest.
func modeOf(sorted []float64) float64 {
	best, bestRun := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestRun {
			best, bestRun = sorted[i], j-i
		}
		i = j
	}
	return best
}

// histogram uses Sturges' rule for the bin count.
func histogram(sorted []float64) []models.HistogramBin {
	n := len(sorted)
	lo, hi := sorted[0], sorted[n-1]
	if lo == hi {
		return []models.HistogramBin{{Lower: lo, Upper: hi, Count: n}}
	}
	k := int(math.Ceil(math.Log2(float64(n)) + 1))
	if k > maxHistogramBins {
		k = maxHistogramBins
	}
	if k < 1 {
		k = 1
	}
	width := (hi - lo) / float64(k)
	bins := make([]models.HistogramBin, k)
	for i := range bins {
		bins[i].Lower = lo + float64(i)*width
		bins[i].Upper = lo + float64(i+1)*width
	}
	bins[k-1].Upper = hi
	for _, v := range sorted {
		i := int((v - lo) / width)
		if i >= k {
			i = k - 1
		}
		bins[i].Count++
	}
	return bins
}

// outliers reports IQR fences and, with at least 8 values, robust z-scores via MAD.
func outliers(sorted []float64, threshold float64) models.OutlierSummary {
	q1, q3 := quantile(sorted, 0.25), quantile(sorted, 0.75)
	iqr := q3 - q1
	out := models.OutlierSummary{
		LowerFence: q1 - 1.5*iqr,
		UpperFence: q3 + 1.5*iqr,
		Threshold:  threshold,
	}
	for _, v := range sorted {
		if v < out.LowerFence || v > out.UpperFence {
			out.IQRCount++
			if len(out.Examples) < 5 {
				out.Examples = append(out.Examples, v)
			}
		}
	}
	if len(sorted) < 8 {
		return out
	}
	median, mad := medianMAD(sorted)
	if mad == 0 {
		return out
	}
	for _, v := range sorted {
		az := math.Abs(0.6745 * (v - median) / mad)
		if az > threshold {
			out.RobustZCount++
		}
		if az > out.MaxAbsZ {
			out.MaxAbsZ = az
		}
	}
	return out
}

const maxTopValues = 10

func countValues(values []string) []models.ValueCount {
	counts := map[string]int{}
	for _, v := range values {
		counts[v]++
	}
	out := make([]models.ValueCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, models.ValueCount{Value: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Value < out[j].Value
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func categoricalStats(values []string) *models.CategoricalStats {
	all := countValues(values)
	st := &models.CategoricalStats{Cardinality: len(all), Distribution: map[string]float64{}}
	if len(values) == 0 {
		return st
	}
	n := float64(len(values))
	for i, vc := range all {
		p := float64(vc.Count) / n
		st.Entropy -= p * math.Log2(p)
		if i < 100 {
			st.Distribution[vc.Value] = p
		}
	}
	st.TopValues = all
	if len(st.TopValues) > maxTopValues {
		st.TopValues = st.TopValues[:maxTopValues]
	}
	st.ModeValue = all[0].Value
	return st
}

func dateTimeStats(times []time.Time) *models.DateTimeStats {
	st := &models.DateTimeStats{Frequency: "irregular", Trend: "none"}
	if len(times) == 0 {
		return st
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	st.Min = sorted[0].UTC()
	st.Max = sorted[len(sorted)-1].UTC()
	st.RangeDays = st.Max.Sub(st.Min).Hours() / 24

	var gaps []time.Duration
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i].Sub(sorted[i-1]); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) > 0 {
		g := make([]float64, len(gaps))
		for i, d := range gaps {
			g[i] = float64(d)
		}
		sort.Float64s(g)
		median := time.Duration(quantile(g, 0.5))
		st.Frequency = frequencyOf(median)
		for i := 1; i < len(sorted) && len(st.Gaps) < 10; i++ {
			if d := sorted[i].Sub(sorted[i-1]); median > 0 && d > 3*median {
				st.Gaps = append(st.Gaps, models.TimeGap{Start: sorted[i-1].UTC(), End: sorted[i].UTC()})
			}
		}
	}
	st.Trend = countTrend(sorted, st.RangeDays)
	st.Seasonality = seasonality(sorted, st.RangeDays)
	return st
}

func frequencyOf(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d <= 90*time.Minute:
		return "hourly"
	case d <= 36*time.Hour:
		return "daily"
	case d <= 8*day:
		return "weekly"
	case d <= 35*day:
		return "monthly"
	case d <= 100*day:
		return "quarterly"
	case d <= 400*day:
		return "yearly"
	}
	return "irregular"
}

// countTrend fits a line through per-period row counts. Periods are days for
// short ranges and months otherwise.
func countTrend(sorted []time.Time, rangeDays float64) string {
	layout := "2006-01"
	if rangeDays < 62 {
		layout = "2006-01-02"
	}
	var counts []float64
	last := ""
	for _, t := range sorted {
		k := t.UTC().Format(layout)
		if k != last {
			counts = append(counts, 0)
			last = k
		}
		counts[len(counts)-1]++
	}
	return trendDirection(counts)
}

// trendDirection classifies the least-squares slope relative to the mean.
func trendDirection(ys []float64) string {
	if len(ys) < 3 {
		return "none"
	}
	slope, mean := slopeOf(ys)
	if mean == 0 {
		return "stable"
	}
	rel := slope * float64(len(ys)) / math.Abs(mean)
	switch {
	case rel > 0.1:
		return "increasing"
	case rel < -0.1:
		return "decreasing"
	}
	return "stable"
}

func slopeOf(ys []float64) (slope, mean float64) {
	n := float64(len(ys))
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	return (n*sxy - sx*sy) / den, sy / n
}

// seasonality reports weekday or month concentration well above uniform.
func seasonality(sorted []time.Time, rangeDays float64) []string {
	var out []string
	n := len(sorted)
	if n >= 14 && rangeDays >= 14 {
		var wd [7]int
		for _, t := range sorted {
			wd[t.Weekday()]++
		}
		if wd[time.Saturday]+wd[time.Sunday] == 0 {
			out = append(out, "weekdays only")
		} else if best, share := argmax(wd[:], n); share > 2.0/7 {
			out = append(out, "weekly peak on "+time.Weekday(best).String())
		}
	}
	if n >= 24 && rangeDays >= 365 {
		var mo [12]int
		for _, t := range sorted {
			mo[t.Month()-1]++
		}
		if best, share := argmax(mo[:], n); share > 2.0/12 {
			out = append(out, "yearly peak in "+time.Month(best+1).String())
		}
	}
	return out
}

func argmax(xs []int, total int) (int, float64) {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best, float64(xs[best]) / float64(total)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "are": true, "was": true, "were": true, "not": true, "but": true,
}

var textPatterns = []struct {
	name  string
	match func(string) bool
}{
	{"email", func(s string) bool { return emailRe.MatchString(s) }},
	{"url", func(s string) bool { return urlRe.MatchString(s) }},
	{"phone", func(s string) bool { return isPhone(s) }},
	{"ip_address", func(s string) bool { return isIP(s) }},
	{"uuid", func(s string) bool { return uuidRe.MatchString(s) }},
	{"code", func(s string) bool { return codeRe.MatchString(s) }},
}

var scripts = []struct {
	name  string
	table *unicode.RangeTable
}{
	{"latin", unicode.Latin},
	{"cyrillic", unicode.Cyrillic},
	{"greek", unicode.Greek},
	{"arabic", unicode.Arabic},
	{"hebrew", unicode.Hebrew},
	{"han", unicode.Han},
	{"hiragana", unicode.Hiragana},
	{"katakana", unicode.Katakana},
	{"hangul", unicode.Hangul},
	{"devanagari", unicode.Devanagari},
	{"thai", unicode.Thai},
}

func textStats(values []string) *models.TextStats {
	st := &models.TextStats{}
	if len(values) == 0 {
		return st
	}
	st.MinLength = math.MaxInt
	var total int
	var tokens []string
	scriptCounts := make([]int, len(scripts))
	letters := 0
	patternCounts := make([]int, len(textPatterns))
	for _, v := range values {
		l := len([]rune(v))
		total += l
		if l < st.MinLength {
			st.MinLength = l
		}
		if l > st.MaxLength {
			st.MaxLength = l
		}
		for _, w := range strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len([]rune(w)) >= 3 && !stopwords[w] {
				tokens = append(tokens, w)
			}
		}
		for _, r := range v {
			if !unicode.IsLetter(r) {
				continue
			}
			letters++
			for i, s := range scripts {
				if unicode.Is(s.table, r) {
					scriptCounts[i]++
					break
				}
			}
		}
		for i, p := range textPatterns {
			if p.match(v) {
				patternCounts[i]++
			}
		}
	}
	st.AvgLength = float64(total) / float64(len(values))
	st.CommonTokens = countValues(tokens)
	if len(st.CommonTokens) > maxTopValues {
		st.CommonTokens = st.CommonTokens[:maxTopValues]
	}
	for i, p := range textPatterns {
		if 2*patternCounts[i] >= len(values) {
			st.Patterns = append(st.Patterns, p.name)
		}
	}
	for i, s := range scripts {
		if letters > 0 && 10*scriptCounts[i] >= letters {
			st.Languages = append(st.Languages, s.name)
		}
	}
	return st
}
