// Package analysis turns decoded tables into dataset profiles: type
// inference, per-column statistics, quality scoring, PII detection,
// precomputed aggregations and Markdown rendering.
package analysis

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// Options controls analysis behavior for tabular data.
type Options struct {
	// MaxRows limits rows processed; 0 means unlimited.
	MaxRows int
	// SampleRows bounds DataProfile.SampleData.
	SampleRows int
	// Delimiter for CSV. If 0, sniffs among ',', ';', '\t', '|'.
	Delimiter rune
	// Sheet and SheetIndex select the XLSX sheet.
	Sheet      string
	SheetIndex int
	// Number fixes the numeric locale; zero values auto-detect per value.
	Number NumberFormat
	// OutlierThreshold is the robust z-score (MAD) cutoff.
	OutlierThreshold float64
	// Unit normalization: convert values to target units using simple mappings.
	UnitNormalize bool
	UnitTargets   map[string]string // map[fromUnit]toUnit, e.g., {"g/L":"mg/L", "°F":"°C"}
	// MaxGroupCardinality bounds the dimensions used for grouped aggregations.
	MaxGroupCardinality int
	// CorrelationThreshold is the minimum |r| recorded as a relationship.
	CorrelationThreshold float64
}

// DefaultOptions returns reasonable defaults for dataset analysis.
func DefaultOptions() Options {
	return Options{
		MaxRows:          100000,
		SampleRows:       10000,
		OutlierThreshold: 3.5,
		UnitNormalize:    true,
		UnitTargets: map[string]string{
			"g/L":  "mg/L",
			"ug/L": "mg/L",
			"°F":   "°C",
		},
		MaxGroupCardinality:  50,
		CorrelationThreshold: 0.5,
	}
}

// ReadOptions returns the decoding subset of o.
func (o Options) ReadOptions() ReadOptions {
	return ReadOptions{MaxRows: o.MaxRows, Delimiter: o.Delimiter, Sheet: o.Sheet, SheetIndex: o.SheetIndex}
}

// column carries one column through the pipeline. Slices are indexed by row.
type column struct {
	profile models.ColumnProfile
	raw     []string
	norm    []string
	nums    []float64
	numOK   []bool
	times   []time.Time
	timeOK  []bool
	// layouts counts the datetime layout each value parsed with.
	layouts map[int]int
	invalid int
}

func (c *column) nonNull() int { return len(c.raw) - c.profile.NullCount }

// BuildProfile analyzes t. The result carries everything except identity,
// timestamps and upload metadata, which belong to the caller.
func BuildProfile(ctx context.Context, t *Table, opt Options) (*models.DataProfile, error) {
	if t == nil || len(t.Header) == 0 {
		return nil, ErrEmptyDataset
	}
	if opt.OutlierThreshold <= 0 {
		opt.OutlierThreshold = 3.5
	}
	names := columnNames(t.Header)
	cols := make([]*column, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for j := range names {
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw := make([]string, len(t.Rows))
			for i, row := range t.Rows {
				raw[i] = row[j]
			}
			cols[j] = buildColumn(names[j], raw, opt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("column statistics: %w", err)
	}

	p := &models.DataProfile{
		Metadata: models.FileMetadata{
			Encoding:      t.Encoding,
			Sheet:         t.Sheet,
			RowCount:      t.TotalRows,
			ProcessedRows: len(t.Rows),
			ColumnCount:   len(cols),
		},
	}
	if t.Delimiter != 0 {
		p.Metadata.Delimiter = string(t.Delimiter)
	}

	p.Security = detectPII(cols)
	redactPII(cols, p.Security)

	p.Quality = assessQuality(cols, t.Rows)
	for _, c := range cols {
		p.Schema.Columns = append(p.Schema.Columns, c.profile)
	}
	p.Schema.Relationships = correlate(cols, opt.CorrelationThreshold)
	p.Schema.ForeignKeys = foreignKeyHints(cols)
	p.Aggregations = aggregate(cols, opt.MaxGroupCardinality)
	p.Indexes = indexHints(cols)
	p.SampleData = sampleRecords(cols, opt.SampleRows)
	p.Insights = deriveInsights(p, cols)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// columnNames strips units from the header and makes names unique and non-empty.
func columnNames(header []string) []columnName {
	out := make([]columnName, len(header))
	seen := map[string]int{}
	for i, h := range header {
		clean, unit := splitUnits(h)
		if clean == "" {
			clean = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(clean)
		seen[key]++
		if n := seen[key]; n > 1 {
			clean = fmt.Sprintf("%s_%d", clean, n)
		}
		out[i] = columnName{name: clean, unit: unit}
	}
	return out
}

type columnName struct {
	name string
	unit string
}

func buildColumn(cn columnName, raw []string, opt Options) *column {
	c := &column{
		profile: models.ColumnProfile{Name: cn.name, Unit: cn.unit},
		raw:     raw,
		norm:    make([]string, len(raw)),
	}
	var values []string
	for _, v := range raw {
		if v == "" {
			c.profile.NullCount++
			continue
		}
		values = append(values, v)
	}
	c.profile.Nullable = c.profile.NullCount > 0
	c.profile.Type = inferType(values, opt.Number)

	switch c.profile.Type {
	case models.ColumnNumeric:
		c.parseNumbers(opt)
		c.profile.Statistics = numericStats(c.validNumbers(), opt.OutlierThreshold)
	case models.ColumnDateTime:
		c.parseTimes()
		c.profile.Statistics = dateTimeStats(c.validTimes())
	case models.ColumnBoolean:
		c.profile.Statistics = c.parseBools()
	case models.ColumnCategorical:
		copy(c.norm, raw)
		c.profile.Statistics = categoricalStats(values)
	default:
		copy(c.norm, raw)
		c.profile.Statistics = textStats(values)
	}

	distinct := map[string]struct{}{}
	for _, v := range c.norm {
		if v == "" {
			continue
		}
		if _, ok := distinct[v]; !ok && len(c.profile.SampleValues) < 5 {
			c.profile.SampleValues = append(c.profile.SampleValues, v)
		}
		distinct[v] = struct{}{}
	}
	c.profile.UniqueCount = len(distinct)
	c.profile.DuplicateCount = c.nonNull() - len(distinct)
	c.profile.Unique = c.nonNull() > 0 && c.profile.DuplicateCount == 0
	return c
}

// inferType picks the column type from its non-null values.
func inferType(values []string, nf NumberFormat) models.ColumnType {
	n := len(values)
	if n == 0 {
		return models.ColumnText
	}
	var numOK, timeOK, boolOK int
	tokens := map[string]struct{}{}
	distinct := map[string]struct{}{}
	short := true
	for _, v := range values {
		distinct[v] = struct{}{}
		if len(v) > 64 {
			short = false
		}
		if _, ok := parseBool(v); ok {
			boolOK++
			tokens[strings.ToLower(v)] = struct{}{}
		}
		if _, ok := parseNumeric(v, nf); ok {
			numOK++
		} else if _, ok := parseTimeMaybe(v); ok {
			timeOK++
		}
	}
	threshold := 0.95 * float64(n)
	switch {
	case boolOK == n && len(tokens) <= 3:
		return models.ColumnBoolean
	case float64(numOK) >= threshold:
		return models.ColumnNumeric
	case float64(timeOK) >= threshold:
		return models.ColumnDateTime
	case short && (2*len(distinct) <= n || (len(distinct) <= 20 && len(distinct) < n)):
		return models.ColumnCategorical
	}
	return models.ColumnText
}

func (c *column) parseNumbers(opt Options) {
	c.nums = make([]float64, len(c.raw))
	c.numOK = make([]bool, len(c.raw))
	unit := c.profile.Unit
	for _, v := range c.raw {
		if unit == "" && strings.Contains(v, "%") {
			unit = "%"
			break
		}
	}
	target := unit
	convert := opt.UnitNormalize && unit != ""
	for i, v := range c.raw {
		if v == "" {
			continue
		}
		x, ok := parseNumeric(v, opt.Number)
		if !ok {
			c.invalid++
			c.norm[i] = v
			continue
		}
		if convert {
			if nx, nu, okc := convertUnit(x, unit, opt.UnitTargets); okc {
				x, target = nx, nu
			}
		}
		c.nums[i], c.numOK[i] = x, true
		c.norm[i] = formatNumber(x)
	}
	c.profile.Unit = target
}

func (c *column) validNumbers() []float64 {
	out := make([]float64, 0, len(c.nums))
	for i, ok := range c.numOK {
		if ok {
			out = append(out, c.nums[i])
		}
	}
	return out
}

func (c *column) parseTimes() {
	c.times = make([]time.Time, len(c.raw))
	c.timeOK = make([]bool, len(c.raw))
	c.layouts = map[int]int{}
	for i, v := range c.raw {
		if v == "" {
			continue
		}
		t, layout, ok := parseTimeLayout(v)
		if !ok {
			c.invalid++
			c.norm[i] = v
			continue
		}
		c.layouts[layout]++
		c.times[i], c.timeOK[i] = t, true
		c.norm[i] = t.UTC().Format(time.RFC3339)
	}
}

func (c *column) validTimes() []time.Time {
	out := make([]time.Time, 0, len(c.times))
	for i, ok := range c.timeOK {
		if ok {
			out = append(out, c.times[i])
		}
	}
	return out
}

func (c *column) parseBools() *models.BooleanStats {
	st := &models.BooleanStats{}
	for i, v := range c.raw {
		if v == "" {
			continue
		}
		b, ok := parseBool(v)
		if !ok {
			c.invalid++
			c.norm[i] = v
			continue
		}
		if b {
			st.TrueCount++
			c.norm[i] = "true"
		} else {
			st.FalseCount++
			c.norm[i] = "false"
		}
	}
	if n := st.TrueCount + st.FalseCount; n > 0 {
		st.TrueRatio = float64(st.TrueCount) / float64(n)
	}
	return st
}

func sampleRecords(cols []*column, limit int) []models.Record {
	if len(cols) == 0 {
		return nil
	}
	rows := len(cols[0].norm)
	if limit > 0 && rows > limit {
		rows = limit
	}
	out := make([]models.Record, 0, rows)
	for i := 0; i < rows; i++ {
		rec := make(models.Record, len(cols))
		for _, c := range cols {
			if v := c.norm[i]; v != "" {
				rec[c.profile.Name] = v
			}
		}
		out = append(out, rec)
	}
	return out
}
