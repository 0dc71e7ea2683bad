package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Statistics is the per-column statistics payload. It is a closed sum type:
// exactly one of *NumericStats, *CategoricalStats, *DateTimeStats, *TextStats
// or *BooleanStats, and its Kind always equals the owning column's Type.
type Statistics interface {
	Kind() ColumnType
	sealed()
}

// NumericStats describes a numeric column.
type NumericStats struct {
	Count       int            `json:"count"`
	Min         float64        `json:"min"`
	Max         float64        `json:"max"`
	Mean        float64        `json:"mean"`
	Median      float64        `json:"median"`
	Mode        float64        `json:"mode"`
	StdDev      float64        `json:"stdDev"`
	Variance    float64        `json:"variance"`
	Sum         float64        `json:"sum"`
	Percentiles Percentiles    `json:"percentiles"`
	Histogram   []HistogramBin `json:"histogram,omitempty"`
	Outliers    OutlierSummary `json:"outliers"`
}

// Percentiles are the fixed quantiles reported for numeric columns.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// HistogramBin counts values in [Lower, Upper); the last bin is closed.
type HistogramBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// OutlierSummary reports IQR fences and robust z-score (MAD) outliers.
type OutlierSummary struct {
	LowerFence   float64   `json:"lowerFence"`
	UpperFence   float64   `json:"upperFence"`
	IQRCount     int       `json:"iqrCount"`
	RobustZCount int       `json:"robustZCount"`
	MaxAbsZ      float64   `json:"maxAbsZ"`
	Threshold    float64   `json:"threshold"`
	Examples     []float64 `json:"examples,omitempty"`
}

// CategoricalStats describes a low-cardinality column.
type CategoricalStats struct {
	Cardinality  int                `json:"cardinality"`
	TopValues    []ValueCount       `json:"topValues"`
	Distribution map[string]float64 `json:"distribution"`
	Entropy      float64            `json:"entropy"`
	ModeValue    string             `json:"modeValue"`
}

// DateTimeStats describes a datetime column.
type DateTimeStats struct {
	Min         time.Time `json:"min"`
	Max         time.Time `json:"max"`
	RangeDays   float64   `json:"rangeDays"`
	Frequency   string    `json:"frequency"`
	Trend       string    `json:"trend"`
	Seasonality []string  `json:"seasonality,omitempty"`
	Gaps        []TimeGap `json:"gaps,omitempty"`
}

// TimeGap is a stretch between consecutive values much longer than usual.
type TimeGap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TextStats describes a free-text column.
type TextStats struct {
	MinLength    int          `json:"minLength"`
	MaxLength    int          `json:"maxLength"`
	AvgLength    float64      `json:"avgLength"`
	CommonTokens []ValueCount `json:"commonTokens,omitempty"`
	Patterns     []string     `json:"patterns,omitempty"`
	Languages    []string     `json:"languages,omitempty"`
}

// BooleanStats describes a two-valued column.
type BooleanStats struct {
	TrueCount  int     `json:"trueCount"`
	FalseCount int     `json:"falseCount"`
	TrueRatio  float64 `json:"trueRatio"`
}

func (*NumericStats) Kind() ColumnType     { return ColumnNumeric }
func (*CategoricalStats) Kind() ColumnType { return ColumnCategorical }
func (*DateTimeStats) Kind() ColumnType    { return ColumnDateTime }
func (*TextStats) Kind() ColumnType        { return ColumnText }
func (*BooleanStats) Kind() ColumnType     { return ColumnBoolean }

func (*NumericStats) sealed()     {}
func (*CategoricalStats) sealed() {}
func (*DateTimeStats) sealed()    {}
func (*TextStats) sealed()        {}
func (*BooleanStats) sealed()     {}

// Numeric returns the numeric statistics when the column is numeric.
func (c ColumnProfile) Numeric() (*NumericStats, bool) {
	s, ok := c.Statistics.(*NumericStats)
	return s, ok
}

// Categorical returns the categorical statistics when the column is categorical.
func (c ColumnProfile) Categorical() (*CategoricalStats, bool) {
	s, ok := c.Statistics.(*CategoricalStats)
	return s, ok
}

// DateTime returns the datetime statistics when the column is a datetime.
func (c ColumnProfile) DateTime() (*DateTimeStats, bool) {
	s, ok := c.Statistics.(*DateTimeStats)
	return s, ok
}

// Text returns the text statistics when the column is text.
func (c ColumnProfile) Text() (*TextStats, bool) {
	s, ok := c.Statistics.(*TextStats)
	return s, ok
}

// Boolean returns the boolean statistics when the column is boolean.
func (c ColumnProfile) Boolean() (*BooleanStats, bool) {
	s, ok := c.Statistics.(*BooleanStats)
	return s, ok
}

// Validate checks the statistics tag against the declared type.
func (c ColumnProfile) Validate() error {
	if c.Statistics == nil {
		return fmt.Errorf("column %q: missing statistics", c.Name)
	}
	if c.Statistics.Kind() != c.Type {
		return fmt.Errorf("column %q: statistics kind %s does not match type %s", c.Name, c.Statistics.Kind(), c.Type)
	}
	return nil
}

// NewStatistics returns an empty payload of the variant matching t.
func NewStatistics(t ColumnType) (Statistics, error) {
	switch t {
	case ColumnNumeric:
		return &NumericStats{}, nil
	case ColumnCategorical:
		return &CategoricalStats{}, nil
	case ColumnDateTime:
		return &DateTimeStats{}, nil
	case ColumnText:
		return &TextStats{}, nil
	case ColumnBoolean:
		return &BooleanStats{}, nil
	}
	return nil, fmt.Errorf("unknown column type %q", t)
}

type statisticsEnvelope struct {
	Kind ColumnType      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type columnProfileJSON ColumnProfile

type columnProfileWire struct {
	columnProfileJSON
	Statistics *statisticsEnvelope `json:"statistics"`
}

// MarshalJSON tags the statistics payload with its kind.
func (c ColumnProfile) MarshalJSON() ([]byte, error) {
	w := columnProfileWire{columnProfileJSON: columnProfileJSON(c)}
	w.columnProfileJSON.Statistics = nil
	if c.Statistics != nil {
		data, err := json.Marshal(c.Statistics)
		if err != nil {
			return nil, fmt.Errorf("marshal %s statistics: %w", c.Statistics.Kind(), err)
		}
		w.Statistics = &statisticsEnvelope{Kind: c.Statistics.Kind(), Data: data}
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the statistics variant from its kind tag.
func (c *ColumnProfile) UnmarshalJSON(b []byte) error {
	var w columnProfileWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = ColumnProfile(w.columnProfileJSON)
	if w.Statistics == nil {
		c.Statistics = nil
		return nil
	}
	stats, err := NewStatistics(w.Statistics.Kind)
	if err != nil {
		return fmt.Errorf("column %q: %w", c.Name, err)
	}
	if len(w.Statistics.Data) > 0 {
		if err := json.Unmarshal(w.Statistics.Data, stats); err != nil {
			return fmt.Errorf("column %q: decode statistics: %w", c.Name, err)
		}
	}
	c.Statistics = stats
	return nil
}
