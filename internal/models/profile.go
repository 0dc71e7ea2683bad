// Package models holds the data shapes exchanged between the analysis agents:
// dataset profiles, query intents, execution plans and analysis results.
//
// All types are JSON-serializable so the session layer can persist a profile
// and hand it back on every query.
package models

import (
	"strings"
	"time"
)

// ProfileVersion is bumped whenever the DataProfile layout changes.
const ProfileVersion = 1

// ColumnType is the inferred kind of a column.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "numeric"
	ColumnCategorical ColumnType = "categorical"
	ColumnDateTime    ColumnType = "datetime"
	ColumnText        ColumnType = "text"
	ColumnBoolean     ColumnType = "boolean"
)

// DataProfile is the statistical, quality and security summary of one uploaded
// dataset. It is immutable once produced and owned by the caller.
type DataProfile struct {
	ID           string          `json:"id"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	Metadata     FileMetadata    `json:"metadata"`
	Schema       Schema          `json:"schema"`
	Quality      QualityReport   `json:"quality"`
	Security     SecurityReport  `json:"security"`
	Insights     DatasetInsights `json:"insights"`
	SampleData   []Record        `json:"sampleData"`
	Aggregations Aggregations    `json:"aggregations"`
	Indexes      Indexes         `json:"indexes"`
}

// Record is one normalized row. Numeric cells hold the canonical float form,
// datetimes RFC3339, booleans "true"/"false"; a null cell is empty or absent.
type Record map[string]string

// FileMetadata describes the uploaded file and how it was read.
type FileMetadata struct {
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mimeType,omitempty"`
	Encoding      string `json:"encoding"`
	Delimiter     string `json:"delimiter,omitempty"`
	Sheet         string `json:"sheet,omitempty"`
	RowCount      int    `json:"rowCount"`
	ProcessedRows int    `json:"processedRows"`
	ColumnCount   int    `json:"columnCount"`
	Checksum      string `json:"checksum"`
}

// Schema is the ordered column list plus inferred structure between columns.
type Schema struct {
	Columns       []ColumnProfile `json:"columns"`
	ForeignKeys   []ForeignKey    `json:"foreignKeys,omitempty"`
	Relationships []Relationship  `json:"relationships,omitempty"`
}

// Column returns the column with the given name (case-insensitive).
func (s Schema) Column(name string) (ColumnProfile, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

// ColumnsOfType lists the column names with the given type, in schema order.
func (s Schema) ColumnsOfType(t ColumnType) []string {
	var out []string
	for _, c := range s.Columns {
		if c.Type == t {
			out = append(out, c.Name)
		}
	}
	return out
}

// ForeignKey is a naming-based hint that a column references another entity.
type ForeignKey struct {
	Column           string  `json:"column"`
	ReferencedEntity string  `json:"referencedEntity"`
	Confidence       float64 `json:"confidence"`
}

// Relationship records a pairwise correlation between numeric columns.
type Relationship struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Kind        string  `json:"kind"`
	Coefficient float64 `json:"coefficient"`
}

// ColumnProfile describes a single column. Statistics always matches Type.
type ColumnProfile struct {
	Name           string     `json:"name"`
	Type           ColumnType `json:"type"`
	Unit           string     `json:"unit,omitempty"`
	Nullable       bool       `json:"nullable"`
	Unique         bool       `json:"unique"`
	Statistics     Statistics `json:"statistics"`
	NullCount      int        `json:"nullCount"`
	UniqueCount    int        `json:"uniqueCount"`
	DuplicateCount int        `json:"duplicateCount"`
	SampleValues   []string   `json:"sampleValues,omitempty"`
	QualityFlags   []string   `json:"qualityFlags,omitempty"`
}

// QualityReport scores the dataset. Score and dimensions are in 0..100.
type QualityReport struct {
	Score      float64           `json:"score"`
	Dimensions QualityDimensions `json:"dimensions"`
	Issues     []QualityIssue    `json:"issues,omitempty"`
}

// QualityDimensions are the five component scores of QualityReport.Score.
type QualityDimensions struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Uniqueness   float64 `json:"uniqueness"`
	Validity     float64 `json:"validity"`
}

// Severity grades quality issues and security risk.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// QualityIssue is one detected quality violation.
type QualityIssue struct {
	Column       string   `json:"column,omitempty"`
	Kind         string   `json:"kind"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	AffectedRows int      `json:"affectedRows"`
	Suggestion   string   `json:"suggestion,omitempty"`
}

// PIIType names a category of personal data.
type PIIType string

const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
	PIIIPAddress  PIIType = "ip_address"
	PIIName       PIIType = "name"
	PIIAddress    PIIType = "address"
)

// SecurityReport summarizes personal data found in the dataset.
type SecurityReport struct {
	PIIColumns      []PIIFinding    `json:"piiColumns,omitempty"`
	RiskLevel       Severity        `json:"riskLevel"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Compliance      ComplianceFlags `json:"compliance"`
}

// PIIFinding is one column flagged as personal data. Only redacted samples are kept.
type PIIFinding struct {
	Column          string   `json:"column"`
	Type            PIIType  `json:"type"`
	Confidence      float64  `json:"confidence"`
	MatchCount      int      `json:"matchCount"`
	RedactedSamples []string `json:"redactedSamples,omitempty"`
}

// ComplianceFlags marks regulations the dataset likely falls under.
type ComplianceFlags struct {
	GDPR   bool `json:"gdpr"`
	CCPA   bool `json:"ccpa"`
	HIPAA  bool `json:"hipaa"`
	PCIDSS bool `json:"pciDss"`
}

// DatasetInsights are findings produced at profiling time.
type DatasetInsights struct {
	KeyFindings      []string         `json:"keyFindings,omitempty"`
	Trends           []TrendFinding   `json:"trends,omitempty"`
	Anomalies        []AnomalyFinding `json:"anomalies,omitempty"`
	Recommendations  []string         `json:"recommendations,omitempty"`
	SuggestedQueries []string         `json:"suggestedQueries,omitempty"`
}

// TrendFinding is a measure moving along a datetime column.
type TrendFinding struct {
	Measure   string  `json:"measure"`
	Over      string  `json:"over"`
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
}

// AnomalyFinding is a column with unusual values.
type AnomalyFinding struct {
	Column      string `json:"column"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Aggregations are computed over every processed row so queries never rescan
// the raw upload.
type Aggregations struct {
	Numeric     map[string]NumericAggregate `json:"numeric,omitempty"`
	Categorical map[string][]ValueCount     `json:"categorical,omitempty"`
	Temporal    map[string][]TimeBucket     `json:"temporal,omitempty"`
	Grouped     []GroupedAggregate          `json:"grouped,omitempty"`
}

// FindGrouped returns the grouped summary for a dimension and measure.
func (a Aggregations) FindGrouped(dimension, measure string) (GroupedAggregate, bool) {
	for _, g := range a.Grouped {
		if strings.EqualFold(g.Dimension, dimension) && strings.EqualFold(g.Measure, measure) {
			return g, true
		}
	}
	return GroupedAggregate{}, false
}

// NumericAggregate is a mergeable summary of numeric values.
type NumericAggregate struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// ValueCount is a value with its frequency.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TimeBucket counts rows falling in one period (YYYY-MM).
type TimeBucket struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// GroupedAggregate summarizes a measure per value of a low-cardinality dimension.
// RowCount is the number of rows the summaries were built from.
type GroupedAggregate struct {
	Dimension string                      `json:"dimension"`
	Measure   string                      `json:"measure"`
	RowCount  int                         `json:"rowCount"`
	Groups    map[string]NumericAggregate `json:"groups"`
}

// Indexes are access-path hints for the executor and for external stores.
type Indexes struct {
	Secondary []string   `json:"secondary,omitempty"`
	Composite [][]string `json:"composite,omitempty"`
	FullText  []string   `json:"fullText,omitempty"`
}
