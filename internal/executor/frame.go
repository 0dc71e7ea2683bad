package executor

import (
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// frame is the intermediate table passed between steps. Cells hold float64,
// bool, time.Time, string or nil.
type frame struct {
	columns []string
	rows    []map[string]any
	// types of source columns; derived columns are absent.
	types map[string]models.ColumnType
}

// resolve maps col to the frame's spelling, case-insensitively.
func (f *frame) resolve(col string) (string, bool) {
	for _, c := range f.columns {
		if c == col {
			return c, true
		}
	}
	for _, c := range f.columns {
		if strings.EqualFold(c, col) {
			return c, true
		}
	}
	return "", false
}

func (f *frame) typeOf(col string) (models.ColumnType, bool) {
	t, ok := f.types[col]
	return t, ok
}

// typedCell converts a normalized sample cell to the column's Go type.
func typedCell(t models.ColumnType, raw string) any {
	if raw == "" {
		return nil
	}
	switch t {
	case models.ColumnNumeric:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case models.ColumnDateTime:
		if ts, ok := parseTime(raw); ok {
			return ts
		}
	case models.ColumnBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006-01", "2006"}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toFloat reads a number from a cell or a filter value.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "t", "1":
			return true, true
		case "false", "no", "n", "f", "0":
			return false, true
		}
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTime(x)
	}
	return time.Time{}, false
}

// toStrings reads an in/not_in list; JSON round trips turn []string into []any.
func toStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, cellString(e))
		}
		return out, true
	case string:
		return []string{x}, true
	}
	return nil, false
}

// cellString renders a cell for comparisons, labels and output.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.UTC().Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339)
	}
	return ""
}

// outputCell makes a cell JSON friendly: times become strings.
func outputCell(v any) any {
	if t, ok := v.(time.Time); ok {
		return cellString(t)
	}
	return v
}

// compareCells orders two cells; nil sorts after everything.
func compareCells(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(strings.ToLower(cellString(a)), strings.ToLower(cellString(b)))
}
