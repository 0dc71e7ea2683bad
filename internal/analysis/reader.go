package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Format is a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

var (
	// ErrEmptyDataset means the upload has no header row.
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrUnsupportedFormat means neither the name nor the mime type is a known table format.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Table is a decoded upload: a header plus the processed rows, each padded to
// the header width. TotalRows counts every data row, including those beyond
// the row limit.
type Table struct {
	Header    []string
	Rows      [][]string
	TotalRows int
	Format    Format
	Encoding  string
	Delimiter rune
	Sheet     string
}

// ReadOptions controls how an upload is decoded.
type ReadOptions struct {
	// MaxRows limits rows kept; 0 means unlimited.
	MaxRows int
	// Delimiter for CSV. If 0, sniffs among ',', ';', '\t' and '|'.
	Delimiter rune
	// Sheet selects an XLSX sheet by name; SheetIndex (1-based) is used when empty.
	Sheet      string
	SheetIndex int
}

// DetectFormat resolves the table format from the file name, then the mime type.
func DetectFormat(name, mimeType string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, true
	case ".tsv", ".tab":
		return FormatTSV, true
	case ".xlsx":
		return FormatXLSX, true
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "text/csv", "application/csv", "text/plain", "application/vnd.ms-excel":
		return FormatCSV, true
	case "text/tab-separated-values":
		return FormatTSV, true
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, true
	}
	return "", false
}

// ReadTable decodes an upload held in memory.
func ReadTable(ctx context.Context, data []byte, name, mimeType string, opt ReadOptions) (*Table, error) {
	format, ok := DetectFormat(name, mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if format == FormatXLSX {
		return readXLSX(ctx, data, opt)
	}
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", enc, err)
	}
	delim := opt.Delimiter
	if delim == 0 {
		if format == FormatTSV {
			delim = '\t'
		} else {
			delim = sniffDelimiter(text)
		}
	}
	t, err := readDelimited(ctx, text, delim, opt.MaxRows)
	if err != nil {
		return nil, err
	}
	t.Format = format
	t.Encoding = enc
	return t, nil
}

// decodeText converts the upload to UTF-8. A BOM wins; otherwise valid UTF-8 is
// kept as is and anything else is read as Windows-1252.
func decodeText(data []byte) (string, string, error) {
	var (
		dec  *encoding.Decoder
		name string
	)
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8", nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		dec, name = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), "utf-16le"
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec, name = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(), "utf-16be"
	case utf8.Valid(data):
		return string(data), "utf-8", nil
	default:
		dec, name = charmap.Windows1252.NewDecoder(), "windows-1252"
	}
	out, err := dec.Bytes(data)
	if err != nil {
		return "", name, err
	}
	return string(out), name, nil
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate that splits the leading lines into the
// same, largest number of fields. Quoted sections are ignored.
func sniffDelimiter(text string) rune {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) == 10 {
			break
		}
	}
	if len(lines) == 0 {
		return ','
	}
	best, bestScore := ',', 0
	for _, d := range delimiterCandidates {
		first := countOutsideQuotes(lines[0], d)
		if first == 0 {
			continue
		}
		consistent := 0
		for _, l := range lines {
			if countOutsideQuotes(l, d) == first {
				consistent++
			}
		}
		// consistency dominates, field count breaks ties
		score := consistent*1000 + first
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == d && !inQuote:
			n++
		}
	}
	return n
}

func readDelimited(ctx context.Context, text string, delim rune, maxRows int) (*Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDataset
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = cloneTrimmed(header)
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, ErrEmptyDataset
	}
	t := &Table{Header: header, Delimiter: delim}
	if maxRows <= 0 {
		maxRows = int(^uint(0) >> 1)
	}
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", t.TotalRows+1, err)
		}
		if t.TotalRows%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		t.TotalRows++
		if len(t.Rows) >= maxRows {
			continue
		}
		t.Rows = append(t.Rows, padRow(cloneTrimmed(rec), len(header)))
	}
	return t, nil
}

func cloneTrimmed(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func padRow(rec []string, n int) []string {
	if len(rec) == n {
		return rec
	}
	if len(rec) > n {
		return rec[:n]
	}
	tmp := make([]string, n)
	copy(tmp, rec)
	return tmp
}
