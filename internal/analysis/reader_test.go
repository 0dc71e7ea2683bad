package analysis

import (
	"context"
	"strings"
	"testing"
)

func TestSniffDelimiter(t *testing.T) {
	cases := []struct {
		name string
		text string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3\n4,5,6\n", ','},
		{"semicolon with decimal commas", "a;b;c\n1,5;2,5;3\n4;5,1;6\n", ';'},
		{"tab", "a\tb\n1\t2\n", '\t'},
		{"pipe", "a|b|c\n1|2|3\n", '|'},
		{"quoted commas", "name;note\n\"Smith, J\";ok\n\"Doe, A\";fine\n", ';'},
		{"single column", "value\n1\n2\n", ','},
		{"empty", "", ','},
	}
	for _, tc := range cases {
		if got := sniffDelimiter(tc.text); got != tc.want {
			t.Errorf("%s: sniffDelimiter = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDecodeText(t *testing.T) {
	text, enc, err := decodeText([]byte("\xEF\xBB\xBFa,b\n1,2\n"))
	if err != nil || enc != "utf-8" || text != "a,b\n1,2\n" {
		t.Fatalf("bom: %q %q %v", text, enc, err)
	}

	text, enc, err = decodeText([]byte("name\ncaf\xe9\n"))
	if err != nil || enc != "windows-1252" || text != "name\ncafé\n" {
		t.Fatalf("windows-1252: %q %q %v", text, enc, err)
	}

	utf16 := []byte{0xFF, 0xFE, 'a', 0, ',', 0, 'b', 0, '\n', 0}
	text, enc, err = decodeText(utf16)
	if err != nil || enc != "utf-16le" || text != "a,b\n" {
		t.Fatalf("utf-16le: %q %q %v", text, enc, err)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name, mime string
		want       Format
		ok         bool
	}{
		{"sales.csv", "", FormatCSV, true},
		{"SALES.TSV", "", FormatTSV, true},
		{"book.xlsx", "", FormatXLSX, true},
		{"upload", "text/csv; charset=utf-8", FormatCSV, true},
		{"upload", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FormatXLSX, true},
		{"report.pdf", "application/pdf", "", false},
	}
	for _, tc := range cases {
		got, ok := DetectFormat(tc.name, tc.mime)
		if got != tc.want || ok != tc.ok {
			t.Errorf("DetectFormat(%q, %q) = %q %v, want %q %v", tc.name, tc.mime, got, ok, tc.want, tc.ok)
		}
	}
}

func TestReadTablePadsRowsAndCountsBeyondLimit(t *testing.T) {
	text := "a, b ,c\n1,2\n3,4,5\n6,7,8\n"
	tbl, err := ReadTable(context.Background(), []byte(text), "t.csv", "", ReadOptions{MaxRows: 2})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if !equalStrings(tbl.Header, []string{"a", "b", "c"}) {
		t.Fatalf("header = %#v", tbl.Header)
	}
	if tbl.TotalRows != 3 || len(tbl.Rows) != 2 {
		t.Fatalf("rows = %d kept of %d", len(tbl.Rows), tbl.TotalRows)
	}
	if !equalStrings(tbl.Rows[0], []string{"1", "2", ""}) {
		t.Fatalf("row 0 = %#v", tbl.Rows[0])
	}
	if tbl.Delimiter != ',' || tbl.Encoding != "utf-8" || tbl.Format != FormatCSV {
		t.Fatalf("table meta = %q %q %q", tbl.Delimiter, tbl.Encoding, tbl.Format)
	}
}

func TestColumnNames(t *testing.T) {
	got := columnNames([]string{"Temp (°F)", "", "temp", "Temp"})
	want := []columnName{
		{name: "Temp", unit: "°F"},
		{name: "column_2"},
		{name: "temp_2"},
		{name: "Temp_3"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("columnNames[%d] = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   string
		nf   NumberFormat
		want float64
		ok   bool
	}{
		{"1,000", NumberFormat{}, 1000, true},
		{"1.234,5", NumberFormat{}, 1234.5, true},
		{"0,5", NumberFormat{}, 0.5, true},
		{"$12.50", NumberFormat{}, 12.5, true},
		{"45%", NumberFormat{}, 45, true},
		{"1.000,0", NumberFormat{DecimalSeparator: ',', ThousandsSeparator: '.'}, 1000, true},
		{"NaN", NumberFormat{}, 0, false},
		{"abc", NumberFormat{}, 0, false},
		{"", NumberFormat{}, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNumeric(tc.in, tc.nf)
		if ok != tc.ok || (ok && !almostEqual(got, tc.want, 1e-9)) {
			t.Errorf("parseNumeric(%q) = %v %v, want %v %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestReadTableHeaderOnly(t *testing.T) {
	tbl, err := ReadTable(context.Background(), []byte("a;b\n"), "t.csv", "", ReadOptions{})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(tbl.Rows) != 0 || !strings.EqualFold(string(tbl.Delimiter), ";") {
		t.Fatalf("table = %#v", tbl)
	}
}
