package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// workbook parts read from the archive. Element paths ignore namespaces so
// transitional and strict OOXML both decode.
type (
	xlsxWorkbook struct {
		Sheets []wbSheet `xml:"sheets>sheet"`
	}
	wbSheet struct {
		Name    string `xml:"name,attr"`
		SheetID int    `xml:"sheetId,attr"`
		RID     string `xml:"id,attr"`
	}
	xlsxRels struct {
		Items []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	xlsxSharedStrings struct {
		Items []xlsxText `xml:"si"`
	}
	// xlsxText is plain (<t>) or rich (<r><t>) text.
	xlsxText struct {
		T    string `xml:"t"`
		Runs []struct {
			T string `xml:"t"`
		} `xml:"r"`
	}
	xlsxCell struct {
		Ref    string   `xml:"r,attr"`
		Type   string   `xml:"t,attr"`
		Value  string   `xml:"v"`
		Inline xlsxText `xml:"is"`
	}
)

func (x xlsxText) String() string {
	if len(x.Runs) == 0 {
		return x.T
	}
	var b strings.Builder
	b.WriteString(x.T)
	for _, r := range x.Runs {
		b.WriteString(r.T)
	}
	return b.String()
}

// readXLSX extracts the selected sheet of a workbook held in memory. The first
// row is the header. Without a sheet name the 1-based SheetIndex is used,
// defaulting to the first sheet.
func readXLSX(ctx context.Context, data []byte, opt ReadOptions) (*Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	var wb xlsxWorkbook
	if err := decodePart(zr, "xl/workbook.xml", &wb); err != nil {
		return nil, err
	}
	var rels xlsxRels
	if err := decodePart(zr, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		if r.ID != "" && r.Target != "" {
			targets[r.ID] = r.Target
		}
	}
	target, sheetName, err := resolveSheet(wb.Sheets, targets, opt.Sheet, opt.SheetIndex)
	if err != nil {
		return nil, err
	}
	var sst xlsxSharedStrings
	if err := decodePart(zr, "xl/sharedStrings.xml", &sst); err != nil {
		return nil, err
	}
	shared := make([]string, len(sst.Items))
	for i, si := range sst.Items {
		shared[i] = si.String()
	}

	f := zipEntry(zr, target)
	if f == nil {
		return nil, fmt.Errorf("open xlsx: worksheet %s missing", target)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer rc.Close()

	rows := &sheetRows{dec: xml.NewDecoder(rc), shared: shared}
	header, err := rows.next()
	if errors.Is(err, io.EOF) || (err == nil && len(header) == 0) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	header = cloneTrimmed(header)
	t := &Table{Header: header, Format: FormatXLSX, Encoding: "utf-8", Sheet: sheetName}
	maxRows := opt.MaxRows
	if maxRows <= 0 {
		maxRows = int(^uint(0) >> 1)
	}
	for {
		row, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read xlsx row %d: %w", t.TotalRows+2, err)
		}
		if t.TotalRows%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		t.TotalRows++
		if len(t.Rows) < maxRows {
			t.Rows = append(t.Rows, padRow(cloneTrimmed(row), len(header)))
		}
	}
	return t, nil
}

func resolveSheet(sheets []wbSheet, rels map[string]string, name string, index int) (target, resolved string, err error) {
	if name != "" {
		for _, s := range sheets {
			if strings.EqualFold(s.Name, name) {
				if rel, ok := rels[s.RID]; ok {
					return normalizeRelPath(rel), s.Name, nil
				}
				break
			}
		}
		available := make([]string, len(sheets))
		for i, s := range sheets {
			available[i] = s.Name
		}
		return "", "", fmt.Errorf("sheet %q not found; available sheets: %s", name, strings.Join(available, ", "))
	}
	idx := index
	if idx <= 0 {
		idx = 1
	}
	// sheetId first, then position, then the conventional part name
	for _, s := range sheets {
		if s.SheetID == idx {
			if rel, ok := rels[s.RID]; ok {
				return normalizeRelPath(rel), s.Name, nil
			}
		}
	}
	if idx <= len(sheets) {
		s := sheets[idx-1]
		if rel, ok := rels[s.RID]; ok {
			return normalizeRelPath(rel), s.Name, nil
		}
	}
	return path.Join("xl", "worksheets", fmt.Sprintf("sheet%d.xml", idx)), "", nil
}

func zipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// decodePart unmarshals an optional workbook part; a missing part leaves v
// untouched.
func decodePart(zr *zip.Reader, name string, v any) error {
	f := zipEntry(zr, name)
	if f == nil {
		return nil
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open xlsx %s: %w", name, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode xlsx %s: %w", name, err)
	}
	return nil
}

// sheetRows streams <row> elements of a worksheet.
type sheetRows struct {
	dec    *xml.Decoder
	shared []string
}

// next returns the cells of the following row, or io.EOF.
func (r *sheetRows) next() ([]string, error) {
	var row []string
	inRow := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "row":
				inRow, row = true, nil
			case "c":
				if !inRow {
					continue
				}
				var c xlsxCell
				if err := r.dec.DecodeElement(&c, &se); err != nil {
					return nil, err
				}
				col := colIndex(c.Ref)
				if col < 0 {
					col = len(row)
				}
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = r.cellText(c)
			}
		case xml.EndElement:
			if inRow && se.Name.Local == "row" {
				return row, nil
			}
		}
	}
}

func (r *sheetRows) cellText(c xlsxCell) string {
	switch c.Type {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || i < 0 || i >= len(r.shared) {
			return ""
		}
		return r.shared[i]
	case "inlineStr":
		return c.Inline.String()
	case "b":
		if strings.TrimSpace(c.Value) == "1" {
			return "true"
		}
		return "false"
	case "e":
		// #N/A, #DIV/0! and friends count as missing
		return ""
	}
	return c.Value
}

// colIndex maps the letters of an A1 reference to a 0-based column.
func colIndex(ref string) int {
	idx := 0
	for _, ch := range strings.ToUpper(ref) {
		if ch < 'A' || ch > 'Z' {
			break
		}
		idx = idx*26 + int(ch-'A'+1)
	}
	return idx - 1
}

// normalizeRelPath maps a relationship target, relative to xl/ or absolute
// within the package, to its zip entry name.
func normalizeRelPath(rel string) string {
	rel = path.Clean(strings.TrimPrefix(rel, "/"))
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
