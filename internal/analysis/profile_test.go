package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

var csvRows = []string{
	"Group;Concentration (g/L);Temp (°F);Score;LocaleNumber;Category;Note",
	"A;0,5;70;10,0;1.000,0;alpha;first",
	"A;0,6;71;11,0;1.100,0;alpha;second",
	"A;0,55;69;9,5;0.900,0;beta;third",
	"B;0,7;75;10,5;1.050,0;alpha;fourth",
	"B;0,65;74;9,8;0.980,0;beta;fifth",
	"B;0,68;73;10,2;1.020,0;alpha;sixth",
	"A;0,52;68;8,8;0.880,0;gamma;seventh",
	"B;0,75;76;9,7;0.970,0;beta;eighth",
	"A;3,0;95;50,0;5.000,0;alpha;ninth",
	"B;0,66;72;10,1;1.010,0;gamma;tenth",
}

var (
	processedConcentration = []float64{
		mgPerL(0.5), mgPerL(0.6), mgPerL(0.55), mgPerL(0.7), mgPerL(0.65), mgPerL(0.68), mgPerL(0.52), mgPerL(0.75), mgPerL(3.0),
	}
	processedTemp = []float64{
		toC(70), toC(71), toC(69), toC(75), toC(74), toC(73), toC(68), toC(76), toC(95),
	}
	processedScore  = []float64{10, 11, 9.5, 10.5, 9.8, 10.2, 8.8, 9.7, 50}
	processedLocale = []float64{1000, 1100, 900, 1050, 980, 1020, 880, 970, 5000}
)

const xlsxFixtureBase64 = `
UEsDBBQAAAAIAMEwN1vYAxPv/wAAALYCAAATABwAW0NvbnRlbnRfVHlwZXNdLnhtbFVUCQADyjjSaMo40mh1eAsAAQQAAAAABAAAAAC1ks1OwzAQhO95CsvX
Kt60B4RQkh74OQKH8gDG3iRW/CfbLeHtcVIEEqIIpHJaWTOz32jlejsZTQ4YonK2oWtWUYJWOKls39Cn3V15SbdtUe9ePUaSvTY2dEjJXwFEMaDhkTmPNiud
C4an/Aw9eC5G3iNsquoChLMJbSrTvIO2BSH1DXZ8rxO5nbJyRAfUkZLro3fGNZR7r5XgKetwsPILqHyHsJxcPHFQPq6ygcIpyCyeZnxGH/JFgpJIHnlI99xk
I0waXlwYn50b2c97vunquk4JlE7sTY6w6ANyGQfEZDRbJjNc2dWvKiz+CMtYn7nLx/6/V9n8d5Ualm/YFm9QSwMECgAAAAAAxDA3WwAAAAAAAAAAAAAAAAMA
HAB4bC9VVAkAA9A40mjyONJodXgLAAEEAAAAAAQAAAAAUEsDBBQAAAAIAMQwN1tM2kS6xQAAAEkBAAAPABwAeGwvd29ya2Jvb2sueG1sVVQJAAPQONJo0DjS
aHV4CwABBAAAAAAEAAAAAI1Qu27DMAzc/RUC90aOhyIwZGcJAnhvP0CxaVuIRRqk+vj8qjEMZOjQ7Y7k3ZF05++4mE8UDUwNHA8lGKSeh0BTA+9v15cTnNvC
fbHcb8x3k8dJG5hTWmtrtZ8xej3wipQ7I0v0KVOZrK6CftAZMcXFVmX5aqMPBJtDLf/x4HEMPV64/4hIaTMRXHzKy+ocVoW2MMY9QvQX7sSQj9hANxELgnnU
uiHfB0bqkIF0wxHsH5KLT/5JUD0Jqk3g7J7n7P6WtvgBUEsDBAoAAAAAANIwN1sAAAAAAAAAAAAAAAAOABwAeGwvd29ya3NoZWV0cy9VVAkAA+s40mjyONJo
dXgLAAEEAAAAAAQAAAAAUEsDBBQAAAAIANIwN1u3fFZsqwIAAIASAAAYABwAeGwvd29ya3NoZWV0cy9zaGVldDIueG1sVVQJAAPrONJo6zjSaHV4CwABBAAA
AAAEAAAAAJ3YT26bQBiH4X1OgVilkguD/wEVJkoMzibKJukBJngMqGYGDeMkvVXP0JN1nEhVQ/r7QCxx/BDsV9/gIbl6bY7Os9BdreTGDTzmOkIWal/LcuN+
f9x9jdyr9CJ5UfpHVwlhHPt+2W3cypj2m+93RSUa3nmqFdL+5aB0w4091KXftVrw/Rtqjv6csbXf8Fq66YXjJG8vZ9zw85E91urF0fb/u+/H9pXifHwduI7Z
uLU81lI8GO2mSd2liUlvtTq1iW/SxD+/4Bcf3Q1yWyULIY3mxn5e57L0777gs2zRWR5F0zqXv3/tCJwh/FAoLbDLkbtTBT+K+1PzJDTmO/jJuRGl0j8xvUX0
Xpn/XHDi22gf8837+ebgjNdEOmTYbEWkQipkRCKEAjYjWA6Zxxgpd0jyY1txogxyh1p3ZlSaRT/NYkIaZNhsTaRBKgyINAgFAZkGMi8YSIPkUBrkOlEouR/V
Ztlvs5zQBhk7NtTcILaOiTgIxdSI5vAKvXigDZJPwlBpEDNVrceVWfXLrMApb4gyyLBZSIRBKiS+4gyhgFw8c8g8tqLLIDk0Ncgd1EmbalSbdb/NekIbZOyK
Rk0NYuGSiINQPIuINvAKvTii2yA5MDWIHerDyDJhv0w4oQwytgzxdW0RCxdEGYTs2MyJNJB5bE6nQXJobJDr6teRbaJ+m2jCvQYZu8oQ39cWMSpohlBETg28
Qi8amBokS940VBrkOvFsNxzj4sT9OPGEwUHG3m6oJQ2xkPhplyEUU7e2HF6hF4d0HCQHljTERF1WI9ME7NPWlE2YHIgW1OfeQhZTvwagom/qOXaDGxxIh1Y2
CGU9dnqCz08P0I6Wmh+I7J2H2uZAFxJrYgaVvfcQ+6McO4/R29cdpENLHIRmYIVL/H+e9yT+34dJ6cUfUEsDBBQAAAAIAMcwN1sqMey0swAAAPgAAAAYABwA
eGwvd29ya3NoZWV0cy9zaGVldDEueG1sVVQJAAPWONJo1jjSaHV4CwABBAAAAAAEAAAAAE2P3WrDMAxG7/MURverkl6MUhyXwegLrHsA46iNqf+QxbLHr5OO
0cvzSfoO0qffGNQPcfU5jTDselCUXJ58uo3wfTm/HeBkOr1kvteZSFTbT3WEWaQcEaubKdq6y4VSm1wzRysN+Ya1MNlpO4oB933/jtH6BKZTSm/xpxW7UmPO
i+Lmhye3xK38MYCSEXwKPtGXMBjtq9FiSrCO5hwmYo1iNK4xur82bHWbBl88Gv+fMN0DUEsDBAoAAAAAAMYwN1sAAAAAAAAAAAAAAAAJABwAeGwvX3JlbHMv
VVQJAAPTONJo8jjSaHV4CwABBAAAAAAEAAAAAFBLAwQUAAAACADGMDdbCmPblLYAAACtAQAAGgAcAHhsL19yZWxzL3dvcmtib29rLnhtbC5yZWxzVVQJAAPT
ONJo0zjSaHV4CwABBAAAAAAEAAAAAL2QSwrCMBBA9z1FmL2dtgsRadqNCN1KPUBIpx/aJiGJv9sbBMWCgitXw/zePCYvr/PEzmTdoBWHNE6AkZK6GVTH4Vjv
Vxsoiyg/0CR8GHH9YBwLO8px6L03W0Qne5qFi7UhFTqttrPwIbUdGiFH0RFmSbJG+86AImJsgWVVw8FWTQqsvhn6Ba/bdpC00/I0k/IfruBF29H1RD5Ahe3I
c3iVHD5CGgcq4Fef7M8+2dMnx8XXi+gOUEsDBAoAAAAAAMMwN1sAAAAAAAAAAAAAAAAGABwAX3JlbHMvVVQJAAPNONJo8jjSaHV4CwABBAAAAAAEAAAAAFBL
AwQUAAAACADDMDdbDxvLDKoAAAAcAQAACwAcAF9yZWxzLy5yZWxzVVQJAAPNONJozTjSaHV4CwABBAAAAAAEAAAAAI3PsQ6CMBAG4J2naG6XgoMxxsJiTFgN
PkAtRyHQXtNWxbe3oxgHx8v9913+Y72YmT3Qh5GsgDIvgKFV1I1WC7i2580e6io7XnCWMUXCMLrA0o0NAoYY3YHzoAY0MuTk0KZNT97ImEavuZNqkhr5tih2
3H8aUGWMrVjWdAJ805XA2pfDf3jq+1HhidTdoI0/vnwlkiy9xihgmfmT/HQjmvKEAk8d+apklb0BUEsBAh4DFAAAAAgAwTA3W9gDE+//AAAAtgIAABMAGAAA
AAAAAQAAAKSBAAAAAFtDb250ZW50X1R5cGVzXS54bWxVVAUAA8o40mh1eAsAAQQAAAAABAAAAABQSwECHgMKAAAAAADEMDdbAAAAAAAAAAAAAAAAAwAYAAAA
AAAAABAA7UFMAQAAeGwvVVQFAAPQONJodXgLAAEEAAAAAAQAAAAAUEsBAh4DFAAAAAgAxDA3W0zaRLrFAAAASQEAAA8AGAAAAAAAAQAAAKSBiQEAAHhsL3dv
cmtib29rLnhtbFVUBQAD0DjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAwoAAAAAANIwN1sAAAAAAAAAAAAAAAAOABgAAAAAAAAAEADtQZcCAAB4bC93b3Jrc2hl
ZXRzL1VUBQAD6zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAxQAAAAIANIwN1u3fFZsqwIAAIASAAAYABgAAAAAAAEAAACkgd8CAAB4bC93b3Jrc2hlZXRzL3No
ZWV0Mi54bWxVVAUAA+s40mh1eAsAAQQAAAAABAAAAABQSwECHgMUAAAACADHMDdbKjHstLMAAAD4AAAAGAAYAAAAAAABAAAApIHcBQAAeGwvd29ya3NoZWV0
cy9zaGVldDEueG1sVVQFAAPWONJodXgLAAEEAAAAAAQAAAAAUEsBAh4DCgAAAAAAxjA3WwAAAAAAAAAAAAAAAAkAGAAAAAAAAAAQAO1B4QYAAHhsL19yZWxz
L1VUBQAD0zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAxQAAAAIAMYwN1sKY9uUtgAAAK0BAAAaABgAAAAAAAEAAACkgSQHAAB4bC9fcmVscy93b3JrYm9vay54
bWwucmVsc1VUBQAD0zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAwoAAAAAAMMwN1sAAAAAAAAAAAAAAAAGABgAAAAAAAAAEADtQS4IAABfcmVscy9VVAUAA804
0mh1eAsAAQQAAAAABAAAAABQSwECHgMUAAAACADDMDdbDxvLDKoAAAAcAQAACwAYAAAAAAABAAAApIFuCAAAX3JlbHMvLnJlbHNVVAUAA8040mh1eAsAAQQA
AAAABAAAAABQSwUGAAAAAAoACgBTAwAAXQkAAAAA
`

func euroOptions() Options {
	opt := DefaultOptions()
	opt.SampleRows = 3
	opt.MaxRows = 9
	opt.Number = NumberFormat{DecimalSeparator: ',', ThousandsSeparator: '.'}
	return opt
}

func TestBuildProfileCSVAndMarkdown(t *testing.T) {
	opt := euroOptions()
	opt.Delimiter = ';'
	ctx := context.Background()

	tbl, err := ReadTable(ctx, []byte(strings.Join(csvRows, "\n")), "metrics.csv", "text/csv", opt.ReadOptions())
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	p, err := BuildProfile(ctx, tbl, opt)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	p.Metadata.Filename = "metrics.csv"
	assertProfile(t, p)

	md := RenderMarkdown(p)
	for _, want := range []string{
		"[DATASET SUMMARY]",
		"File: metrics.csv",
		"Rows: ~10 (processed 9)",
		"Concentration [mg/L]: numeric",
		"outliers: 1 above |z|>3.5",
		"[GROUP-BY SUMMARY]",
		"Group=A (n=5)",
		"[CORRELATIONS]",
		"Score ~ LocaleNumber",
		"[NOTES]",
		"processed only 9/10 rows due to MaxRows",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q: %s", want, md)
		}
	}
}

func TestBuildProfileXLSXSheetSelection(t *testing.T) {
	opt := euroOptions()
	data := xlsxFixture(t)
	ctx := context.Background()

	byName := opt.ReadOptions()
	byName.Sheet = "Data"
	tbl, err := ReadTable(ctx, data, "analysis_dataset.xlsx", "", byName)
	if err != nil {
		t.Fatalf("ReadTable by name: %v", err)
	}
	if tbl.Sheet != "Data" {
		t.Fatalf("sheet = %q, want Data", tbl.Sheet)
	}
	p, err := BuildProfile(ctx, tbl, opt)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	assertProfile(t, p)

	byIndex := opt.ReadOptions()
	byIndex.SheetIndex = 2
	tbl, err = ReadTable(ctx, data, "analysis_dataset.xlsx", "", byIndex)
	if err != nil {
		t.Fatalf("ReadTable by index: %v", err)
	}
	p, err = BuildProfile(ctx, tbl, opt)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	assertProfile(t, p)

	missing := opt.ReadOptions()
	missing.Sheet = "Nope"
	if _, err := ReadTable(ctx, data, "analysis_dataset.xlsx", "", missing); err == nil || !strings.Contains(err.Error(), "available sheets") {
		t.Fatalf("missing sheet error = %v", err)
	}
}

func xlsxFixture(t *testing.T) []byte {
	t.Helper()
	raw := strings.ReplaceAll(strings.TrimSpace(xlsxFixtureBase64), "\n", "")
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode xlsx fixture: %v", err)
	}
	return data
}

func assertProfile(t *testing.T, p *models.DataProfile) {
	t.Helper()
	if p.Metadata.RowCount != 10 {
		t.Fatalf("rows = %d, want 10", p.Metadata.RowCount)
	}
	if p.Metadata.ProcessedRows != 9 {
		t.Fatalf("processed = %d, want 9", p.Metadata.ProcessedRows)
	}
	if len(p.SampleData) != 3 {
		t.Fatalf("samples = %d, want 3", len(p.SampleData))
	}
	first := p.SampleData[0]
	if first["Group"] != "A" || first["Concentration"] != "500" || first["Category"] != "alpha" || first["Note"] != "first" {
		t.Fatalf("first sample = %#v", first)
	}

	conc := colOf(t, p, "Concentration")
	if conc.Unit != "mg/L" {
		t.Fatalf("concentration unit = %q", conc.Unit)
	}
	checkStats(t, conc, processedConcentration)

	score := colOf(t, p, "Score")
	if score.Unit != "" {
		t.Fatalf("score unit = %q", score.Unit)
	}
	checkStats(t, score, processedScore)
	count, maxZ := robustOutlierStats(processedScore, 3.5)
	st, _ := score.Numeric()
	if st.Outliers.RobustZCount != count {
		t.Fatalf("score outliers = %d, want %d", st.Outliers.RobustZCount, count)
	}
	if !almostEqual(st.Outliers.MaxAbsZ, maxZ, 1e-6) {
		t.Fatalf("score max |z| = %f, want %f", st.Outliers.MaxAbsZ, maxZ)
	}

	temp := colOf(t, p, "Temp")
	if temp.Unit != "°C" {
		t.Fatalf("temp unit = %q", temp.Unit)
	}
	checkStats(t, temp, processedTemp)
	checkStats(t, colOf(t, p, "LocaleNumber"), processedLocale)

	cat := colOf(t, p, "Category")
	cs, ok := cat.Categorical()
	if !ok {
		t.Fatalf("category type = %q", cat.Type)
	}
	if len(cs.TopValues) == 0 || cs.TopValues[0].Value != "alpha" || cs.TopValues[0].Count != 5 {
		t.Fatalf("category top = %#v", cs.TopValues)
	}
	if note := colOf(t, p, "Note"); note.Type != models.ColumnText || !note.Unique {
		t.Fatalf("note = %s unique=%v, want unique text", note.Type, note.Unique)
	}

	g, ok := p.Aggregations.FindGrouped("Group", "Score")
	if !ok {
		t.Fatalf("no grouped aggregate for Group x Score: %#v", p.Aggregations.Grouped)
	}
	if g.RowCount != 9 {
		t.Fatalf("grouped rows = %d, want 9", g.RowCount)
	}
	checkAggregate(t, g.Groups["A"], subset(processedScore, []int{0, 1, 2, 6, 8}))
	checkAggregate(t, g.Groups["B"], subset(processedScore, []int{3, 4, 5, 7}))

	var found bool
	for _, r := range p.Schema.Relationships {
		if r.From == "Score" && r.To == "LocaleNumber" {
			found = true
			if !almostEqual(r.Coefficient, correlation(processedScore, processedLocale), 1e-6) {
				t.Fatalf("corr score-locale = %f", r.Coefficient)
			}
		}
	}
	if !found {
		t.Fatalf("relationships = %#v", p.Schema.Relationships)
	}
	for _, c := range p.Schema.Columns {
		if err := c.Validate(); err != nil {
			t.Fatalf("column %s: %v", c.Name, err)
		}
	}
}

func TestNumericStatsTwoValues(t *testing.T) {
	p := profileCSV(t, "age\n25\n30\n")
	st, ok := colOf(t, p, "age").Numeric()
	if !ok {
		t.Fatalf("age is not numeric")
	}
	if st.Min != 25 || st.Max != 30 || st.Mean != 27.5 {
		t.Fatalf("stats = min %v max %v mean %v, want 25 30 27.5", st.Min, st.Max, st.Mean)
	}
	if st.Sum != 55 || st.Median != 27.5 || st.Count != 2 {
		t.Fatalf("stats = %#v", st)
	}
}

func TestNumericStatsShape(t *testing.T) {
	vals := []float64{1, 2, 2, 3, 4, 5, 6, 7, 8, 100}
	st := numericStats(vals, 3.5)
	if st.Mode != 2 {
		t.Fatalf("mode = %v, want 2", st.Mode)
	}
	total := 0
	for _, b := range st.Histogram {
		total += b.Count
	}
	if total != len(vals) {
		t.Fatalf("histogram counts %d values, want %d", total, len(vals))
	}
	if len(st.Histogram) != 5 {
		t.Fatalf("bins = %d, want 5 (Sturges)", len(st.Histogram))
	}
	if st.Outliers.IQRCount != 1 || st.Outliers.Examples[0] != 100 {
		t.Fatalf("iqr outliers = %#v", st.Outliers)
	}
	if st.Percentiles.P25 > st.Percentiles.P50 || st.Percentiles.P50 > st.Percentiles.P75 || st.Percentiles.P75 > st.Percentiles.P95 {
		t.Fatalf("percentiles not monotonic: %#v", st.Percentiles)
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		name   string
		values []string
		want   models.ColumnType
	}{
		{"numbers", []string{"1", "2.5", "3"}, models.ColumnNumeric},
		{"booleans", []string{"yes", "no", "Yes"}, models.ColumnBoolean},
		{"dates", []string{"2024-01-01", "2024-02-01", "2024-03-01"}, models.ColumnDateTime},
		{"categories", []string{"red", "blue", "red", "green"}, models.ColumnCategorical},
		{"unique words", []string{"alpha beta", "gamma delta", "epsilon"}, models.ColumnText},
		{"empty", nil, models.ColumnText},
	}
	for _, tc := range cases {
		if got := inferType(tc.values, NumberFormat{}); got != tc.want {
			t.Errorf("%s: inferType = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDateTimeStats(t *testing.T) {
	var b strings.Builder
	b.WriteString("day,visits\n")
	for i := 1; i <= 28; i++ {
		fmt.Fprintf(&b, "2024-02-%02d,%d\n", i, i*10)
	}
	p := profileCSV(t, b.String())
	st, ok := colOf(t, p, "day").DateTime()
	if !ok {
		t.Fatalf("day is not a datetime")
	}
	if st.Frequency != "daily" {
		t.Fatalf("frequency = %q, want daily", st.Frequency)
	}
	if !almostEqual(st.RangeDays, 27, 1e-9) {
		t.Fatalf("range = %v days, want 27", st.RangeDays)
	}
	if len(st.Gaps) != 0 {
		t.Fatalf("gaps = %#v", st.Gaps)
	}
	if got := p.SampleData[0]["day"]; got != "2024-02-01T00:00:00Z" {
		t.Fatalf("normalized day = %q", got)
	}
	if len(p.Aggregations.Temporal["day"]) != 1 || p.Aggregations.Temporal["day"][0].Count != 28 {
		t.Fatalf("temporal = %#v", p.Aggregations.Temporal)
	}
}

func TestTextAndBooleanStats(t *testing.T) {
	p := profileCSV(t, "comment,active\nThe quick brown fox,yes\nA lazy brown dog,no\nBrown bread again,yes\n")
	ts, ok := colOf(t, p, "comment").Text()
	if !ok {
		t.Fatalf("comment is not text")
	}
	if len(ts.CommonTokens) == 0 || ts.CommonTokens[0].Value != "brown" || ts.CommonTokens[0].Count != 3 {
		t.Fatalf("tokens = %#v", ts.CommonTokens)
	}
	if len(ts.Languages) != 1 || ts.Languages[0] != "latin" {
		t.Fatalf("languages = %#v", ts.Languages)
	}
	bs, ok := colOf(t, p, "active").Boolean()
	if !ok {
		t.Fatalf("active is not boolean")
	}
	if bs.TrueCount != 2 || bs.FalseCount != 1 {
		t.Fatalf("bool stats = %#v", bs)
	}
	if p.SampleData[1]["active"] != "false" {
		t.Fatalf("normalized bool = %q", p.SampleData[1]["active"])
	}
}

func TestEmailColumnIsPII(t *testing.T) {
	p := profileCSV(t, "id,email,amount\n1,ann@example.com,10\n2,bob@example.org,20\n3,cy@example.net,30\n")
	sec := p.Security
	if len(sec.PIIColumns) != 1 {
		t.Fatalf("pii columns = %#v", sec.PIIColumns)
	}
	f := sec.PIIColumns[0]
	if f.Column != "email" || f.Type != models.PIIEmail || f.Confidence <= 0 {
		t.Fatalf("finding = %#v", f)
	}
	if sec.RiskLevel.Rank() < models.SeverityMedium.Rank() {
		t.Fatalf("risk = %s, want at least medium", sec.RiskLevel)
	}
	if !sec.Compliance.GDPR || sec.Compliance.PCIDSS {
		t.Fatalf("compliance = %#v", sec.Compliance)
	}
	for _, rec := range p.SampleData {
		if strings.Contains(rec["email"], "ann@") || strings.Contains(rec["email"], "bob@") {
			t.Fatalf("raw email leaked into sample: %#v", rec)
		}
	}
	for _, s := range f.RedactedSamples {
		if !strings.Contains(s, "***@") {
			t.Fatalf("sample not redacted: %q", s)
		}
	}
	if md := RenderMarkdown(p); strings.Contains(md, "ann@example.com") {
		t.Fatalf("markdown leaks raw email")
	}
}

func TestCardNumbersRaiseCriticalRisk(t *testing.T) {
	p := profileCSV(t, "card_number\n4111 1111 1111 1111\n5500-0000-0000-0004\n4012888888881881\n")
	if len(p.Security.PIIColumns) != 1 || p.Security.PIIColumns[0].Type != models.PIICreditCard {
		t.Fatalf("pii = %#v", p.Security.PIIColumns)
	}
	if p.Security.RiskLevel != models.SeverityCritical || !p.Security.Compliance.PCIDSS {
		t.Fatalf("security = %#v", p.Security)
	}
}

func TestMatchPIIBareDigits(t *testing.T) {
	tests := []struct {
		kind   models.PIIType
		value  string
		hinted bool
		want   bool
	}{
		{models.PIISSN, "123456789", true, true},
		{models.PIISSN, "123456789", false, false},
		{models.PIISSN, "12345678", true, false},
		{models.PIIPhone, "5551234567", true, true},
		{models.PIIPhone, "+445551234567", true, true},
		{models.PIIPhone, "5551234567", false, false},
		{models.PIIPhone, "123", true, false},
		{models.PIICreditCard, "4111111111111111", false, true},
		{models.PIICreditCard, "4111111111111112", true, false},
	}
	for _, tc := range tests {
		if got := matchPII(tc.kind, tc.value, tc.hinted); got != tc.want {
			t.Fatalf("matchPII(%s, %q, %v) = %v, want %v", tc.kind, tc.value, tc.hinted, got, tc.want)
		}
	}
}

func TestLuhn(t *testing.T) {
	if !isCardNumber("4111 1111 1111 1111") {
		t.Fatalf("valid card rejected")
	}
	if isCardNumber("4111 1111 1111 1112") {
		t.Fatalf("invalid checksum accepted")
	}
	if isCardNumber("1234") {
		t.Fatalf("short number accepted")
	}
}

func TestQualityScore(t *testing.T) {
	p := profileCSV(t, "region,sales\nnorth,10\nsouth,\nnorth,10\neast,30\n")
	q := p.Quality
	if !almostEqual(q.Dimensions.Completeness, 87.5, 1e-9) {
		t.Fatalf("completeness = %v, want 87.5", q.Dimensions.Completeness)
	}
	if !almostEqual(q.Dimensions.Uniqueness, 75, 1e-9) {
		t.Fatalf("uniqueness = %v, want 75", q.Dimensions.Uniqueness)
	}
	d := q.Dimensions
	want := 0.30*d.Completeness + 0.20*d.Consistency + 0.20*d.Accuracy + 0.15*d.Uniqueness + 0.15*d.Validity
	if !almostEqual(q.Score, want, 0.051) {
		t.Fatalf("score = %v, want %v", q.Score, want)
	}
	kinds := map[string]bool{}
	for _, is := range q.Issues {
		kinds[is.Kind] = true
	}
	if !kinds["missing_values"] || !kinds["duplicate_rows"] {
		t.Fatalf("issues = %#v", q.Issues)
	}
	if flags := colOf(t, p, "sales").QualityFlags; len(flags) == 0 || flags[0] != "missing_values" {
		t.Fatalf("sales flags = %#v", flags)
	}
}

func TestEmptyUpload(t *testing.T) {
	_, err := ReadTable(context.Background(), []byte(""), "empty.csv", "", ReadOptions{})
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("err = %v, want ErrEmptyDataset", err)
	}
	_, err = ReadTable(context.Background(), []byte("a,b"), "notes.pdf", "application/pdf", ReadOptions{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestBuildProfileCanceled(t *testing.T) {
	tbl, err := ReadTable(context.Background(), []byte("a\n1\n"), "a.csv", "", ReadOptions{})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildProfile(ctx, tbl, DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func profileCSV(t *testing.T, text string) *models.DataProfile {
	t.Helper()
	ctx := context.Background()
	tbl, err := ReadTable(ctx, []byte(text), "data.csv", "text/csv", ReadOptions{})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	p, err := BuildProfile(ctx, tbl, DefaultOptions())
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	return p
}

func colOf(t *testing.T, p *models.DataProfile, name string) models.ColumnProfile {
	t.Helper()
	c, ok := p.Schema.Column(name)
	if !ok {
		t.Fatalf("column %q not found", name)
	}
	return c
}

func checkStats(t *testing.T, col models.ColumnProfile, vals []float64) {
	t.Helper()
	st, ok := col.Numeric()
	if !ok {
		t.Fatalf("%s type = %s, want numeric", col.Name, col.Type)
	}
	if st.Count != len(vals) {
		t.Fatalf("count = %d, want %d", st.Count, len(vals))
	}
	if !almostEqual(st.Min, minFloat(vals), 1e-6) {
		t.Fatalf("min = %f, want %f", st.Min, minFloat(vals))
	}
	if !almostEqual(st.Max, maxFloat(vals), 1e-6) {
		t.Fatalf("max = %f, want %f", st.Max, maxFloat(vals))
	}
	if !almostEqual(st.Mean, mean(vals), 1e-6) {
		t.Fatalf("mean = %f, want %f", st.Mean, mean(vals))
	}
	if !almostEqual(st.StdDev, sampleStd(vals), 1e-6) {
		t.Fatalf("std = %f, want %f", st.StdDev, sampleStd(vals))
	}
}

func checkAggregate(t *testing.T, s models.NumericAggregate, vals []float64) {
	t.Helper()
	if s.Count != len(vals) {
		t.Fatalf("summary count = %d, want %d", s.Count, len(vals))
	}
	if !almostEqual(s.Min, minFloat(vals), 1e-6) {
		t.Fatalf("summary min = %f, want %f", s.Min, minFloat(vals))
	}
	if !almostEqual(s.Max, maxFloat(vals), 1e-6) {
		t.Fatalf("summary max = %f, want %f", s.Max, maxFloat(vals))
	}
	if !almostEqual(s.Mean, mean(vals), 1e-6) {
		t.Fatalf("summary mean = %f, want %f", s.Mean, mean(vals))
	}
}

func robustOutlierStats(vals []float64, threshold float64) (count int, maxAbs float64) {
	cp := append([]float64(nil), vals...)
	sort.Float64s(cp)
	med := quantileValue(cp, 0.5)
	devs := make([]float64, len(cp))
	for i, v := range cp {
		d := math.Abs(v - med)
		devs[i] = d
	}
	sort.Float64s(devs)
	mad := quantileValue(devs, 0.5)
	if mad == 0 {
		return 0, 0
	}
	for _, v := range cp {
		z := 0.6745 * (v - med) / mad
		az := math.Abs(z)
		if az > threshold {
			count++
			if az > maxAbs {
				maxAbs = az
			}
		}
	}
	return
}

func quantileValue(sortedVals []float64, q float64) float64 {
	if len(sortedVals) == 0 {
		return 0
	}
	if q <= 0 {
		return sortedVals[0]
	}
	if q >= 1 {
		return sortedVals[len(sortedVals)-1]
	}
	pos := q * float64(len(sortedVals)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sortedVals[lo]
	}
	w := pos - float64(lo)
	return sortedVals[lo]*(1-w) + sortedVals[hi]*w
}

func subset(vals []float64, idxs []int) []float64 {
	out := make([]float64, len(idxs))
	for i, idx := range idxs {
		out[i] = vals[idx]
	}
	return out
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func sampleStd(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sum float64
	for _, v := range vals {
		diff := v - m
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

func minFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func correlation(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("length mismatch")
	}
	ma := mean(a)
	mb := mean(b)
	var num, da2, db2 float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		num += da * db
		da2 += da * da
		db2 += db * db
	}
	if da2 == 0 || db2 == 0 {
		return 0
	}
	return num / math.Sqrt(da2*db2)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func mgPerL(v float64) float64 { return v * 1000 }
func toC(f float64) float64    { return (f - 32) * 5.0 / 9.0 }
