package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabsense-cli/internal/analysis"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
	"github.com/KaramelBytes/tabsense-cli/internal/utils"
)

var (
	profFormat     string
	profOutputPath string
	profSave       bool
	profDelimiter  string
	profDecimal    string
	profThousands  string
	profSampleRows int
	profMaxRows    int
	profOutlierThr float64
	profSheetName  string
	profSheetIndex int
	profQuiet      bool
)

var profileCmd = &cobra.Command{
	Use:   "profile <files...>",
	Short: "Profile CSV/TSV/XLSX files into statistical, quality and privacy summaries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		if profOutputPath != "" && len(files) > 1 {
			return fmt.Errorf("--output needs exactly one input file, got %d", len(files))
		}
		render, err := profileRenderer(profFormat)
		if err != nil {
			return err
		}
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		tune, err := analysisOverrides(cmd)
		if err != nil {
			return err
		}

		eng := newEngine(c, tune)
		defer eng.Shutdown()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var saved []*models.DataProfile
		for i, path := range files {
			if len(files) > 1 && !profQuiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] Processing %s...\n", i+1, len(files), filepath.Base(path))
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			in := profiler.Input{Buffer: buf, Name: filepath.Base(path), Sheet: profSheetName, SheetIndex: profSheetIndex}
			p, err := eng.ProcessDataUpload(ctx, in, requestContext(c))
			if err != nil {
				return fmt.Errorf("profile %s: %w", path, err)
			}
			body, err := render(p)
			if err != nil {
				return err
			}
			if profOutputPath != "" {
				if err := utils.SafeWriteFile(profOutputPath, body); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				fmt.Fprintf(out, "✓ Wrote profile to %s\n", profOutputPath)
			} else {
				fmt.Fprintln(out, string(body))
			}
			if profSave {
				saved = append(saved, p)
			}
		}

		if len(saved) > 0 {
			st, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, p := range saved {
				if err := st.Save(ctx, p); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Saved profile %s (%s, expires %s)\n", p.ID, p.Metadata.Filename, p.ExpiresAt.Format("2006-01-02 15:04"))
			}
		}
		return nil
	},
}

// expandInputs resolves globs and literal paths, dropping duplicates.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

func profileRenderer(format string) (func(*models.DataProfile) ([]byte, error), error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return func(p *models.DataProfile) ([]byte, error) { return []byte(analysis.RenderMarkdown(p)), nil }, nil
	case "json":
		return func(p *models.DataProfile) ([]byte, error) { return utils.PrettyJSON(p) }, nil
	}
	return nil, fmt.Errorf("unsupported --format: %s (use markdown|json)", format)
}

// analysisOverrides turns the parsing flags into an options adjustment.
func analysisOverrides(cmd *cobra.Command) (func(*analysis.Options), error) {
	var delim rune
	switch profDelimiter {
	case "":
	case ",":
		delim = ','
	case "\t", "tab":
		delim = '\t'
	case ";":
		delim = ';'
	case "|", "pipe":
		delim = '|'
	default:
		return nil, fmt.Errorf("unsupported --delimiter: %s", profDelimiter)
	}
	var nf analysis.NumberFormat
	switch strings.ToLower(strings.TrimSpace(profDecimal)) {
	case ",", "comma":
		nf.DecimalSeparator = ','
	case ".", "dot":
		nf.DecimalSeparator = '.'
	case "":
	default:
		return nil, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", profDecimal)
	}
	switch strings.ToLower(strings.TrimSpace(profThousands)) {
	case ",":
		nf.ThousandsSeparator = ','
	case ".":
		nf.ThousandsSeparator = '.'
	case "space", " ":
		nf.ThousandsSeparator = ' '
	case "":
	default:
		return nil, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", profThousands)
	}
	flags := cmd.Flags()
	return func(o *analysis.Options) {
		o.Delimiter = delim
		o.Number = nf
		if flags.Changed("sample-rows") && profSampleRows > 0 {
			o.SampleRows = profSampleRows
		}
		if flags.Changed("max-rows") && profMaxRows >= 0 {
			o.MaxRows = profMaxRows
		}
		if flags.Changed("outlier-threshold") && profOutlierThr > 0 {
			o.OutlierThreshold = profOutlierThr
		}
	}, nil
}

func addParsingFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&profDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | 'pipe' (sniffed if omitted)")
	cmd.Flags().StringVar(&profDecimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	cmd.Flags().StringVar(&profThousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	cmd.Flags().IntVar(&profSampleRows, "sample-rows", 0, "rows kept in the profile sample (overrides config)")
	cmd.Flags().IntVar(&profMaxRows, "max-rows", 0, "maximum rows to process, 0 = unlimited (overrides config)")
	cmd.Flags().Float64Var(&profOutlierThr, "outlier-threshold", 0, "robust |z| threshold for outliers (overrides config)")
	cmd.Flags().StringVar(&profSheetName, "sheet-name", "", "XLSX: sheet name to read")
	cmd.Flags().IntVar(&profSheetIndex, "sheet-index", 0, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().StringVarP(&profFormat, "format", "f", "markdown", "output format: markdown|json")
	profileCmd.Flags().StringVarP(&profOutputPath, "output", "o", "", "write the profile to this path instead of stdout")
	profileCmd.Flags().BoolVar(&profSave, "save", false, "save the profile to the local store for later questions")
	profileCmd.Flags().BoolVarP(&profQuiet, "quiet", "q", false, "suppress progress output")
	addParsingFlags(profileCmd)
}
