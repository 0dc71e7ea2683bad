package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/tabsense-cli/internal/config"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
	"github.com/KaramelBytes/tabsense-cli/internal/orchestrator"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
	"github.com/KaramelBytes/tabsense-cli/internal/utils"
)

var (
	askProfileFile string
	askProfileID   string
	askDataFile    string
	askPlanOnly    bool
	askFormat      string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a natural-language question about a profiled dataset",
	Example: `  tabsense profile sales.csv --format json -o sales.profile.json
  tabsense ask "total revenue by region" --profile-file sales.profile.json
  tabsense ask "revenue trend over time" --data sales.csv --plan-only`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		sources := 0
		for _, s := range []string{askProfileFile, askProfileID, askDataFile} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			return errors.New("specify exactly one of --profile-file, --id or --data")
		}
		format := strings.ToLower(askFormat)
		if format != "markdown" && format != "md" && format != "json" {
			return fmt.Errorf("unsupported --format: %s (use markdown|json)", askFormat)
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

		p, err := resolveProfile(cmd, eng, c)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		ec := requestContext(c)

		if askPlanOnly {
			planned, err := eng.Plan(cmd.Context(), question, p, ec)
			if err != nil {
				return err
			}
			if format == "json" {
				b, err := utils.PrettyJSON(planned)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
				return nil
			}
			fmt.Fprint(out, renderPlan(planned))
			return nil
		}

		res, err := eng.Analyze(cmd.Context(), question, p, ec)
		if err != nil {
			return err
		}
		if format == "json" {
			b, err := utils.PrettyJSON(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		fmt.Fprint(out, renderAnswer(question, res))
		return nil
	},
}

// resolveProfile loads the profile named by the source flags.
func resolveProfile(cmd *cobra.Command, eng *orchestrator.Orchestrator, c *cfgpkg.Global) (*models.DataProfile, error) {
	ctx := cmd.Context()
	switch {
	case askProfileFile != "":
		b, err := os.ReadFile(askProfileFile)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		var p models.DataProfile
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", askProfileFile, err)
		}
		return &p, nil
	case askProfileID != "":
		st, err := openStore(ctx, c)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.Get(ctx, askProfileID)
	default:
		buf, err := os.ReadFile(askDataFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", askDataFile, err)
		}
		in := profiler.Input{Buffer: buf, Name: filepath.Base(askDataFile), Sheet: profSheetName, SheetIndex: profSheetIndex}
		return eng.ProcessDataUpload(ctx, in, requestContext(c))
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askProfileFile, "profile-file", "", "profile JSON written by 'profile --format json'")
	askCmd.Flags().StringVar(&askProfileID, "id", "", "id of a profile saved with 'profile --save'")
	askCmd.Flags().StringVar(&askDataFile, "data", "", "CSV/TSV/XLSX file to profile before answering")
	askCmd.Flags().BoolVar(&askPlanOnly, "plan-only", false, "print the query intent and execution plan without running it")
	askCmd.Flags().StringVarP(&askFormat, "format", "f", "markdown", "output format: markdown|json")
	addParsingFlags(askCmd)
}
