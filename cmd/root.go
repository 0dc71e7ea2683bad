package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/analysis"
	cfgpkg "github.com/KaramelBytes/tabsense-cli/internal/config"
	"github.com/KaramelBytes/tabsense-cli/internal/orchestrator"
	"github.com/KaramelBytes/tabsense-cli/internal/planner"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
	"github.com/KaramelBytes/tabsense-cli/internal/store"
	"github.com/KaramelBytes/tabsense-cli/internal/utils"
)

var (
	// Global flags
	cfgFile string
	debug   bool
	// Execution flags (override config if set)
	flagTimeoutMs        int
	flagRetryMaxAttempts int

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "tabsense",
	Short: "tabsense: profile a CSV/XLSX file and ask it questions",
	Long: `tabsense profiles tabular files (CSV, TSV, XLSX) into statistical, quality and
privacy summaries, then answers natural-language questions about them by
planning and executing structured queries against the profile.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.tabsense/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagTimeoutMs, "timeout-ms", 0, "per-agent timeout in milliseconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max attempts for retryable agent failures (overrides config)")
}

func loadConfig() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("timeout-ms") && flagTimeoutMs > 0 {
		cfg.AgentTimeoutMs = flagTimeoutMs
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

// loadedConfig returns the configuration, loading it on demand.
func loadedConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// newEngine builds an orchestrator from configuration. opt adjusts the
// analysis options after the configured defaults are applied.
func newEngine(c *cfgpkg.Global, opt func(*analysis.Options)) *orchestrator.Orchestrator {
	ao := analysis.DefaultOptions()
	ao.MaxRows = c.MaxRows
	ao.SampleRows = c.SampleRows
	ao.OutlierThreshold = c.OutlierThreshold
	if opt != nil {
		opt(&ao)
	}
	rc := agent.RunnerConfig{MinSuccessRate: c.HealthMinSuccessRate}
	pc := profiler.Config{Analysis: ao, TTL: c.ProfileTTL()}
	plc := planner.DefaultConfig()
	plc.LowConfidenceThreshold = c.LowConfidenceThreshold

	return orchestrator.New(orchestrator.Options{
		Factories:        orchestrator.DefaultFactories(pc, plc, rc),
		RetryMaxAttempts: c.RetryMaxAttempts,
		RetryDelay:       c.RetryDelay(),
		ResultCacheSize:  orchestrator.DefaultResultCacheSize,
	})
}

// requestContext is the execution context for one CLI invocation.
func requestContext(c *cfgpkg.Global) *agent.ExecutionContext {
	return agent.NewExecutionContext("", agent.WithTimeout(c.AgentTimeout()))
}

func openStore(ctx context.Context, c *cfgpkg.Global) (*store.Store, error) {
	path, err := utils.ExpandHome(c.StorePath)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, path)
}
