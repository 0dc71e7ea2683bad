package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const dirName = ".tabsense"

// Global configuration structure.
type Global struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Profiling
	MaxRows           int     `mapstructure:"max_rows" yaml:"max_rows"`
	SampleRows        int     `mapstructure:"sample_rows" yaml:"sample_rows"`
	ProfileTTLMinutes int     `mapstructure:"profile_ttl_minutes" yaml:"profile_ttl_minutes"`
	OutlierThreshold  float64 `mapstructure:"outlier_threshold" yaml:"outlier_threshold"`

	// Agent execution
	AgentTimeoutMs       int     `mapstructure:"agent_timeout_ms" yaml:"agent_timeout_ms"`
	RetryMaxAttempts     int     `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryDelayMs         int     `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	HealthMinSuccessRate float64 `mapstructure:"health_min_success_rate" yaml:"health_min_success_rate"`

	// Planning
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold" yaml:"low_confidence_threshold"`

	// Profile store
	StorePath string `mapstructure:"store_path" yaml:"store_path"`
}

// Keys lists every settable key in display order.
var Keys = []string{
	"log_level", "max_rows", "sample_rows", "profile_ttl_minutes", "outlier_threshold",
	"agent_timeout_ms", "retry_max_attempts", "retry_delay_ms", "health_min_success_rate",
	"low_confidence_threshold", "store_path",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("max_rows", 100000)
	v.SetDefault("sample_rows", 10000)
	v.SetDefault("profile_ttl_minutes", 1440)
	v.SetDefault("outlier_threshold", 3.5)
	v.SetDefault("agent_timeout_ms", 30000)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_delay_ms", 200)
	v.SetDefault("health_min_success_rate", 0.9)
	v.SetDefault("low_confidence_threshold", 0.5)
	v.SetDefault("store_path", "")
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.tabsense/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("TABSENSE")
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.StorePath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.StorePath = filepath.Join(dir, "profiles.db")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Dir is ~/.tabsense.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Validate rejects values the engine cannot run with.
func (c *Global) Validate() error {
	switch {
	case c.MaxRows < 0:
		return fmt.Errorf("max_rows must be >= 0, got %d", c.MaxRows)
	case c.SampleRows <= 0:
		return fmt.Errorf("sample_rows must be > 0, got %d", c.SampleRows)
	case c.ProfileTTLMinutes <= 0:
		return fmt.Errorf("profile_ttl_minutes must be > 0, got %d", c.ProfileTTLMinutes)
	case c.AgentTimeoutMs <= 0:
		return fmt.Errorf("agent_timeout_ms must be > 0, got %d", c.AgentTimeoutMs)
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("retry_max_attempts must be >= 1, got %d", c.RetryMaxAttempts)
	case c.RetryDelayMs < 0:
		return fmt.Errorf("retry_delay_ms must be >= 0, got %d", c.RetryDelayMs)
	case c.HealthMinSuccessRate <= 0 || c.HealthMinSuccessRate > 1:
		return fmt.Errorf("health_min_success_rate must be in (0, 1], got %v", c.HealthMinSuccessRate)
	case c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1:
		return fmt.Errorf("low_confidence_threshold must be in [0, 1], got %v", c.LowConfidenceThreshold)
	case c.OutlierThreshold <= 0:
		return fmt.Errorf("outlier_threshold must be > 0, got %v", c.OutlierThreshold)
	}
	return nil
}

// Set parses val into the field named by key and validates the result.
func (c *Global) Set(key, val string) error {
	next := *c
	atoi := func() (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	atof := func() (float64, error) {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float for %s: %v", key, val)
		}
		return f, nil
	}
	var err error
	switch key {
	case "log_level":
		switch l := strings.ToLower(val); l {
		case "trace", "debug", "info", "warn", "error":
			next.LogLevel = l
		default:
			return fmt.Errorf("invalid log_level: %s (use trace, debug, info, warn or error)", val)
		}
	case "max_rows":
		next.MaxRows, err = atoi()
	case "sample_rows":
		next.SampleRows, err = atoi()
	case "profile_ttl_minutes":
		next.ProfileTTLMinutes, err = atoi()
	case "outlier_threshold":
		next.OutlierThreshold, err = atof()
	case "agent_timeout_ms":
		next.AgentTimeoutMs, err = atoi()
	case "retry_max_attempts":
		next.RetryMaxAttempts, err = atoi()
	case "retry_delay_ms":
		next.RetryDelayMs, err = atoi()
	case "health_min_success_rate":
		next.HealthMinSuccessRate, err = atof()
	case "low_confidence_threshold":
		next.LowConfidenceThreshold, err = atof()
	case "store_path":
		next.StorePath = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Get renders the value of key for display.
func (c *Global) Get(key string) (string, bool) {
	switch key {
	case "log_level":
		return c.LogLevel, true
	case "max_rows":
		return strconv.Itoa(c.MaxRows), true
	case "sample_rows":
		return strconv.Itoa(c.SampleRows), true
	case "profile_ttl_minutes":
		return strconv.Itoa(c.ProfileTTLMinutes), true
	case "outlier_threshold":
		return strconv.FormatFloat(c.OutlierThreshold, 'f', -1, 64), true
	case "agent_timeout_ms":
		return strconv.Itoa(c.AgentTimeoutMs), true
	case "retry_max_attempts":
		return strconv.Itoa(c.RetryMaxAttempts), true
	case "retry_delay_ms":
		return strconv.Itoa(c.RetryDelayMs), true
	case "health_min_success_rate":
		return strconv.FormatFloat(c.HealthMinSuccessRate, 'f', -1, 64), true
	case "low_confidence_threshold":
		return strconv.FormatFloat(c.LowConfidenceThreshold, 'f', -1, 64), true
	case "store_path":
		return c.StorePath, true
	}
	return "", false
}

// AgentTimeout is agent_timeout_ms as a duration.
func (c *Global) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMs) * time.Millisecond
}

// RetryDelay is retry_delay_ms as a duration.
func (c *Global) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ProfileTTL is profile_ttl_minutes as a duration.
func (c *Global) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLMinutes) * time.Minute
}
