// Package profiler implements the data-profiler agent: it decodes an uploaded
// table and produces its DataProfile.
package profiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/analysis"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// DefaultTTL is how long a profile stays valid for the session layer.
const DefaultTTL = 24 * time.Hour

// Input is one upload. Size, when non-zero, must match len(Buffer).
type Input struct {
	Buffer   []byte
	Name     string
	MimeType string
	Size     int64
	// Sheet and SheetIndex select an XLSX sheet; both empty means the first.
	Sheet      string
	SheetIndex int
}

// Config tunes profiling.
type Config struct {
	Analysis analysis.Options
	TTL      time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the analysis defaults with DefaultTTL.
func DefaultConfig() Config {
	return Config{Analysis: analysis.DefaultOptions(), TTL: DefaultTTL}
}

// Agent profiles uploads. It holds no per-request state.
type Agent struct {
	cfg Config
}

// New returns a profiler with cfg, filling unset fields from DefaultConfig.
func New(cfg Config) *Agent {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Analysis.OutlierThreshold == 0 && cfg.Analysis.UnitTargets == nil {
		cfg.Analysis = analysis.DefaultOptions()
	}
	return &Agent{cfg: cfg}
}

// NewRunner wraps a new profiler in the execution framework.
func NewRunner(cfg Config, rc agent.RunnerConfig) *agent.Runner[Input, *models.DataProfile] {
	return agent.NewRunner[Input, *models.DataProfile](New(cfg), rc)
}

func (a *Agent) Type() agent.Type { return agent.TypeProfiler }

// ValidateInput rejects empty uploads, unnamed uploads, a Size that does not
// match the buffer and formats the reader cannot decode.
func (a *Agent) ValidateInput(in Input) bool {
	if len(in.Buffer) == 0 || strings.TrimSpace(in.Name) == "" {
		return false
	}
	if in.Size != 0 && in.Size != int64(len(in.Buffer)) {
		return false
	}
	_, ok := analysis.DetectFormat(in.Name, in.MimeType)
	return ok
}

func (a *Agent) ExecuteInternal(ctx context.Context, in Input, ec *agent.ExecutionContext) (*models.DataProfile, error) {
	opt := a.cfg.Analysis
	if in.Sheet != "" || in.SheetIndex > 0 {
		opt.Sheet, opt.SheetIndex = in.Sheet, in.SheetIndex
	}
	tbl, err := analysis.ReadTable(ctx, in.Buffer, in.Name, in.MimeType, opt.ReadOptions())
	if err != nil {
		return nil, a.classify(ctx, err)
	}
	p, err := analysis.BuildProfile(ctx, tbl, opt)
	if err != nil {
		return nil, a.classify(ctx, err)
	}

	sum := sha256.Sum256(in.Buffer)
	now := a.cfg.Now().UTC()
	p.ID = uuid.New().String()
	p.Version = models.ProfileVersion
	p.CreatedAt = now
	p.ExpiresAt = now.Add(a.cfg.TTL)
	p.Metadata.Filename = in.Name
	p.Metadata.Size = int64(len(in.Buffer))
	p.Metadata.MimeType = in.MimeType
	p.Metadata.Checksum = hex.EncodeToString(sum[:])

	log.Info().
		Str("request_id", ec.RequestID).
		Str("profile_id", p.ID).
		Str("file", in.Name).
		Int("rows", p.Metadata.RowCount).
		Int("processed_rows", p.Metadata.ProcessedRows).
		Int("columns", p.Metadata.ColumnCount).
		Float64("quality", p.Quality.Score).
		Str("risk", string(p.Security.RiskLevel)).
		Msg("dataset profiled")
	return p, nil
}

// classify maps reader failures onto agent error codes. Context errors pass
// through untouched so the runner reports them as timeouts or cancellations.
func (a *Agent) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	if errors.Is(err, analysis.ErrEmptyDataset) {
		return agent.NewAgentError(a.Type(), agent.CodeEmptyDataset, "upload contains no header row", err)
	}
	return agent.NewAgentError(a.Type(), agent.CodeParse, "could not parse upload", err)
}
