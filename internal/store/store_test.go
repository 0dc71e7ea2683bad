package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabsense-cli/internal/agent"
	"github.com/KaramelBytes/tabsense-cli/internal/models"
	"github.com/KaramelBytes/tabsense-cli/internal/profiler"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.Now = func() time.Time { return epoch }
	return s
}

func makeProfile(t *testing.T, name string, ttl time.Duration) *models.DataProfile {
	t.Helper()
	cfg := profiler.DefaultConfig()
	cfg.TTL = ttl
	cfg.Now = func() time.Time { return epoch }
	body := "region,revenue\nnorth,10\nsouth,20\nnorth,5\n"
	p, err := profiler.New(cfg).ExecuteInternal(context.Background(), profiler.Input{Buffer: []byte(body), Name: name}, agent.NewExecutionContext("fixture"))
	require.NoError(t, err)
	return p
}

func TestSaveGet_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	p := makeProfile(t, "sales.csv", time.Hour)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Version, got.Version)
	assert.True(t, p.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, p.SampleData, got.SampleData)
	require.Len(t, got.Schema.Columns, 2)
	ns, ok := got.Schema.Columns[1].Statistics.(*models.NumericStats)
	require.True(t, ok)
	assert.Equal(t, 35.0, ns.Sum)

	g, ok := got.Aggregations.FindGrouped("region", "revenue")
	require.True(t, ok)
	assert.Equal(t, 15.0, g.Groups["north"].Sum)
}

func TestSave_Upserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	p := makeProfile(t, "a.csv", time.Hour)
	require.NoError(t, s.Save(ctx, p))
	p.Metadata.Filename = "renamed.csv"
	require.NoError(t, s.Save(ctx, p))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed.csv", list[0].Name)
	assert.Equal(t, 3, list[0].Rows)
	assert.Equal(t, 2, list[0].Columns)
}

func TestSave_RejectsMissingID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(context.Background(), &models.DataProfile{}))
	assert.Error(t, s.Save(context.Background(), nil))
}

func TestExpiry(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	live := makeProfile(t, "live.csv", 2*time.Hour)
	stale := makeProfile(t, "stale.csv", time.Hour)
	require.NoError(t, s.Save(ctx, live))
	require.NoError(t, s.Save(ctx, stale))

	// an hour and a half later only live remains visible
	s.Now = func() time.Time { return epoch.Add(90 * time.Minute) }
	_, err := s.Get(ctx, stale.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, live.ID, list[0].ID)

	n, err := s.DeleteExpired(ctx, epoch.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// rewinding the clock does not bring back a pruned profile
	s.Now = func() time.Time { return epoch }
	_, err = s.Get(ctx, stale.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestGet_Unknown(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
