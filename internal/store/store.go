// Package store persists DataProfiles in SQLite and owns their expiry. The
// analysis engine never deletes profiles; callers prune with DeleteExpired.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

// ErrNotFound is returned for unknown or expired profiles.
var ErrNotFound = errors.New("profile not found")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	version      INTEGER NOT NULL,
	name         TEXT NOT NULL,
	row_count    INTEGER NOT NULL,
	column_count INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	body         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS profiles_expires_at ON profiles(expires_at);
`

// Summary is a listing row.
type Summary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is a profile table in one SQLite file.
type Store struct {
	db *sql.DB
	// Now is the clock used to decide expiry.
	Now func() time.Time
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("profile store opened")
	return &Store{db: db, Now: time.Now}, nil
}

// Save inserts or replaces p.
func (s *Store) Save(ctx context.Context, p *models.DataProfile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("save profile: missing id")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, version, name, row_count, column_count, created_at, expires_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			name = excluded.name,
			row_count = excluded.row_count,
			column_count = excluded.column_count,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			body = excluded.body`,
		p.ID, p.Version, p.Metadata.Filename, p.Metadata.RowCount, p.Metadata.ColumnCount,
		p.CreatedAt.UnixNano(), p.ExpiresAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// Get loads a profile. Expired profiles are reported as ErrNotFound even
// before they are pruned.
func (s *Store) Get(ctx context.Context, id string) (*models.DataProfile, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM profiles WHERE id = ? AND expires_at > ?`, id, s.Now().UnixNano()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	var p models.DataProfile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

// List returns unexpired profiles, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, name, row_count, column_count, created_at, expires_at
		FROM profiles WHERE expires_at > ? ORDER BY created_at DESC, id`, s.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var sm Summary
		var created, expires int64
		if err := rows.Scan(&sm.ID, &sm.Version, &sm.Name, &sm.Rows, &sm.Columns, &created, &expires); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		sm.CreatedAt = time.Unix(0, created).UTC()
		sm.ExpiresAt = time.Unix(0, expires).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteExpired removes profiles whose expiry is at or before now and
// reports how many were removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune profiles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune profiles: %w", err)
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("expired profiles pruned")
	}
	return n, nil
}

func (s *Store) Close() error { return s.db.Close() }
