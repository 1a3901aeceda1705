package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrClosed = errors.New("history store is closed")

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(path string, busyTimeout time.Duration, log zerolog.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &sqliteStore{db: db, log: log.With().Str("component", "history").Logger()}
	if busyTimeout > 0 {
		s.pragma(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	s.pragma("PRAGMA journal_mode = WAL")
	s.pragma("PRAGMA synchronous = NORMAL")

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	s.log.Debug().Str("path", path).Msg("history store opened")
	return s, nil
}

// pragma applies a tuning statement. Failures only cost performance, so they
// are logged and the store stays usable.
func (s *sqliteStore) pragma(stmt string) {
	if _, err := s.db.Exec(stmt); err != nil {
		s.log.Debug().Err(err).Str("pragma", stmt).Msg("sqlite pragma failed")
	}
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, job_id, source, dest, started_at, finished_at, success, files, bytes, failed, archive)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.JobID, r.Source, r.Dest,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Success,
		r.Files, r.Bytes, r.Failed, nullStr(r.Archive),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		n = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, job_id, source, dest, started_at, finished_at, success, files, bytes, failed, archive
		 FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			started, finished int64
			archive           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.JobID, &r.Source, &r.Dest,
			&started, &finished, &r.Success, &r.Files, &r.Bytes, &r.Failed, &archive); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Archive = archive.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
