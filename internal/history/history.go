// Package history records completed backup runs.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tangthinker/watchman/internal/config"
)

// Record is one completed run.
type Record struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	Source     string    `json:"source"`
	Dest       string    `json:"dest"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	Failed     int       `json:"failed"`
	Archive    string    `json:"archive,omitempty"`
}

// Duration is the wall time of the run.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first. n <= 0 means all.
	Recent(ctx context.Context, n int) ([]Record, error)
	Close() error
}

// Open returns the store selected by cfg.Driver. Driver "none" returns a nil
// Store and no error.
func Open(cfg config.HistoryConfig, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "none", "":
		log.Info().Msg("run history disabled")
		return nil, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg.Path, cfg.BusyTimeoutDuration(), log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown history driver: %s", cfg.Driver)
	}
}
