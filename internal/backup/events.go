package backup

import (
	"time"

	"github.com/rs/zerolog"
)

// Event is sent from a running backup to the Manager. Runs never touch the
// job list directly.
type Event interface {
	jobID() string
}

// LogEvent is an informational line from a run.
type LogEvent struct {
	JobIndex int
	JobID    string
	RunID    string
	Level    zerolog.Level
	Text     string
	At       time.Time
}

// RunCompleted is the last event of every run.
type RunCompleted struct {
	JobIndex   int
	JobID      string
	RunID      string
	Success    bool
	Stats      Stats
	Archive    string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (e LogEvent) jobID() string     { return e.JobID }
func (e RunCompleted) jobID() string { return e.JobID }
