package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultProgressEvery = 5 * time.Second

// runner 执行单次备份：复制，然后按需压缩
type runner struct {
	archiver      *Archiver
	now           func() time.Time
	progressEvery time.Duration
}

// run works on a private copy of the job and reports only through events.
// It always sends exactly one RunCompleted.
func (r *runner) run(ctx context.Context, index int, job Job, runID string, events chan<- Event) {
	started := r.now()
	done := RunCompleted{JobIndex: index, JobID: job.ID, RunID: runID, StartedAt: started}

	emit := func(level zerolog.Level, format string, args ...any) {
		events <- LogEvent{
			JobIndex: index,
			JobID:    job.ID,
			RunID:    runID,
			Level:    level,
			Text:     fmt.Sprintf(format, args...),
			At:       r.now(),
		}
	}
	defer func() {
		if p := recover(); p != nil {
			emit(zerolog.ErrorLevel, "Backup crashed: %v", p)
			done.Success = false
		}
		done.FinishedAt = r.now()
		events <- done
	}()

	if _, err := os.Stat(job.SourcePath); err != nil {
		emit(zerolog.ErrorLevel, "Source does not exist: %s", job.SourcePath)
		return
	}
	if err := os.MkdirAll(job.DestPath, 0755); err != nil {
		emit(zerolog.ErrorLevel, "Failed to create destination: %v", err)
		return
	}

	emit(zerolog.InfoLevel, "%s backup started", job.SourcePath)

	every := r.progressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	progress := rate.NewLimiter(rate.Every(every), 1)
	progress.Allow() // the first file should not log immediately

	c := &Copier{
		Filter: job.Filter(),
		OnWarning: func(w Warning) {
			emit(zerolog.WarnLevel, "%s", w.String())
		},
		OnFile: func(st Stats) {
			if progress.Allow() {
				emit(zerolog.InfoLevel, "%s: copied %d files (%s)", job.SourcePath, st.Files, humanize.Bytes(uint64(st.Bytes)))
			}
		},
	}
	st, err := c.Copy(job.SourcePath, job.DestPath)
	done.Stats = st
	if err != nil {
		emit(zerolog.ErrorLevel, "Copy failed: %v", err)
		return
	}

	if job.ArchiveEnabled && r.archiver != nil {
		archive, err := r.archiver.Archive(ctx, job.DestPath, r.now())
		if err != nil {
			emit(zerolog.WarnLevel, "Archive failed: %v", err)
		} else {
			done.Archive = archive
			emit(zerolog.InfoLevel, "Zipped to %s", archive)
		}
	}

	emit(zerolog.InfoLevel, "%s backup completed: %d files (%s), %d skipped, %d failed",
		job.SourcePath, st.Files, humanize.Bytes(uint64(st.Bytes)), st.SkippedFiles+st.SkippedFolders, st.Failed)
	done.Success = true
}
