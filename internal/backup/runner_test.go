package backup

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// collect runs r to completion and returns its log lines and final event.
func collect(t *testing.T, r *runner, job Job) ([]string, RunCompleted) {
	t.Helper()
	events := make(chan Event, 256)
	r.run(context.Background(), 0, job, "run1", events)
	close(events)

	var (
		lines []string
		done  []RunCompleted
	)
	for ev := range events {
		switch e := ev.(type) {
		case LogEvent:
			if e.JobID != job.ID || e.RunID != "run1" {
				t.Fatalf("log event for %s/%s", e.JobID, e.RunID)
			}
			lines = append(lines, e.Text)
		case RunCompleted:
			done = append(done, e)
		}
	}
	if len(done) != 1 {
		t.Fatalf("got %d RunCompleted events, want 1", len(done))
	}
	return lines, done[0]
}

func TestRunnerMissingSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	job := Job{ID: "j1", SourcePath: filepath.Join(dir, "gone"), DestPath: filepath.Join(dir, "dst"), PeriodHours: 1}
	lines, done := collect(t, &runner{now: time.Now}, job)
	if done.Success {
		t.Fatal("run with missing source succeeded")
	}
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "Source does not exist") {
		t.Fatalf("lines = %q", lines)
	}
	if done.FinishedAt.Before(done.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestRunnerCopiesAndArchives(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeTree(t, src, "a.txt", "b.log")

	r := &runner{
		now:      time.Now,
		archiver: &Archiver{Command: "sh", Args: []string{"-c", `touch "$1"`, "sh", "{archive}"}},
	}
	job := Job{ID: "j1", SourcePath: src, DestPath: dst, PeriodHours: 1,
		SkipExtensions: SkipSet{"log"}, ArchiveEnabled: true}
	lines, done := collect(t, r, job)
	if !done.Success {
		t.Fatalf("run failed: %q", lines)
	}
	if done.Stats.Files != 1 || done.Stats.SkippedFiles != 1 {
		t.Fatalf("stats = %+v", done.Stats)
	}
	if done.Archive == "" || !strings.HasSuffix(done.Archive, ".zip") {
		t.Fatalf("archive = %q", done.Archive)
	}
	if !strings.Contains(strings.Join(lines, "\n"), "Zipped to "+done.Archive) {
		t.Fatalf("lines = %q", lines)
	}
}

func TestRunnerArchiveFailureIsWarning(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeTree(t, src, "a.txt")
	r := &runner{now: time.Now, archiver: &Archiver{Command: "definitely-not-a-real-archiver-binary"}}
	job := Job{ID: "j1", SourcePath: src, DestPath: filepath.Join(dir, "dst"), PeriodHours: 1, ArchiveEnabled: true}
	lines, done := collect(t, r, job)
	if !done.Success {
		t.Fatal("archive failure should not fail the run")
	}
	if done.Archive != "" {
		t.Fatalf("archive = %q", done.Archive)
	}
	if !strings.Contains(strings.Join(lines, "\n"), "Archive failed") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestRunnerRecoversPanic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeTree(t, src, "a.txt")
	calls := 0
	r := &runner{now: func() time.Time {
		calls++
		if calls == 3 {
			panic("clock broke")
		}
		return time.Now()
	}}
	job := Job{ID: "j1", SourcePath: src, DestPath: filepath.Join(dir, "dst"), PeriodHours: 1}
	lines, done := collect(t, r, job)
	if done.Success {
		t.Fatal("panicking run reported success")
	}
	if !strings.Contains(strings.Join(lines, "\n"), "Backup crashed: clock broke") {
		t.Fatalf("lines = %q", lines)
	}
}
