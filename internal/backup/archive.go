package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tangthinker/watchman/internal/config"
)

const archiveTimeFormat = "06010215" // YYMMDDHH

// Archiver 调用外部压缩工具把目标目录打包成 zip
type Archiver struct {
	Command string
	Args    []string
}

func NewArchiver(cfg config.ArchiverConfig) *Archiver {
	return &Archiver{
		Command: cfg.Command,
		Args:    append([]string(nil), cfg.Args...),
	}
}

// ArchivePath returns <dest>_<YYMMDDHH>.zip for the given local time.
func ArchivePath(dest string, at time.Time) string {
	return fmt.Sprintf("%s_%s.zip", filepath.Clean(dest), at.Format(archiveTimeFormat))
}

// Archive compresses dest into ArchivePath(dest, at), replacing an existing
// archive of the same name. The returned error is meant to be reported as a
// warning; the path is returned either way.
func (a *Archiver) Archive(ctx context.Context, dest string, at time.Time) (string, error) {
	archive := ArchivePath(dest, at)
	if _, err := os.Stat(archive); err == nil {
		if err := os.Remove(archive); err != nil {
			return archive, fmt.Errorf("failed to remove existing archive %s: %w", archive, err)
		}
	}

	bin, err := exec.LookPath(a.Command)
	if err != nil {
		return archive, fmt.Errorf("failed to run %s: %w", a.Command, err)
	}

	cmd := exec.CommandContext(ctx, bin, a.args(archive, filepath.Clean(dest))...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return archive, fmt.Errorf("%s exited with status %d: %s", a.Command, exitErr.ExitCode(), lastLine(out))
		}
		return archive, fmt.Errorf("failed to run %s: %w", a.Command, err)
	}
	return archive, nil
}

func (a *Archiver) args(archive, source string) []string {
	r := strings.NewReplacer("{archive}", archive, "{source}", source)
	out := make([]string, len(a.Args))
	for i, arg := range a.Args {
		out[i] = r.Replace(arg)
	}
	return out
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
