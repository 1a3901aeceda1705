package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultPeriodHours = 24

var (
	ErrSourceEmpty     = errors.New("source folder is empty")
	ErrSourceMissing   = errors.New("source folder does not exist")
	ErrSourceNotDir    = errors.New("source is not a folder")
	ErrDestEmpty       = errors.New("destination folder is empty")
	ErrSameSourceDest  = errors.New("destination cannot equal source")
	ErrInvalidPeriod   = errors.New("period must be at least 1 hour")
	ErrCommaInField    = errors.New("paths must not contain commas")
	ErrLineBreakInPath = errors.New("paths must not contain line breaks")
	ErrIndexOutOfRange = errors.New("no job at that index")
	ErrAlreadyRunning  = errors.New("backup already running")
)

// Job 表示一个周期性备份任务
type Job struct {
	ID             string    `json:"id"`
	SourcePath     string    `json:"source_path"`
	DestPath       string    `json:"dest_path"`
	PeriodHours    int       `json:"period_hours"`
	SkipExtensions SkipSet   `json:"skip_extensions"`
	SkipFolders    SkipSet   `json:"skip_folders"`
	ArchiveEnabled bool      `json:"archive_enabled"`
	LastRunAt      time.Time `json:"last_run_at"`
	Running        bool      `json:"running"`
}

// Due reports whether the job should start at now. Elapsed time is counted
// in whole hours, so a job is never triggered early by a partial hour.
func (j Job) Due(now time.Time) bool {
	if j.Running {
		return false
	}
	elapsed := int64(now.Sub(j.LastRunAt) / time.Hour)
	return elapsed >= int64(j.PeriodHours)
}

// NextRunAt is the earliest time Due can become true.
func (j Job) NextRunAt() time.Time {
	return j.LastRunAt.Add(time.Duration(j.PeriodHours) * time.Hour)
}

func (j Job) Filter() Filter {
	return Filter{Extensions: j.SkipExtensions, Folders: j.SkipFolders}
}

func (j Job) clone() Job {
	c := j
	c.SkipExtensions = j.SkipExtensions.clone()
	c.SkipFolders = j.SkipFolders.clone()
	return c
}

// Draft 是新增或编辑任务时用户提交的字段
type Draft struct {
	SourcePath     string   `json:"source_path"`
	DestPath       string   `json:"dest_path"`
	PeriodHours    int      `json:"period_hours"`
	SkipExtensions []string `json:"skip_extensions"`
	SkipFolders    []string `json:"skip_folders"`
	ArchiveEnabled bool     `json:"archive_enabled"`
}

// validated holds the normalized result of a Draft.
type validated struct {
	source, dest string
	period       int
	exts         SkipSet
	folders      SkipSet
	archive      bool
	dupExts      []string
	dupFolders   []string
}

// validate checks a draft without touching the filesystem beyond a stat of
// the source.
func (d Draft) validate() (validated, error) {
	var v validated
	v.source = strings.TrimSpace(d.SourcePath)
	v.dest = strings.TrimSpace(d.DestPath)

	if v.source == "" {
		return v, ErrSourceEmpty
	}
	if v.dest == "" {
		return v, ErrDestEmpty
	}
	if strings.Contains(v.source, ",") || strings.Contains(v.dest, ",") {
		return v, ErrCommaInField
	}
	// the job file is line based
	if strings.ContainsAny(v.source, "\r\n") || strings.ContainsAny(v.dest, "\r\n") {
		return v, ErrLineBreakInPath
	}
	if samePath(v.source, v.dest) {
		return v, ErrSameSourceDest
	}
	if d.PeriodHours < 1 {
		return v, fmt.Errorf("%w: got %d", ErrInvalidPeriod, d.PeriodHours)
	}
	v.period = d.PeriodHours

	info, err := os.Stat(v.source)
	if err != nil {
		if os.IsNotExist(err) {
			return v, fmt.Errorf("%w: %s", ErrSourceMissing, v.source)
		}
		return v, fmt.Errorf("failed to stat source %s: %w", v.source, err)
	}
	if !info.IsDir() {
		return v, fmt.Errorf("%w: %s", ErrSourceNotDir, v.source)
	}

	if v.exts, v.dupExts, err = ParseExtensions(d.SkipExtensions); err != nil {
		return v, err
	}
	if v.folders, v.dupFolders, err = ParseFolders(d.SkipFolders); err != nil {
		return v, err
	}
	v.archive = d.ArchiveEnabled
	return v, nil
}

func samePath(a, b string) bool {
	ca, cb := filepath.Clean(a), filepath.Clean(b)
	if ca == cb {
		return true
	}
	aa, errA := filepath.Abs(ca)
	ab, errB := filepath.Abs(cb)
	return errA == nil && errB == nil && aa == ab
}

// DefaultDestination 返回 root/<源目录名>
func DefaultDestination(root, source string) string {
	leaf := filepath.Base(filepath.Clean(strings.TrimSpace(source)))
	if leaf == "." || leaf == string(filepath.Separator) || leaf == "" {
		leaf = "backup"
	}
	return filepath.Join(root, leaf)
}
