package backup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const storeTitle = "Count"

// LoadJobs 从任务文件加载任务列表。文件不存在时返回空列表。
//
// Layout:
//
//	Count
//	<n>
//	<source>,<dest>,<period>,<exts>,<folders>,<archive>[,<last run unix>]
//
// Records with fewer than three fields are skipped. Missing trailing fields
// take their defaults and a missing last run time becomes now.
func LoadJobs(path string, now time.Time) ([]Job, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	// title line is ignored
	if !sc.Scan() {
		return nil, sc.Err()
	}
	if !sc.Scan() {
		return nil, sc.Err()
	}
	count, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || count < 0 {
		count = 0
	}

	jobs := make([]Job, 0, count)
	for i := 0; i < count && sc.Scan(); i++ {
		if j, ok := parseRecord(sc.Text(), now); ok {
			jobs = append(jobs, j)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return jobs, nil
}

// SaveJobs 覆盖写入整个任务文件
func SaveJobs(path string, jobs []Job) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, storeTitle)
	fmt.Fprintln(w, len(jobs))
	for _, j := range jobs {
		fmt.Fprintln(w, formatRecord(j))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func formatRecord(j Job) string {
	return strings.Join([]string{
		j.SourcePath,
		j.DestPath,
		strconv.Itoa(j.PeriodHours),
		j.SkipExtensions.String(),
		j.SkipFolders.String(),
		strconv.FormatBool(j.ArchiveEnabled),
		strconv.FormatInt(j.LastRunAt.Unix(), 10),
	}, ",")
}

func parseRecord(line string, now time.Time) (Job, bool) {
	parts := strings.Split(strings.TrimRight(line, " \t\r\n"), ",")
	if len(parts) < 3 {
		return Job{}, false
	}
	field := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}

	j := Job{
		ID:          uuid.NewString(),
		SourcePath:  parts[0],
		DestPath:    parts[1],
		PeriodHours: DefaultPeriodHours,
		LastRunAt:   now,
	}
	if p, err := strconv.Atoi(field(2)); err == nil && p >= 1 {
		j.PeriodHours = p
	}
	// Older files stored extensions as "*.log *.tmp"; both forms load.
	j.SkipExtensions, _, _ = ParseExtensions(strings.Fields(field(3)))
	j.SkipFolders, _, _ = ParseFolders(strings.Fields(field(4)))
	if b, err := strconv.ParseBool(field(5)); err == nil {
		j.ArchiveEnabled = b
	}
	if ts, err := strconv.ParseInt(field(6), 10, 64); err == nil && ts > 0 {
		j.LastRunAt = time.Unix(ts, 0)
	}
	return j, true
}
