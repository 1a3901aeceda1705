package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tangthinker/watchman/internal/history"
)

const (
	eventBuffer     = 4096
	defaultLogLines = 1000
	logTimeFormat   = "2006-01-02 15:04:05"
	historyTimeout  = 2 * time.Second
)

var ErrHistoryDisabled = errors.New("run history is disabled")

// Options 配置 Manager
type Options struct {
	StorePath string
	Archiver  *Archiver
	History   history.Store // nil disables run history
	LogLines  int
	Now       func() time.Time
}

// Manager 管理所有备份任务
//
// It is the only owner of the job list. Runs execute in their own goroutines
// and report back through the event channel, which Tick drains.
type Manager struct {
	mu        sync.Mutex
	jobs      []Job
	storePath string
	archiver  *Archiver
	history   history.Store
	now       func() time.Time
	log       zerolog.Logger

	lines    []string
	maxLines int

	events   chan Event
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// recording tracks history appends, which run outside mu.
	recording sync.WaitGroup

	// run starts one backup; replaced in tests.
	run func(ctx context.Context, index int, job Job, runID string, events chan<- Event)
}

// NewManager 创建备份管理器并加载任务文件
func NewManager(opts Options, log zerolog.Logger) (*Manager, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LogLines <= 0 {
		opts.LogLines = defaultLogLines
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		storePath: opts.StorePath,
		archiver:  opts.Archiver,
		history:   opts.History,
		now:       opts.Now,
		log:       log.With().Str("component", "manager").Logger(),
		maxLines:  opts.LogLines,
		events:    make(chan Event, eventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.run = func(ctx context.Context, index int, job Job, runID string, events chan<- Event) {
		m.mu.Lock()
		r := &runner{archiver: m.archiver, now: m.now}
		m.mu.Unlock()
		r.run(ctx, index, job, runID, events)
	}

	jobs, err := LoadJobs(m.storePath, m.now())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	m.jobs = jobs
	m.logf(zerolog.InfoLevel, "Loaded %d schedule(s)", len(jobs))
	return m, nil
}

// SetArchiver swaps the archiver used by runs started after the call.
func (m *Manager) SetArchiver(a *Archiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiver = a
}

// Add 校验并添加新任务，返回其序号
func (m *Manager) Add(d Draft) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.prepareLocked(d)
	if err != nil {
		return -1, err
	}
	job := Job{
		ID:        uuid.NewString(),
		LastRunAt: m.now(),
	}
	apply(&job, v)

	prev := m.jobs
	m.jobs = append(append([]Job(nil), prev...), job)
	if err := m.saveLocked(); err != nil {
		m.jobs = prev
		return -1, err
	}
	m.logf(zerolog.InfoLevel, "Schedule added: %s -> %s every %dh", job.SourcePath, job.DestPath, job.PeriodHours)
	return len(m.jobs) - 1, nil
}

// Edit 替换指定任务的配置。正在运行的备份不受影响。
func (m *Manager) Edit(index int, d Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIndexLocked(index); err != nil {
		return err
	}
	v, err := m.prepareLocked(d)
	if err != nil {
		return err
	}

	prev := m.jobs[index]
	apply(&m.jobs[index], v)
	if err := m.saveLocked(); err != nil {
		m.jobs[index] = prev
		return err
	}
	m.logf(zerolog.InfoLevel, "Schedule %d updated", index)
	return nil
}

// Delete 删除指定任务，后面的任务序号前移
func (m *Manager) Delete(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIndexLocked(index); err != nil {
		return err
	}
	prev := m.jobs
	removed := prev[index]
	m.jobs = append(append([]Job(nil), prev[:index]...), prev[index+1:]...)
	if err := m.saveLocked(); err != nil {
		m.jobs = prev
		return err
	}
	m.logf(zerolog.InfoLevel, "Schedule deleted: %s", removed.SourcePath)
	return nil
}

// RunNow starts a job immediately regardless of its period.
func (m *Manager) RunNow(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIndexLocked(index); err != nil {
		return err
	}
	if m.jobs[index].Running {
		m.logf(zerolog.WarnLevel, "Backup already running: %s", m.jobs[index].SourcePath)
		return ErrAlreadyRunning
	}
	m.spawnLocked(index)
	return nil
}

// Tick 处理所有待处理事件，然后启动到期的任务
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drainLocked()
	now := m.now()
	for i := range m.jobs {
		if m.jobs[i].Due(now) {
			m.spawnLocked(i)
		}
	}
}

// Drain applies pending events without starting new runs.
func (m *Manager) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainLocked()
}

// Snapshot returns a copy of the job list for display.
func (m *Manager) Snapshot() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, len(m.jobs))
	for i, j := range m.jobs {
		out[i] = j.clone()
	}
	return out
}

// Logs returns the newest n visible log lines (all when n <= 0).
func (m *Manager) Logs(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if n > 0 && n < len(m.lines) {
		start = len(m.lines) - n
	}
	return append([]string(nil), m.lines[start:]...)
}

// History returns the newest n completed runs.
func (m *Manager) History(ctx context.Context, n int) ([]history.Record, error) {
	if m.history == nil {
		return nil, ErrHistoryDisabled
	}
	return m.history.Recent(ctx, n)
}

// Shutdown 等待正在执行的备份结束并保存任务文件。
// Runs are not interrupted; when ctx expires the archiver context is
// cancelled and the jobs are saved as they are.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
wait:
	for {
		select {
		case <-done:
			break wait
		case <-ticker.C:
			m.Drain()
		case <-ctx.Done():
			waitErr = ctx.Err()
			m.mu.Lock()
			m.logf(zerolog.WarnLevel, "Shutdown timed out with backups still running")
			m.mu.Unlock()
			break wait
		}
	}
	m.cancel()

	m.mu.Lock()
	m.drainLocked()
	err := m.saveLocked()
	m.mu.Unlock()

	m.recording.Wait()
	if err != nil {
		return err
	}
	return waitErr
}

func (m *Manager) prepareLocked(d Draft) (validated, error) {
	v, err := d.validate()
	if err != nil {
		m.logf(zerolog.WarnLevel, "%v", err)
		return v, err
	}
	for _, e := range v.dupExts {
		m.logf(zerolog.WarnLevel, "Duplicate extension: %s", e)
	}
	for _, f := range v.dupFolders {
		m.logf(zerolog.WarnLevel, "Duplicate folder: %s", f)
	}
	if err := os.MkdirAll(v.dest, 0755); err != nil {
		err = fmt.Errorf("failed to create destination: %w", err)
		m.logf(zerolog.WarnLevel, "%v", err)
		return v, err
	}
	return v, nil
}

func apply(j *Job, v validated) {
	j.SourcePath = v.source
	j.DestPath = v.dest
	j.PeriodHours = v.period
	j.SkipExtensions = v.exts
	j.SkipFolders = v.folders
	j.ArchiveEnabled = v.archive
}

func (m *Manager) checkIndexLocked(index int) error {
	if index < 0 || index >= len(m.jobs) {
		err := fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		m.logf(zerolog.WarnLevel, "%v", err)
		return err
	}
	return nil
}

func (m *Manager) spawnLocked(index int) {
	job := m.jobs[index].clone()
	m.jobs[index].Running = true
	runID := uuid.NewString()[:8]
	m.log.Debug().Str("job", job.ID).Str("run", runID).Int("index", index).Msg("launching run")
	m.logf(zerolog.InfoLevel, "Backup started: %s", job.SourcePath)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.run(m.ctx, index, job, runID, m.events)
	}()
}

// drainLocked applies the events queued when it was called, in order.
// It never waits for more.
func (m *Manager) drainLocked() {
	for n := len(m.events); n > 0; n-- {
		select {
		case ev := <-m.events:
			m.applyLocked(ev)
		default:
			return
		}
	}
}

func (m *Manager) applyLocked(ev Event) {
	switch e := ev.(type) {
	case LogEvent:
		m.appendLine(e.Level, e.At, e.Text, e.JobID, e.RunID)
	case RunCompleted:
		m.completeLocked(e)
	}
}

func (m *Manager) completeLocked(e RunCompleted) {
	idx := m.indexOfLocked(e.JobID)
	if idx < 0 {
		m.logf(zerolog.WarnLevel, "Backup finished for a deleted schedule (run %s)", e.RunID)
	} else {
		m.jobs[idx].Running = false
		m.jobs[idx].LastRunAt = e.FinishedAt
		if err := m.saveLocked(); err != nil {
			m.log.Error().Err(err).Msg("failed to persist last run time")
		}
	}
	if e.Success {
		m.logf(zerolog.InfoLevel, "Backup completed")
	} else {
		m.logf(zerolog.ErrorLevel, "Backup failed")
	}

	if m.history == nil {
		return
	}
	rec := history.Record{
		RunID:      e.RunID,
		JobID:      e.JobID,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		Success:    e.Success,
		Files:      e.Stats.Files,
		Bytes:      e.Stats.Bytes,
		Failed:     e.Stats.Failed,
		Archive:    e.Archive,
	}
	if idx >= 0 {
		rec.Source = m.jobs[idx].SourcePath
		rec.Dest = m.jobs[idx].DestPath
	}
	m.recordHistory(rec)
}

// recordHistory appends rec without holding mu so a slow database never
// stalls Tick or the socket handlers.
func (m *Manager) recordHistory(rec history.Record) {
	m.recording.Add(1)
	go func() {
		defer m.recording.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := m.history.Append(ctx, rec); err != nil {
			m.log.Warn().Err(err).Str("run", rec.RunID).Msg("failed to record run history")
		}
	}()
}

func (m *Manager) indexOfLocked(id string) int {
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) saveLocked() error {
	if err := SaveJobs(m.storePath, m.jobs); err != nil {
		m.logf(zerolog.ErrorLevel, "Failed to save schedules: %v", err)
		return err
	}
	return nil
}

func (m *Manager) logf(level zerolog.Level, format string, args ...any) {
	m.appendLine(level, m.now(), fmt.Sprintf(format, args...), "", "")
}

// appendLine records a visible, timestamped line and mirrors it to the
// process log.
func (m *Manager) appendLine(level zerolog.Level, at time.Time, text, jobID, runID string) {
	line := fmt.Sprintf("[%s] %s", at.Format(logTimeFormat), text)
	m.lines = append(m.lines, line)
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = append([]string(nil), m.lines[over:]...)
	}

	e := m.log.WithLevel(level)
	if jobID != "" {
		e = e.Str("job", jobID)
	}
	if runID != "" {
		e = e.Str("run", runID)
	}
	e.Msg(text)
}
