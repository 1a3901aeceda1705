package backup

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ticker is what the Scheduler drives once per tick.
type Ticker interface {
	Tick()
}

// Scheduler 按固定间隔调用 Manager.Tick
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	every   time.Duration
	target  Ticker
	log     zerolog.Logger
	started bool
}

// NewScheduler creates a stopped scheduler. Intervals below one second are
// raised to one second.
func NewScheduler(target Ticker, every time.Duration, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		target: target,
		log:    log,
		cron: cron.New(
			cron.WithLogger(cronLogger{log: log}),
			cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
		),
	}
	s.schedule(every)
	return s
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Info().Dur("every", s.every).Msg("scheduler started")
}

// Stop stops ticking and waits for a tick in progress to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	ctx := s.cron.Stop()
	s.mu.Unlock()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// SetTick changes the interval without stopping the scheduler.
func (s *Scheduler) SetTick(every time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if normalizeTick(every) == s.every {
		return
	}
	s.cron.Remove(s.entry)
	s.schedule(every)
	s.log.Info().Dur("every", s.every).Msg("tick interval changed")
}

func (s *Scheduler) Every() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.every
}

func (s *Scheduler) schedule(every time.Duration) {
	s.every = normalizeTick(every)
	s.entry = s.cron.Schedule(cron.Every(s.every), cron.FuncJob(s.target.Tick))
}

func normalizeTick(d time.Duration) time.Duration {
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
