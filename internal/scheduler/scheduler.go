package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
)

// Jobs is what the scheduler drives. game.Service implements it.
type Jobs interface {
	TickRounds(ctx context.Context)
	TickPrice(ctx context.Context) models.Quote
	RefreshCharts(ctx context.Context)
	SyncAll(ctx context.Context)
	Rollover(ctx context.Context) models.PriceState
}

type Config struct {
	CountdownInterval time.Duration // round countdown, 1s
	TickInterval      time.Duration // price tick, 5s
	ChartInterval     time.Duration // chart refresh, 10s
	SyncInterval      time.Duration // reconcile + sweep, 30s
	RolloverSpec      string        // six-field cron spec, local midnight
	Location          *time.Location
	JobTimeout        time.Duration
}

const (
	JobCountdown = "countdown"
	JobPrice     = "price"
	JobChart     = "chart"
	JobSync      = "sync"
	JobRollover  = "rollover"
)

// Scheduler runs every periodic game task from one cron. Job bodies are
// serialized on jobMu so price and round state never see two writers.
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	cfg  Config
	log  zerolog.Logger

	jobMu sync.Mutex

	mu      sync.Mutex
	running bool
}

func New(jobs Jobs, cfg Config) (*Scheduler, error) {
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ChartInterval <= 0 {
		cfg.ChartInterval = 10 * time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.RolloverSpec == "" {
		cfg.RolloverSpec = "0 0 0 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 20 * time.Second
	}

	log := logging.For("scheduler")
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: jobs,
		cfg:  cfg,
		log:  log,
	}

	specs := []struct {
		name string
		spec string
	}{
		{JobCountdown, every(cfg.CountdownInterval)},
		{JobPrice, every(cfg.TickInterval)},
		{JobChart, every(cfg.ChartInterval)},
		{JobSync, every(cfg.SyncInterval)},
		{JobRollover, cfg.RolloverSpec},
	}
	for _, j := range specs {
		name := j.name
		if _, err := s.cron.AddFunc(j.spec, func() { s.run(name) }); err != nil {
			return nil, fmt.Errorf("register %s job (%q): %w", name, j.spec, err)
		}
	}
	return s, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start rolls the price session over once and starts the cron.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.run(JobRollover)
	s.run(JobChart)
	s.cron.Start()

	s.log.Info().
		Dur("countdown", s.cfg.CountdownInterval).
		Dur("tick", s.cfg.TickInterval).
		Dur("chart", s.cfg.ChartInterval).
		Dur("sync", s.cfg.SyncInterval).
		Str("rollover", s.cfg.RolloverSpec).
		Str("tz", s.cfg.Location.String()).
		Msg("started")
}

// Stop halts the cron and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info().Msg("stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes one job immediately, outside the schedule.
func (s *Scheduler) RunNow(name string) error {
	switch name {
	case JobCountdown, JobPrice, JobChart, JobSync, JobRollover:
		s.run(name)
		return nil
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) run(name string) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	switch name {
	case JobCountdown:
		s.jobs.TickRounds(ctx)
	case JobPrice:
		q := s.jobs.TickPrice(ctx)
		s.log.Debug().Float64("price", q.Price).Float64("change", q.PercentChange24h).Msg("tick")
	case JobChart:
		s.jobs.RefreshCharts(ctx)
	case JobSync:
		s.jobs.SyncAll(ctx)
	case JobRollover:
		st := s.jobs.Rollover(ctx)
		s.log.Info().Str("day", st.SessionDate).Float64("anchor", st.SessionStartPrice).Msg("price session ready")
	}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
