// Package scheduler runs the periodic sweeps: clock ticks and timeouts,
// matchmaking, and queue expiry with session pruning.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/obslog"
)

const (
	JobTick    = "tick"
	JobPairing = "pairing"
	JobSweep   = "sweep"
)

type Games interface {
	TickAll(ctx context.Context, now time.Time)
	CheckTimeouts(ctx context.Context)
	RetryRatings(ctx context.Context) int
	Prune(cutoff time.Time) int
}

type Matchmaker interface {
	ProcessPairing(ctx context.Context) []*domain.Game
	SweepExpired(ctx context.Context, now time.Time) int
}

type Config struct {
	TickInterval    time.Duration
	PairingInterval time.Duration
	SweepInterval   time.Duration
	// Retention is how long finished sessions stay in memory.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		PairingInterval: 2 * time.Second,
		SweepInterval:   time.Minute,
		Retention:       30 * time.Minute,
	}
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func WithNow(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

type Scheduler struct {
	games   Games
	queue   Matchmaker
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	cron *cron.Cron
	ctx  context.Context
}

func New(games Games, queue Matchmaker, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PairingInterval <= 0 {
		cfg.PairingInterval = def.PairingInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	s := &Scheduler{
		games:  games,
		queue:  queue,
		cfg:    cfg,
		logger: obslog.L(),
		now:    time.Now,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cl := cronLogger{l: s.logger.Sugar()}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Start registers the jobs and starts the cron runner. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	jobs := []struct {
		every time.Duration
		run   func(context.Context)
	}{
		{s.cfg.TickInterval, s.RunTick},
		{s.cfg.PairingInterval, s.RunPairing},
		{s.cfg.SweepInterval, s.RunSweep},
	}
	for _, j := range jobs {
		run := j.run
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", j.every), func() { run(s.ctx) }); err != nil {
			return fmt.Errorf("schedule job: %w", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler_started",
		zap.Duration("tick", s.cfg.TickInterval),
		zap.Duration("pairing", s.cfg.PairingInterval),
		zap.Duration("sweep", s.cfg.SweepInterval),
	)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler_stopped")
}

// RunTick charges every running clock, then checks for flags.
func (s *Scheduler) RunTick(ctx context.Context) {
	defer s.observe(JobTick, time.Now())
	if s.games == nil {
		return
	}
	s.games.TickAll(ctx, s.now())
	s.games.CheckTimeouts(ctx)
}

func (s *Scheduler) RunPairing(ctx context.Context) {
	defer s.observe(JobPairing, time.Now())
	if s.queue == nil {
		return
	}
	if games := s.queue.ProcessPairing(ctx); len(games) > 0 {
		s.logger.Debug("pairing_round", zap.Int("games", len(games)))
	}
}

// RunSweep expires stale queue entries, retries failed rating updates and
// prunes finished sessions.
func (s *Scheduler) RunSweep(ctx context.Context) {
	defer s.observe(JobSweep, time.Now())
	now := s.now()
	expired, rated, pruned := 0, 0, 0
	if s.queue != nil {
		expired = s.queue.SweepExpired(ctx, now)
	}
	if s.games != nil {
		rated = s.games.RetryRatings(ctx)
		pruned = s.games.Prune(now.Add(-s.cfg.Retention))
	}
	if expired > 0 || rated > 0 || pruned > 0 {
		s.logger.Info("sweep_done",
			zap.Int("queue_expired", expired),
			zap.Int("ratings_retried", rated),
			zap.Int("sessions_pruned", pruned),
		)
	}
}

func (s *Scheduler) observe(job string, started time.Time) {
	s.metrics.ObserveJob(job, time.Since(started))
}

// cronLogger adapts zap to cron.Logger. Routine cron chatter goes to debug.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
