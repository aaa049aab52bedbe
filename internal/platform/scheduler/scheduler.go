// Package scheduler runs periodic singleton jobs on the leader instance.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"followup/internal/platform/leader"
	"followup/internal/platform/metrics"
	"followup/pkg/requestcontext"
)

// Job is one periodic task. Run is called once per Interval after
// InitialDelay, and only while this instance is leader.
type Job struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	Run          func(ctx context.Context) error
}

type Scheduler struct {
	leader  leader.Provider
	jobs    []Job
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func New(provider leader.Provider, opts ...Option) *Scheduler {
	s := &Scheduler{leader: provider}
	for _, opt := range opts {
		opt(s)
	}
	if s.leader == nil {
		s.leader = leader.Static(true)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Add registers a job. Jobs must be added before Run.
func (s *Scheduler) Add(job Job) *Scheduler {
	s.jobs = append(s.jobs, job)
	return s
}

// Run blocks until ctx is cancelled. A run in progress finishes before Run
// returns. Job errors are logged and never stop the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			return s.loop(gctx, job)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) error {
	if job.Interval <= 0 {
		return errors.New("scheduler: job " + job.Name + " has no interval")
	}
	timer := time.NewTimer(job.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.tick(ctx, job)
			timer.Reset(job.Interval)
		}
	}
}

// tick runs job once if this instance leads. The run itself is not cancelled
// by shutdown.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	isLeader, err := s.leader.IsLeader(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "leadership check failed, skipping run",
			slog.String("job", job.Name),
			"error", err,
		)
		isLeader = false
	}
	s.metrics.SetLeader(isLeader)
	if !isLeader {
		return
	}

	runCtx := requestcontext.WithTime(context.WithoutCancel(ctx), time.Now())
	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled job failed",
			slog.String("job", job.Name),
			slog.Duration("duration", time.Since(start)),
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "scheduled job finished",
		slog.String("job", job.Name),
		slog.Duration("duration", time.Since(start)),
	)
}
