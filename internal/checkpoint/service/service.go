// Package service schedules checkpoints from case-duration signals and turns
// due checkpoints into candidates.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"followup/internal/checkpoint/models"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	"followup/pkg/requestcontext"
)

type Store interface {
	Upsert(ctx context.Context, cp *models.Checkpoint) error
	Cancel(ctx context.Context, caseReferenceID string) (bool, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Checkpoint, error)
	MarkProcessed(ctx context.Context, caseReferenceID string, candidateID id.CandidateID, at time.Time) error
}

type Service struct {
	store   Store
	pilot   models.PilotGate
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, pilot models.PilotGate, opts ...Option) *Service {
	s := &Service{store: store, pilot: pilot}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// HandleCasePeriod evaluates one case-duration signal. An eligible case gets
// its checkpoint created or moved; a case that turned out to concern a
// deceased person loses its pending checkpoint. Signals are replay-safe.
func (s *Service) HandleCasePeriod(ctx context.Context, period models.SicknessCasePeriod) error {
	now := requestcontext.Now(ctx)
	cp, ok := models.Evaluate(period, now, s.pilot)
	if !ok {
		if period.IsDeceased {
			return s.cancel(ctx, period)
		}
		s.logger.DebugContext(ctx, "case not eligible for checkpoint",
			slog.String("case_reference_id", period.CaseReferenceID),
			slog.Int("elapsed_days", period.Elapsed()),
		)
		return nil
	}

	if err := s.store.Upsert(ctx, cp); err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.CaseReferenceID, err)
	}
	s.metrics.IncCheckpointScheduled()
	s.logger.InfoContext(ctx, "checkpoint scheduled",
		slog.String("case_reference_id", cp.CaseReferenceID),
		attrs.Person(cp.PersonIdentifier),
		slog.String("checkpoint_date", cp.CheckpointDate.Format(time.DateOnly)),
	)
	return nil
}

func (s *Service) cancel(ctx context.Context, period models.SicknessCasePeriod) error {
	removed, err := s.store.Cancel(ctx, period.CaseReferenceID)
	if err != nil {
		return fmt.Errorf("cancel checkpoint %s: %w", period.CaseReferenceID, err)
	}
	if removed {
		s.metrics.IncCheckpointCancelled()
		s.logger.InfoContext(ctx, "checkpoint cancelled for deceased person",
			slog.String("case_reference_id", period.CaseReferenceID),
		)
	}
	return nil
}
