// Package service exposes the candidate commands used by caseworkers and by
// the checkpoint job: create, read, record an answer and assess.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"followup/internal/archive"
	"followup/internal/candidate/models"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	dErrors "followup/pkg/domain-errors"
	"followup/pkg/platform/sentinel"
	"followup/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, c *models.Candidate) error
	AppendStatusChange(ctx context.Context, c *models.Candidate, change models.StatusChange) error
	FindByID(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error)
}

// Service orchestrates candidate commands.
type Service struct {
	store    Store
	archiver archive.Archiver
	logger   *slog.Logger
	metrics  *metrics.Metrics
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

// New constructs a Service. The archiver is consulted on every assessment.
func New(store Store, archiver archive.Archiver, opts ...Option) *Service {
	s := &Service{store: store, archiver: archiver}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Create validates the identifier and stores a new candidate. The identifier
// is used as given; surrounding whitespace makes it invalid.
func (s *Service) Create(ctx context.Context, personIdentifier string, source models.Source, opts ...models.Option) (*models.Candidate, error) {
	c, err := models.Create(personIdentifier, requestcontext.Now(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, mapStoreError(err, "failed to create candidate")
	}
	s.metrics.IncCandidateCreated(string(source))
	s.logger.InfoContext(ctx, "candidate created",
		attrs.Candidate(c.ID),
		attrs.Person(c.PersonIdentifier),
		slog.String("source", string(source)),
	)
	return c, nil
}

// Get returns the candidate or a not_found error.
func (s *Service) Get(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error) {
	c, err := s.store.FindByID(ctx, candidateID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load candidate")
	}
	if c == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "candidate not found")
	}
	return c, nil
}

// RecordAnswer stores a follow-up answer given on the person's behalf.
func (s *Service) RecordAnswer(ctx context.Context, candidateID id.CandidateID, answeredAt time.Time, wants id.WantsFollowUp) (*models.Candidate, error) {
	c, err := s.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	change, err := c.RecordAnswer(requestcontext.Now(ctx), answeredAt, wants)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendStatusChange(ctx, c, change); err != nil {
		return nil, mapStoreError(err, "failed to record answer")
	}
	s.metrics.IncStatusChange(string(change.Kind))
	return c, nil
}

// AssessCommand is a caseworker's final assessment.
type AssessCommand struct {
	CandidateID  id.CandidateID
	CaseworkerID string
	Rationale    *string
}

// Assess archives the assessment document and appends the terminal status.
// An already assessed candidate is rejected before anything is archived.
func (s *Service) Assess(ctx context.Context, cmd AssessCommand) (*models.Candidate, error) {
	if strings.TrimSpace(cmd.CaseworkerID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "caseworker id is required")
	}
	c, err := s.Get(ctx, cmd.CandidateID)
	if err != nil {
		return nil, err
	}
	if err := c.CanAppend(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	ref, err := s.archiver.Archive(ctx, archive.Request{
		CandidateID:      c.ID,
		PersonIdentifier: c.PersonIdentifier,
		CaseworkerID:     strings.TrimSpace(cmd.CaseworkerID),
		Rationale:        cmd.Rationale,
		AssessedAt:       now,
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to archive assessment")
	}

	change, err := c.Assess(now, cmd.CaseworkerID, cmd.Rationale, ref)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendStatusChange(ctx, c, change); err != nil {
		return nil, mapStoreError(err, "failed to record assessment")
	}
	s.metrics.IncStatusChange(string(change.Kind))
	s.logger.InfoContext(ctx, "candidate assessed",
		attrs.Candidate(c.ID),
		slog.String("caseworker_id", change.Assessed.CaseworkerID),
		slog.Bool("archive_fallback", ref == archive.FallbackReference),
	)
	return c, nil
}

func mapStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConcurrentModification):
		return dErrors.Wrap(err, dErrors.CodeConflict, "candidate was modified concurrently")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "candidate already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
