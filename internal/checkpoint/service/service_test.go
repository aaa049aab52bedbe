package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	candidatemodels "followup/internal/candidate/models"
	candidateservice "followup/internal/candidate/service"
	candidatestore "followup/internal/candidate/store"
	"followup/internal/checkpoint/models"
	"followup/internal/checkpoint/store"
	id "followup/pkg/domain"
	"followup/pkg/platform/tx"
	"followup/pkg/requestcontext"
)

type CheckpointServiceSuite struct {
	suite.Suite
	ctx        context.Context
	now        time.Time
	store      *store.InMemory
	candidates *candidatestore.InMemory
	service    *Service
	job        *DueJob
}

func TestCheckpointServiceSuite(t *testing.T) {
	suite.Run(t, new(CheckpointServiceSuite))
}

func (s *CheckpointServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewInMemory()
	s.candidates = candidatestore.NewInMemory()
	s.service = New(s.store, models.AllUnits{}, WithLogger(logger))
	creator := candidateservice.New(s.candidates, nil, candidateservice.WithLogger(logger))
	s.job = NewDueJob(s.store, creator, tx.NoopRunner{}, WithJobLogger(logger))
}

// period builds a case starting 2026-01-01 that lasts elapsed days.
func (s *CheckpointServiceSuite) period(ref string, elapsed int) models.SicknessCasePeriod {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.SicknessCasePeriod{
		CaseReferenceID:  ref,
		PersonIdentifier: "12345678901",
		Start:            start,
		End:              start.AddDate(0, 0, elapsed-1),
		EmployerIDs:      []string{"974600951"},
	}
}

func (s *CheckpointServiceSuite) TestHandleCasePeriod() {
	s.Run("eligible case is scheduled once across replays", func() {
		p := s.period("case-1", 50)
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, p))
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, p))

		cp, err := s.store.Find(s.ctx, "case-1")
		s.Require().NoError(err)
		s.Require().NotNil(cp)
		s.Equal(time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC), cp.CheckpointDate)
	})

	s.Run("short case is ignored", func() {
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, s.period("case-2", 41)))
		cp, err := s.store.Find(s.ctx, "case-2")
		s.Require().NoError(err)
		s.Nil(cp)
	})

	s.Run("deceased signal cancels the pending checkpoint", func() {
		p := s.period("case-3", 45)
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, p))
		p.IsDeceased = true
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, p))

		cp, err := s.store.Find(s.ctx, "case-3")
		s.Require().NoError(err)
		s.Nil(cp)
	})

	s.Run("pilot gate filters units", func() {
		gated := New(s.store, models.NewUnitSet([]string{"other-unit"}, nil))
		s.Require().NoError(gated.HandleCasePeriod(s.ctx, s.period("case-4", 50)))
		cp, err := s.store.Find(s.ctx, "case-4")
		s.Require().NoError(err)
		s.Nil(cp)
	})
}

func (s *CheckpointServiceSuite) TestDueJob() {
	s.Require().NoError(s.service.HandleCasePeriod(s.ctx, s.period("case-due", 50)))

	s.Run("nothing is due before the checkpoint date", func() {
		s.Require().NoError(s.job.Run(s.ctx))
		found, err := s.candidates.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{"12345678901"})
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("due checkpoint creates exactly one candidate", func() {
		later := requestcontext.WithTime(context.Background(), time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC))
		s.Require().NoError(s.job.Run(later))
		s.Require().NoError(s.job.Run(later))

		found, err := s.candidates.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{"12345678901"})
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(candidatemodels.StatusCandidate, found[0].CurrentStatus())
		s.Nil(found[0].NotifiedAt)

		cp, err := s.store.Find(s.ctx, "case-due")
		s.Require().NoError(err)
		s.True(cp.IsProcessed())
		s.Equal(found[0].ID, *cp.CandidateID)
	})

	s.Run("replayed signal after processing changes nothing", func() {
		s.Require().NoError(s.service.HandleCasePeriod(s.ctx, s.period("case-due", 60)))
		cp, err := s.store.Find(s.ctx, "case-due")
		s.Require().NoError(err)
		s.True(cp.IsProcessed())
	})
}

type failingCreator struct{}

func (failingCreator) Create(context.Context, string, candidatemodels.Source, ...candidatemodels.Option) (*candidatemodels.Candidate, error) {
	return nil, errors.New("store down")
}

func (s *CheckpointServiceSuite) TestDueJobFailureLeavesCheckpointPending() {
	s.Require().NoError(s.service.HandleCasePeriod(s.ctx, s.period("case-x", 50)))
	job := NewDueJob(s.store, failingCreator{}, nil)

	later := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Error(job.Run(later))

	cp, err := s.store.Find(s.ctx, "case-x")
	s.Require().NoError(err)
	s.False(cp.IsProcessed())
}

// flakyMarks fails the first MarkProcessed call.
type flakyMarks struct {
	*store.InMemory
	failed bool
}

func (f *flakyMarks) MarkProcessed(ctx context.Context, caseReferenceID string, candidateID id.CandidateID, at time.Time) error {
	if !f.failed {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.InMemory.MarkProcessed(ctx, caseReferenceID, candidateID, at)
}

func (s *CheckpointServiceSuite) TestDueJobRetryAfterFailedMarkCreatesOneCandidate() {
	s.Require().NoError(s.service.HandleCasePeriod(s.ctx, s.period("case-m", 50)))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creator := candidateservice.New(s.candidates, nil, candidateservice.WithLogger(logger))
	job := NewDueJob(&flakyMarks{InMemory: s.store}, creator, tx.NoopRunner{}, WithJobLogger(logger))

	later := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Error(job.Run(later))
	cp, err := s.store.Find(s.ctx, "case-m")
	s.Require().NoError(err)
	s.False(cp.IsProcessed())

	s.Require().NoError(job.Run(later))

	found, err := s.candidates.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{"12345678901"})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(CandidateIDFor("case-m"), found[0].ID)

	cp, err = s.store.Find(s.ctx, "case-m")
	s.Require().NoError(err)
	s.True(cp.IsProcessed())
	s.Equal(found[0].ID, *cp.CandidateID)
}
