package store_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"followup/internal/checkpoint/models"
	"followup/internal/checkpoint/store"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
)

type checkpointStore interface {
	Upsert(ctx context.Context, cp *models.Checkpoint) error
	Cancel(ctx context.Context, caseReferenceID string) (bool, error)
	Find(ctx context.Context, caseReferenceID string) (*models.Checkpoint, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Checkpoint, error)
	MarkProcessed(ctx context.Context, caseReferenceID string, candidateID id.CandidateID, at time.Time) error
}

var (
	_ checkpointStore = (*store.InMemory)(nil)
	_ checkpointStore = (*store.PostgresStore)(nil)
)

type contractSuite struct {
	suite.Suite
	ctx   context.Context
	store checkpointStore
	// newStore builds a fresh store; processedCandidate returns a candidate id
	// the store may reference.
	newStore           func() checkpointStore
	processedCandidate func() id.CandidateID
	today              time.Time
}

func (s *contractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
	s.today = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
}

func (s *contractSuite) checkpoint(ref string, date time.Time) *models.Checkpoint {
	return &models.Checkpoint{
		CaseReferenceID:  ref,
		PersonIdentifier: "12345678901",
		CheckpointDate:   date,
		CreatedAt:        s.today,
		UpdatedAt:        s.today,
	}
}

func (s *contractSuite) TestUpsertIsReplaySafe() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", s.today)))
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", s.today)))

	later := s.today.AddDate(0, 0, 3)
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", later)))

	found, err := s.store.Find(s.ctx, "case-1")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(later, found.CheckpointDate)
	s.False(found.IsProcessed())
}

func (s *contractSuite) TestProcessedCheckpointIsFrozen() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", s.today)))
	candidateID := s.processedCandidate()
	s.Require().NoError(s.store.MarkProcessed(s.ctx, "case-1", candidateID, s.today.Add(time.Hour)))

	s.Run("second mark fails", func() {
		err := s.store.MarkProcessed(s.ctx, "case-1", candidateID, s.today.Add(2*time.Hour))
		s.ErrorIs(err, sentinel.ErrConcurrentModification)
	})

	s.Run("upsert does not rewrite", func() {
		s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", s.today.AddDate(0, 0, 9))))
		found, err := s.store.Find(s.ctx, "case-1")
		s.Require().NoError(err)
		s.Equal(s.today, found.CheckpointDate)
		s.Require().NotNil(found.CandidateID)
		s.Equal(candidateID, *found.CandidateID)
	})

	s.Run("cancel does not remove", func() {
		removed, err := s.store.Cancel(s.ctx, "case-1")
		s.Require().NoError(err)
		s.False(removed)
	})

	s.Run("not due any more", func() {
		due, err := s.store.FindDue(s.ctx, s.today.AddDate(0, 1, 0), 10)
		s.Require().NoError(err)
		s.Empty(due)
	})
}

func (s *contractSuite) TestFindDue() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-b", s.today)))
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-a", s.today.AddDate(0, 0, -1))))
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-c", s.today.AddDate(0, 0, 1))))

	due, err := s.store.FindDue(s.ctx, s.today.Add(23*time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal("case-a", due[0].CaseReferenceID)
	s.Equal("case-b", due[1].CaseReferenceID)

	limited, err := s.store.FindDue(s.ctx, s.today, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *contractSuite) TestCancel() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.checkpoint("case-1", s.today)))

	removed, err := s.store.Cancel(s.ctx, "case-1")
	s.Require().NoError(err)
	s.True(removed)

	found, err := s.store.Find(s.ctx, "case-1")
	s.Require().NoError(err)
	s.Nil(found)

	removed, err = s.store.Cancel(s.ctx, "case-1")
	s.Require().NoError(err)
	s.False(removed)
}
