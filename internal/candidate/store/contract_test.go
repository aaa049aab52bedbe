package store_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"followup/internal/candidate/models"
	"followup/internal/candidate/store"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
)

// candidateStore is the contract shared by the memory and Postgres stores.
type candidateStore interface {
	Create(ctx context.Context, c *models.Candidate) error
	AppendStatusChange(ctx context.Context, c *models.Candidate, change models.StatusChange) error
	FindByID(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error)
	FindByNotificationReference(ctx context.Context, reference string) (*models.Candidate, error)
	FindRecentByPerson(ctx context.Context, person id.PersonIdentifier, since time.Time) ([]*models.Candidate, error)
	FindByPersonIdentifiers(ctx context.Context, persons []id.PersonIdentifier) ([]*models.Candidate, error)
	FindUnpublished(ctx context.Context, readyBefore time.Time, limit int) ([]*models.Candidate, error)
	FindUnpublishedStatusChanges(ctx context.Context, limit int) ([]store.UnpublishedChange, error)
	MarkPublished(ctx context.Context, candidateID id.CandidateID, changeIDs []id.StatusChangeID, at time.Time) error
	MarkStatusChangePublished(ctx context.Context, changeID id.StatusChangeID, at time.Time) error
	RewritePersonIdentifier(ctx context.Context, candidateIDs []id.CandidateID, to id.PersonIdentifier) (int, error)
}

var (
	_ candidateStore = (*store.InMemory)(nil)
	_ candidateStore = (*store.PostgresStore)(nil)
)

// contractSuite runs the same behavioural checks against any candidateStore.
// Embedding suites provide newStore.
type contractSuite struct {
	suite.Suite
	ctx      context.Context
	store    candidateStore
	newStore func() candidateStore
	now      time.Time
}

func (s *contractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
	s.now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
}

func (s *contractSuite) create(person, reference string, createdAt time.Time) *models.Candidate {
	var opts []models.Option
	if reference != "" {
		opts = append(opts, models.WithNotification(reference, createdAt))
	}
	c, err := models.Create(person, createdAt, opts...)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, c))
	return c
}

func (s *contractSuite) TestCreateAndFind() {
	c := s.create("12345678901", "ref-"+s.T().Name(), s.now)

	s.Run("finds by id", func() {
		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.Equal(c.PersonIdentifier, found.PersonIdentifier)
		s.Equal(models.StatusCandidate, found.CurrentStatus())
		s.Len(found.StatusHistory, 1)
	})

	s.Run("finds by notification reference", func() {
		found, err := s.store.FindByNotificationReference(s.ctx, c.Reference())
		s.Require().NoError(err)
		s.Require().NotNil(found)
		s.Equal(c.ID, found.ID)
	})

	s.Run("absent is nil without error", func() {
		found, err := s.store.FindByID(s.ctx, id.NewCandidateID())
		s.Require().NoError(err)
		s.Nil(found)

		found, err = s.store.FindByNotificationReference(s.ctx, "missing")
		s.Require().NoError(err)
		s.Nil(found)
	})

	s.Run("duplicate reference is rejected", func() {
		dup, err := models.Create("10987654321", s.now, models.WithNotification(c.Reference(), s.now))
		s.Require().NoError(err)
		s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)
	})
}

func (s *contractSuite) TestAppendStatusChangeOptimistic() {
	c := s.create("12345678901", "", s.now)

	stale, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)

	change, err := c.RecordAnswer(s.now, s.now, id.WantsFollowUpYes)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendStatusChange(s.ctx, c, change))
	s.Equal(1, c.Version)

	s.Run("stale version fails with concurrent modification", func() {
		staleChange, err := stale.RecordAnswer(s.now, s.now, id.WantsFollowUpNo)
		s.Require().NoError(err)
		err = s.store.AppendStatusChange(s.ctx, stale, staleChange)
		s.ErrorIs(err, sentinel.ErrConcurrentModification)
	})

	s.Run("stored state reflects the winning write", func() {
		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAnswerReceived, found.CurrentStatus())
		s.Require().NotNil(found.Answer)
		s.Equal(id.WantsFollowUpYes, found.Answer.WantsFollowUp)
		s.Len(found.StatusHistory, 2)
		s.Equal(1, found.Version)
	})

	s.Run("assessment persists payload", func() {
		rationale := "met criteria"
		change, err := c.Assess(s.now, "Z123", &rationale, "journal-9")
		s.Require().NoError(err)
		s.Require().NoError(s.store.AppendStatusChange(s.ctx, c, change))

		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.True(found.IsAssessed())
		last := found.LastStatusChange()
		s.Require().NotNil(last.Assessed)
		s.Equal("Z123", last.Assessed.CaseworkerID)
		s.Equal("journal-9", last.Assessed.ArchiveReference)
		s.Equal("met criteria", *last.Assessed.Rationale)
	})
}

func (s *contractSuite) TestOutboxQueries() {
	old := s.create("12345678901", "ref-old-"+s.T().Name(), s.now.Add(-2*time.Hour))
	young := s.create("12345678902", "ref-young-"+s.T().Name(), s.now.Add(-time.Hour))

	s.Run("unpublished candidates oldest first", func() {
		found, err := s.store.FindUnpublished(s.ctx, s.now, 10)
		s.Require().NoError(err)
		s.Require().Len(found, 2)
		s.Equal(old.ID, found[0].ID)
		s.Equal(young.ID, found[1].ID)

		limited, err := s.store.FindUnpublished(s.ctx, s.now, 1)
		s.Require().NoError(err)
		s.Len(limited, 1)
	})

	s.Run("candidates inside the grace period are filtered before the limit", func() {
		found, err := s.store.FindUnpublished(s.ctx, s.now.Add(-90*time.Minute), 1)
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(old.ID, found[0].ID)

		found, err = s.store.FindUnpublished(s.ctx, s.now.Add(-3*time.Hour), 10)
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("changes of unpublished candidates are not listed separately", func() {
		changes, err := s.store.FindUnpublishedStatusChanges(s.ctx, 10)
		s.Require().NoError(err)
		s.Empty(changes)
	})

	s.Run("mark published covers the candidate history", func() {
		s.Require().NoError(s.store.MarkPublished(s.ctx, old.ID, old.ChangeIDs(), s.now))
		found, err := s.store.FindByID(s.ctx, old.ID)
		s.Require().NoError(err)
		s.True(found.IsPublished())
		s.True(found.StatusHistory[0].IsPublished())

		s.ErrorIs(s.store.MarkPublished(s.ctx, old.ID, old.ChangeIDs(), s.now.Add(time.Minute)), sentinel.ErrConcurrentModification)
		again, err := s.store.FindByID(s.ctx, old.ID)
		s.Require().NoError(err)
		s.True(again.PublishedAt.Equal(s.now), "published_at must never change")
	})

	s.Run("later changes of published candidates are listed", func() {
		current, err := s.store.FindByID(s.ctx, old.ID)
		s.Require().NoError(err)
		change, err := current.RecordAnswer(s.now, s.now, id.WantsFollowUpNo)
		s.Require().NoError(err)
		s.Require().NoError(s.store.AppendStatusChange(s.ctx, current, change))

		changes, err := s.store.FindUnpublishedStatusChanges(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(changes, 1)
		s.Equal(change.ID, changes[0].Change.ID)
		s.Equal(old.ID, changes[0].Candidate.ID)

		s.Require().NoError(s.store.MarkStatusChangePublished(s.ctx, change.ID, s.now))
		s.ErrorIs(s.store.MarkStatusChangePublished(s.ctx, change.ID, s.now), sentinel.ErrConcurrentModification)

		changes, err = s.store.FindUnpublishedStatusChanges(s.ctx, 10)
		s.Require().NoError(err)
		s.Empty(changes)
	})
}

func (s *contractSuite) TestMarkPublishedCoversOnlySentChanges() {
	c := s.create("12345678903", "ref-sent-"+s.T().Name(), s.now.Add(-time.Hour))
	change, err := c.RecordAnswer(s.now, s.now, id.WantsFollowUpYes)
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendStatusChange(s.ctx, c, change))

	snapshot, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	sent := snapshot.ChangeIDs()

	current, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	late, err := current.Assess(s.now, "Z123", nil, "journal-1")
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendStatusChange(s.ctx, current, late))

	s.Require().NoError(s.store.MarkPublished(s.ctx, c.ID, sent, s.now))

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(found.StatusHistory, 3)
	s.True(found.StatusHistory[0].IsPublished())
	s.True(found.StatusHistory[1].IsPublished())
	s.False(found.StatusHistory[2].IsPublished())

	changes, err := s.store.FindUnpublishedStatusChanges(s.ctx, 10)
	s.Require().NoError(err)
	var ids []id.StatusChangeID
	for _, u := range changes {
		ids = append(ids, u.Change.ID)
	}
	s.Contains(ids, late.ID)
	s.NotContains(ids, change.ID)
}

func (s *contractSuite) TestPersonQueriesAndRewrite() {
	a := s.create("11111111111", "", s.now.Add(-100*24*time.Hour))
	b := s.create("11111111111", "", s.now)
	other := s.create("22222222222", "", s.now)

	s.Run("recent by person honours the window", func() {
		found, err := s.store.FindRecentByPerson(s.ctx, "11111111111", s.now.Add(-90*24*time.Hour))
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(b.ID, found[0].ID)
	})

	s.Run("bulk rewrite moves every listed candidate", func() {
		n, err := s.store.RewritePersonIdentifier(s.ctx, []id.CandidateID{a.ID, b.ID}, "33333333333")
		s.Require().NoError(err)
		s.Equal(2, n)

		moved, err := s.store.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{"33333333333"})
		s.Require().NoError(err)
		s.Len(moved, 2)

		left, err := s.store.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{"11111111111"})
		s.Require().NoError(err)
		s.Empty(left)

		untouched, err := s.store.FindByID(s.ctx, other.ID)
		s.Require().NoError(err)
		s.Equal(id.PersonIdentifier("22222222222"), untouched.PersonIdentifier)
	})

	s.Run("rewrite with an unknown id changes nothing", func() {
		_, err := s.store.RewritePersonIdentifier(s.ctx, []id.CandidateID{other.ID, id.NewCandidateID()}, "44444444444")
		s.ErrorIs(err, sentinel.ErrConcurrentModification)
		found, err := s.store.FindByID(s.ctx, other.ID)
		s.Require().NoError(err)
		s.Equal(id.PersonIdentifier("22222222222"), found.PersonIdentifier)
	})
}
