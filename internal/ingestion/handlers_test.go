package ingestion

//go:generate mockgen -source=handlers.go -destination=mocks/mocks.go -package=mocks Candidates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"followup/internal/candidate/models"
	candidateservice "followup/internal/candidate/service"
	"followup/internal/candidate/store"
	checkpointservice "followup/internal/checkpoint/service"
	checkpointmodels "followup/internal/checkpoint/models"
	checkpointstore "followup/internal/checkpoint/store"
	"followup/internal/identity"
	"followup/internal/ingestion/mocks"
	"followup/internal/platform/kafka/consumer"
	id "followup/pkg/domain"
	"followup/pkg/requestcontext"
)

const person = "12345678901"

type HandlersSuite struct {
	suite.Suite
	ctx        context.Context
	logger     *slog.Logger
	store      *store.InMemory
	candidates *candidateservice.Service
	router     *Router
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemory()
	s.candidates = candidateservice.New(s.store, nil, candidateservice.WithLogger(s.logger))

	checkpoints := checkpointservice.New(checkpointstore.NewInMemory(), checkpointmodels.AllUnits{})
	s.router = NewRouter(s.logger).
		Register("notification-sent", NewNotificationSentHandler(s.store, s.candidates, WithLogger(s.logger))).
		Register("answer-received", NewAnswerReceivedHandler(s.store, s.candidates, WithLogger(s.logger))).
		Register("case-period", NewCasePeriodHandler(checkpoints, WithLogger(s.logger))).
		Register("identity-change", NewIdentityChangeHandler(identity.New(s.store), WithLogger(s.logger)))
}

func (s *HandlersSuite) deliver(topic, value string) error {
	return s.router.Handle(s.ctx, &consumer.Message{Topic: topic, Value: []byte(value)})
}

func (s *HandlersSuite) candidatesFor(p string) []*models.Candidate {
	found, err := s.store.FindByPersonIdentifiers(s.ctx, []id.PersonIdentifier{id.PersonIdentifier(p)})
	s.Require().NoError(err)
	return found
}

func notification(ref string) string {
	return fmt.Sprintf(`{"reference":%q,"personIdentifier":%q,"sentAt":"2026-03-01T09:00:00Z"}`, ref, person)
}

func answer(ref, answeredAt, code string) string {
	return fmt.Sprintf(`{"reference":%q,"personIdentifier":%q,"answeredAt":%q,
		"responses":[{"questionCode":"FOLLOW_UP_NEEDED","answerCode":%q}]}`, ref, person, answeredAt, code)
}

func (s *HandlersSuite) TestNotificationSent() {
	s.Run("redelivery creates a single candidate", func() {
		s.Require().NoError(s.deliver("notification-sent", notification("ref-1")))
		s.Require().NoError(s.deliver("notification-sent", notification("ref-1")))

		found := s.candidatesFor(person)
		s.Require().Len(found, 1)
		s.Equal("ref-1", found[0].Reference())
		s.Require().NotNil(found[0].NotifiedAt)
		s.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), *found[0].NotifiedAt)
	})

	s.Run("recent candidate without reference does not block creation", func() {
		_, err := s.candidates.Create(s.ctx, "10987654321", models.SourceCheckpoint)
		s.Require().NoError(err)

		msg := `{"reference":"ref-2","personIdentifier":"10987654321","sentAt":"2026-03-01"}`
		s.Require().NoError(s.deliver("notification-sent", msg))
		s.Len(s.candidatesFor("10987654321"), 2)
	})

	s.Run("malformed payloads are committed without effect", func() {
		s.NoError(s.deliver("notification-sent", `{not json`))
		s.NoError(s.deliver("notification-sent", `{"reference":"ref-3","personIdentifier":"abc","sentAt":"2026-03-01"}`))
		found, err := s.store.FindByNotificationReference(s.ctx, "ref-3")
		s.Require().NoError(err)
		s.Nil(found)
	})
}

func (s *HandlersSuite) TestAnswerReceived() {
	s.Run("answer before notification creates the candidate with its reference", func() {
		s.Require().NoError(s.deliver("answer-received", answer("ref-a", "2026-03-05T10:00:00Z", "YES")))

		c, err := s.store.FindByNotificationReference(s.ctx, "ref-a")
		s.Require().NoError(err)
		s.Require().NotNil(c)
		s.Nil(c.NotifiedAt)
		s.Equal(models.StatusAnswerReceived, c.CurrentStatus())
		s.Equal(id.WantsFollowUpYes, c.Answer.WantsFollowUp)

		s.Require().NoError(s.deliver("notification-sent", notification("ref-a")))
		s.Len(s.candidatesFor(person), 1)
	})

	s.Run("identical replay appends nothing", func() {
		s.Require().NoError(s.deliver("answer-received", answer("ref-b", "2026-03-05T10:00:00Z", "NO")))
		s.Require().NoError(s.deliver("answer-received", answer("ref-b", "2026-03-05T10:00:00Z", "NO")))

		c, err := s.store.FindByNotificationReference(s.ctx, "ref-b")
		s.Require().NoError(err)
		s.Len(c.StatusHistory, 2)
	})

	s.Run("a changed answer is recorded", func() {
		s.Require().NoError(s.deliver("answer-received", answer("ref-b", "2026-03-06T10:00:00Z", "YES")))

		c, err := s.store.FindByNotificationReference(s.ctx, "ref-b")
		s.Require().NoError(err)
		s.Len(c.StatusHistory, 3)
		s.Equal(id.WantsFollowUpYes, c.Answer.WantsFollowUp)
	})

	s.Run("answer for an assessed candidate is dropped", func() {
		s.Require().NoError(s.deliver("notification-sent", notification("ref-c")))
		c, err := s.store.FindByNotificationReference(s.ctx, "ref-c")
		s.Require().NoError(err)
		change, err := c.Assess(time.Now(), "Z999999", nil, "doc-1")
		s.Require().NoError(err)
		s.Require().NoError(s.store.AppendStatusChange(s.ctx, c, change))

		s.Require().NoError(s.deliver("answer-received", answer("ref-c", "2026-03-07T10:00:00Z", "YES")))

		c, err = s.store.FindByNotificationReference(s.ctx, "ref-c")
		s.Require().NoError(err)
		s.Equal(models.StatusAssessed, c.CurrentStatus())
		s.Nil(c.Answer)
	})
}

func (s *HandlersSuite) TestRedeliveredBatchWithAmendedAnswer() {
	batch := []string{
		answer("ref-m", "2026-03-05T10:00:00.123456789Z", "NO"),
		answer("ref-m", "2026-03-06T10:00:00.987654321Z", "YES"),
	}
	for _, msg := range batch {
		s.Require().NoError(s.deliver("answer-received", msg))
	}
	c, err := s.store.FindByNotificationReference(s.ctx, "ref-m")
	s.Require().NoError(err)
	s.Require().Len(c.StatusHistory, 3)

	for _, msg := range batch {
		s.Require().NoError(s.deliver("answer-received", msg))
	}
	c, err = s.store.FindByNotificationReference(s.ctx, "ref-m")
	s.Require().NoError(err)
	s.Len(c.StatusHistory, 3, "redelivery reproduces the stored state")
	s.Equal(id.WantsFollowUpYes, c.Answer.WantsFollowUp)
}

func (s *HandlersSuite) TestAnswerReceivedRetriesStoreFailures() {
	ctrl := gomock.NewController(s.T())
	candidates := mocks.NewMockCandidates(ctrl)
	h := NewAnswerReceivedHandler(s.store, candidates, WithLogger(s.logger))

	c, err := s.candidates.Create(s.ctx, person, models.SourceNotification, models.WithReference("ref-r"))
	s.Require().NoError(err)

	failure := errors.New("connection reset")
	candidates.EXPECT().
		RecordAnswer(gomock.Any(), c.ID, gomock.Any(), id.WantsFollowUpYes).
		Return(nil, failure)

	err = h.Handle(s.ctx, &consumer.Message{Value: []byte(answer("ref-r", "2026-03-05T10:00:00Z", "YES"))})
	s.ErrorIs(err, failure)
}

func (s *HandlersSuite) TestCasePeriodAndIdentityChange() {
	s.NoError(s.deliver("case-period", `{"caseId":"c-1","personIdentifier":"12345678901",
		"start":"2026-01-01","end":"2026-02-20","isDeceased":false,"employerIds":["1"]}`))
	s.NoError(s.deliver("case-period", `{"caseId":""}`))

	s.Require().NoError(s.deliver("notification-sent", notification("ref-i")))
	signal := `{"identifiers":[
		{"value":"41345678901","type":"FOLKEREGISTERIDENT","isActive":true},
		{"value":"12345678901","type":"FOLKEREGISTERIDENT","isActive":false}]}`
	s.Require().NoError(s.deliver("identity-change", signal))
	s.Require().NoError(s.deliver("identity-change", signal))

	s.Empty(s.candidatesFor(person))
	s.Len(s.candidatesFor("41345678901"), 1)
}

func (s *HandlersSuite) TestUnknownTopicIsSkipped() {
	s.NoError(s.deliver("unknown", `{}`))
}
