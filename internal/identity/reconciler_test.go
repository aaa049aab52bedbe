package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"followup/internal/candidate/models"
	"followup/internal/candidate/store"
	id "followup/pkg/domain"
	"followup/pkg/testutil"
)

const (
	oldIdent   = "01017012345"
	otherIdent = "01017054321"
	newIdent   = "41017012345"
)

type ReconcilerSuite struct {
	suite.Suite
	ctx        context.Context
	store      *store.InMemory
	reconciler *Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.reconciler = New(s.store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *ReconcilerSuite) seed(person string) *models.Candidate {
	c, err := models.Create(person, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, c))
	return c
}

func (s *ReconcilerSuite) personOf(c *models.Candidate) id.PersonIdentifier {
	got, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	return got.PersonIdentifier
}

func (s *ReconcilerSuite) TestRewritesSupersededIdentifiers() {
	var first, second, untouched *models.Candidate
	signal := []Identifier{
		{Value: newIdent, Type: TypePersonIdentityNumber, IsActive: true},
		{Value: oldIdent, Type: TypePersonIdentityNumber},
		{Value: otherIdent, Type: "folkeregisterident"},
	}

	testutil.Given(s.T(), "candidates under two superseded identifiers", func(t *testing.T) {
		first = s.seed(oldIdent)
		second = s.seed(otherIdent)
		untouched = s.seed("12345678901")
	})

	testutil.When(s.T(), "the identity change is reconciled", func(t *testing.T) {
		n, err := s.reconciler.Reconcile(s.ctx, signal)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	testutil.And(s.T(), "the same signal is replayed", func(t *testing.T) {
		n, err := s.reconciler.Reconcile(s.ctx, signal)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	testutil.Then(s.T(), "both candidates carry the active identifier", func(t *testing.T) {
		assert.Equal(t, id.PersonIdentifier(newIdent), s.personOf(first))
		assert.Equal(t, id.PersonIdentifier(newIdent), s.personOf(second))
		assert.Equal(t, id.PersonIdentifier("12345678901"), s.personOf(untouched))
	})
}

func (s *ReconcilerSuite) TestIgnoredSignals() {
	c := s.seed(oldIdent)

	cases := map[string][]Identifier{
		"single identifier": {
			{Value: newIdent, Type: TypePersonIdentityNumber, IsActive: true},
		},
		"no active identifier": {
			{Value: newIdent, Type: TypePersonIdentityNumber},
			{Value: oldIdent, Type: TypePersonIdentityNumber},
		},
		"two active identifiers": {
			{Value: newIdent, Type: TypePersonIdentityNumber, IsActive: true},
			{Value: otherIdent, Type: TypePersonIdentityNumber, IsActive: true},
			{Value: oldIdent, Type: TypePersonIdentityNumber},
		},
		"other identifier types": {
			{Value: newIdent, Type: "NPID", IsActive: true},
			{Value: oldIdent, Type: "AKTORID"},
		},
		"invalid superseded value": {
			{Value: newIdent, Type: TypePersonIdentityNumber, IsActive: true},
			{Value: "not-a-number", Type: TypePersonIdentityNumber},
		},
	}
	for name, signal := range cases {
		s.Run(name, func() {
			n, err := s.reconciler.Reconcile(s.ctx, signal)
			s.Require().NoError(err)
			s.Zero(n)
			s.Equal(id.PersonIdentifier(oldIdent), s.personOf(c))
		})
	}
}

func (s *ReconcilerSuite) TestNoCandidatesIsNoop() {
	n, err := s.reconciler.Reconcile(s.ctx, []Identifier{
		{Value: newIdent, Type: TypePersonIdentityNumber, IsActive: true},
		{Value: oldIdent, Type: TypePersonIdentityNumber},
	})
	s.Require().NoError(err)
	s.Zero(n)
}
