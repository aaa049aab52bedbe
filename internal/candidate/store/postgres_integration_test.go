//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"followup/internal/candidate/models"
	"followup/internal/candidate/store"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
	"followup/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	contractSuite
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := new(PostgresStoreSuite)
	s.newStore = func() candidateStore { return store.NewPostgres(s.postgres.DB) }
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(store.Migrate(context.Background(), s.postgres.DB))
}

func (s *PostgresStoreSuite) SetupTest() {
	// Truncate in dependency order
	err := s.postgres.TruncateTables(context.Background(), "checkpoint", "candidate_status_change", "candidate")
	s.Require().NoError(err)
	s.contractSuite.SetupTest()
}

// TestConcurrentAnswers verifies that concurrent appends against the same
// version result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentAnswers() {
	c := s.create("12345678901", "ref-concurrent", s.now)
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local, err := s.store.FindByID(s.ctx, c.ID)
			if err != nil || local == nil {
				return
			}
			local.Version = 0
			change, err := local.RecordAnswer(s.now, s.now, id.WantsFollowUpYes)
			if err != nil {
				return
			}
			err = s.store.AppendStatusChange(s.ctx, local, change)
			if err == nil {
				successCount.Add(1)
			} else if s.ErrorIs(err, sentinel.ErrConcurrentModification) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one append should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load())

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Len(found.StatusHistory, 2)
	s.Equal(models.StatusAnswerReceived, found.CurrentStatus())
}
