package store_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"followup/internal/checkpoint/store"
	id "followup/pkg/domain"
)

func TestInMemoryStoreSuite(t *testing.T) {
	s := &contractSuite{
		newStore:           func() checkpointStore { return store.NewInMemory() },
		processedCandidate: id.NewCandidateID,
	}
	suite.Run(t, s)
}
