// Package store persists checkpoints. Both implementations share one
// contract: a processed checkpoint is never rewritten or removed.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"followup/internal/checkpoint/models"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
)

type InMemory struct {
	mu          sync.RWMutex
	checkpoints map[string]*models.Checkpoint
}

func NewInMemory() *InMemory {
	return &InMemory{checkpoints: make(map[string]*models.Checkpoint)}
}

// Upsert stores cp keyed by its case reference. Replays and later updates of
// an unprocessed checkpoint replace its date; processed ones are left alone.
func (s *InMemory) Upsert(_ context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.checkpoints[cp.CaseReferenceID]
	if ok && existing.IsProcessed() {
		return nil
	}
	next := clone(cp)
	if ok {
		next.CreatedAt = existing.CreatedAt
	}
	s.checkpoints[cp.CaseReferenceID] = next
	return nil
}

// Cancel removes an unprocessed checkpoint. It reports whether one was removed.
func (s *InMemory) Cancel(_ context.Context, caseReferenceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.checkpoints[caseReferenceID]
	if !ok || existing.IsProcessed() {
		return false, nil
	}
	delete(s.checkpoints, caseReferenceID)
	return true, nil
}

func (s *InMemory) Find(_ context.Context, caseReferenceID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[caseReferenceID]
	if !ok {
		return nil, nil
	}
	return clone(cp), nil
}

// FindDue lists unprocessed checkpoints whose date is on or before now's date,
// earliest first.
func (s *InMemory) FindDue(_ context.Context, now time.Time, limit int) ([]*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.IsDue(now) {
			out = append(out, clone(cp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckpointDate.Equal(out[j].CheckpointDate) {
			return out[i].CheckpointDate.Before(out[j].CheckpointDate)
		}
		return out[i].CaseReferenceID < out[j].CaseReferenceID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkProcessed records the candidate created from the checkpoint. It fails
// with sentinel.ErrConcurrentModification unless exactly one unprocessed
// checkpoint matched.
func (s *InMemory) MarkProcessed(_ context.Context, caseReferenceID string, candidateID id.CandidateID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[caseReferenceID]
	if !ok || cp.IsProcessed() {
		return sentinel.ErrConcurrentModification
	}
	at = at.UTC()
	cid := candidateID
	cp.ProcessedAt = &at
	cp.CandidateID = &cid
	cp.UpdatedAt = at
	return nil
}

func clone(cp *models.Checkpoint) *models.Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	if cp.ProcessedAt != nil {
		t := *cp.ProcessedAt
		out.ProcessedAt = &t
	}
	if cp.CandidateID != nil {
		c := *cp.CandidateID
		out.CandidateID = &c
	}
	return &out
}
