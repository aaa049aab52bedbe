package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"followup/internal/candidate/models"
	id "followup/pkg/domain"
	"followup/pkg/platform/sentinel"
	"followup/pkg/requestcontext"
)

// InMemory is a process-local store with the same contract as PostgresStore.
// Values are deep-copied on the way in and out.
type InMemory struct {
	mu          sync.RWMutex
	candidates  map[id.CandidateID]*models.Candidate
	byReference map[string]id.CandidateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		candidates:  make(map[id.CandidateID]*models.Candidate),
		byReference: make(map[string]id.CandidateID),
	}
}

func (s *InMemory) Create(_ context.Context, c *models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[c.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if ref := c.Reference(); ref != "" {
		if _, ok := s.byReference[ref]; ok {
			return sentinel.ErrAlreadyUsed
		}
		s.byReference[ref] = c.ID
	}
	s.candidates[c.ID] = c.Clone()
	return nil
}

func (s *InMemory) AppendStatusChange(_ context.Context, c *models.Candidate, change models.StatusChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.candidates[c.ID]
	if !ok || stored.Version != c.Version || stored.IsAssessed() {
		return sentinel.ErrConcurrentModification
	}

	next := stored.Clone()
	if c.Answer != nil {
		a := *c.Answer
		next.Answer = &a
	}
	next.UpdatedAt = c.UpdatedAt
	next.StatusHistory = append(next.StatusHistory, models.StatusChange{
		ID:             change.ID,
		Kind:           change.Kind,
		CreatedAt:      change.CreatedAt,
		AnswerReceived: change.AnswerReceived,
		Assessed:       change.Assessed,
	})
	next.Version++
	s.candidates[c.ID] = next.Clone()
	c.Version = next.Version
	return nil
}

func (s *InMemory) FindByID(_ context.Context, candidateID id.CandidateID) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candidates[candidateID].Clone(), nil
}

func (s *InMemory) FindByNotificationReference(_ context.Context, reference string) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidateID, ok := s.byReference[reference]
	if !ok {
		return nil, nil
	}
	return s.candidates[candidateID].Clone(), nil
}

func (s *InMemory) FindRecentByPerson(_ context.Context, person id.PersonIdentifier, since time.Time) ([]*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Candidate
	for _, c := range s.candidates {
		if c.PersonIdentifier == person && !c.CreatedAt.Before(since) {
			out = append(out, c.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemory) FindByPersonIdentifiers(_ context.Context, persons []id.PersonIdentifier) ([]*models.Candidate, error) {
	want := make(map[id.PersonIdentifier]struct{}, len(persons))
	for _, p := range persons {
		want[p] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Candidate
	for _, c := range s.candidates {
		if _, ok := want[c.PersonIdentifier]; ok {
			out = append(out, c.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemory) FindUnpublished(_ context.Context, readyBefore time.Time, limit int) ([]*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Candidate
	for _, c := range s.candidates {
		if !c.IsPublished() && c.ReadyToPublish(readyBefore) {
			out = append(out, c.Clone())
		}
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) FindUnpublishedStatusChanges(_ context.Context, limit int) ([]UnpublishedChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UnpublishedChange
	for _, c := range s.candidates {
		if !c.IsPublished() {
			continue
		}
		for _, change := range c.StatusHistory {
			if !change.IsPublished() {
				cp := c.Clone()
				out = append(out, UnpublishedChange{Candidate: cp, Change: findChange(cp, change.ID)})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Change.CreatedAt.Before(out[j].Change.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, candidateID id.CandidateID, changeIDs []id.StatusChangeID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok || c.IsPublished() {
		return sentinel.ErrConcurrentModification
	}
	sent := make(map[id.StatusChangeID]struct{}, len(changeIDs))
	for _, changeID := range changeIDs {
		sent[changeID] = struct{}{}
	}
	at = at.UTC()
	c.PublishedAt = &at
	for i := range c.StatusHistory {
		if _, ok := sent[c.StatusHistory[i].ID]; ok && c.StatusHistory[i].PublishedAt == nil {
			t := at
			c.StatusHistory[i].PublishedAt = &t
		}
	}
	return nil
}

func (s *InMemory) MarkStatusChangePublished(_ context.Context, changeID id.StatusChangeID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.candidates {
		for i := range c.StatusHistory {
			if c.StatusHistory[i].ID != changeID {
				continue
			}
			if c.StatusHistory[i].PublishedAt != nil {
				return sentinel.ErrConcurrentModification
			}
			t := at.UTC()
			c.StatusHistory[i].PublishedAt = &t
			return nil
		}
	}
	return sentinel.ErrConcurrentModification
}

func (s *InMemory) RewritePersonIdentifier(ctx context.Context, candidateIDs []id.CandidateID, to id.PersonIdentifier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cid := range candidateIDs {
		if _, ok := s.candidates[cid]; !ok {
			return 0, sentinel.ErrConcurrentModification
		}
	}
	now := requestcontext.Now(ctx).UTC()
	for _, cid := range candidateIDs {
		c := s.candidates[cid]
		c.PersonIdentifier = to
		c.UpdatedAt = now
		c.Version++
	}
	return len(candidateIDs), nil
}

func findChange(c *models.Candidate, changeID id.StatusChangeID) models.StatusChange {
	for _, change := range c.StatusHistory {
		if change.ID == changeID {
			return change
		}
	}
	return models.StatusChange{}
}

func sortByCreated(cs []*models.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}
