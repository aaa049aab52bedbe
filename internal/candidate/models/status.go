package models

import (
	"fmt"
	"time"

	id "followup/pkg/domain"
)

// StatusKind tags the variant of a StatusChange.
type StatusKind string

const (
	// StatusCandidate is the initial state. No payload.
	StatusCandidate StatusKind = "CANDIDATE"
	// StatusAnswerReceived records an answer. Re-entrant.
	StatusAnswerReceived StatusKind = "ANSWER_RECEIVED"
	// StatusAssessed records a caseworker assessment. Terminal.
	StatusAssessed StatusKind = "ASSESSED"
)

// ParseStatusKind converts a stored or transmitted value into a StatusKind.
func ParseStatusKind(s string) (StatusKind, error) {
	switch StatusKind(s) {
	case StatusCandidate, StatusAnswerReceived, StatusAssessed:
		return StatusKind(s), nil
	default:
		return "", fmt.Errorf("unknown status kind %q", s)
	}
}

// IsTerminal reports whether no further status change may follow.
func (k StatusKind) IsTerminal() bool {
	switch k {
	case StatusAssessed:
		return true
	case StatusCandidate, StatusAnswerReceived:
		return false
	default:
		return false
	}
}

func (k StatusKind) String() string { return string(k) }

// AnswerReceivedPayload is carried by StatusAnswerReceived.
type AnswerReceivedPayload struct {
	AnsweredAt    time.Time
	WantsFollowUp id.WantsFollowUp
}

// AssessedPayload is carried by StatusAssessed.
type AssessedPayload struct {
	AssessedAt   time.Time
	CaseworkerID string
	Rationale    *string
	// ArchiveReference is the id returned by document archival, or the
	// fallback reference when archival was skipped in degraded mode.
	ArchiveReference string
}

// StatusChange is one immutable entry in a candidate's status history.
//
// Invariants:
//   - Kind selects the variant; the matching payload pointer is set and the
//     other is nil (StatusCandidate carries none)
//   - PublishedAt, once set, is never cleared or changed
type StatusChange struct {
	ID             id.StatusChangeID
	Kind           StatusKind
	CreatedAt      time.Time
	PublishedAt    *time.Time
	AnswerReceived *AnswerReceivedPayload
	Assessed       *AssessedPayload
}

// Validate checks that the payload matches Kind.
func (s StatusChange) Validate() error {
	switch s.Kind {
	case StatusCandidate:
		if s.AnswerReceived != nil || s.Assessed != nil {
			return fmt.Errorf("status %s carries no payload", s.Kind)
		}
	case StatusAnswerReceived:
		if s.AnswerReceived == nil || s.Assessed != nil {
			return fmt.Errorf("status %s requires an answer payload only", s.Kind)
		}
	case StatusAssessed:
		if s.Assessed == nil || s.AnswerReceived != nil {
			return fmt.Errorf("status %s requires an assessment payload only", s.Kind)
		}
	default:
		return fmt.Errorf("unknown status kind %q", s.Kind)
	}
	return nil
}

// IsPublished reports whether the change has been sent downstream.
func (s StatusChange) IsPublished() bool {
	return s.PublishedAt != nil
}

func (s StatusChange) clone() StatusChange {
	out := s
	if s.PublishedAt != nil {
		t := *s.PublishedAt
		out.PublishedAt = &t
	}
	if s.AnswerReceived != nil {
		p := *s.AnswerReceived
		out.AnswerReceived = &p
	}
	if s.Assessed != nil {
		p := *s.Assessed
		if s.Assessed.Rationale != nil {
			r := *s.Assessed.Rationale
			p.Rationale = &r
		}
		out.Assessed = &p
	}
	return out
}

func newCandidateStatus(now time.Time) StatusChange {
	return StatusChange{
		ID:        id.NewStatusChangeID(),
		Kind:      StatusCandidate,
		CreatedAt: now,
	}
}
