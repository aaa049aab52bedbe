// Package domain holds primitive value types shared across the service.
//
// Identifiers are distinct named types so a CandidateID can never be passed
// where a StatusChangeID is expected. Construct them with the Parse functions
// at trust boundaries; direct conversion bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "followup/pkg/domain-errors"
)

// CandidateID identifies a follow-up candidate.
type CandidateID uuid.UUID

// StatusChangeID identifies one entry in a candidate's status history.
type StatusChangeID uuid.UUID

// NewCandidateID generates a random candidate id.
func NewCandidateID() CandidateID { return CandidateID(uuid.New()) }

// NewStatusChangeID generates a random status change id.
func NewStatusChangeID() StatusChangeID { return StatusChangeID(uuid.New()) }

func (id CandidateID) String() string    { return uuid.UUID(id).String() }
func (id CandidateID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id StatusChangeID) String() string { return uuid.UUID(id).String() }
func (id StatusChangeID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// ParseCandidateID parses and validates a candidate id.
func ParseCandidateID(s string) (CandidateID, error) {
	u, err := parseUUID(s, "candidate id")
	if err != nil {
		return CandidateID{}, err
	}
	return CandidateID(u), nil
}

// ParseStatusChangeID parses and validates a status change id.
func ParseStatusChangeID(s string) (StatusChangeID, error) {
	u, err := parseUUID(s, "status change id")
	if err != nil {
		return StatusChangeID{}, err
	}
	return StatusChangeID(u), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
