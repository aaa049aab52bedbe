package models

import (
	"time"

	id "followup/pkg/domain"
)

// SicknessCasePeriod is the case-duration signal as read from the inbound
// topic. It is input only and never stored.
type SicknessCasePeriod struct {
	CaseReferenceID  string
	PersonIdentifier id.PersonIdentifier
	Start            time.Time
	End              time.Time
	DayCount         *int
	IsDeceased       bool
	EmployerIDs      []string
}

// Checkpoint is a scheduled point at which a candidate may be created for a
// case. One checkpoint exists per case reference.
type Checkpoint struct {
	CaseReferenceID  string
	PersonIdentifier id.PersonIdentifier
	CheckpointDate   time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ProcessedAt      *time.Time
	CandidateID      *id.CandidateID
}

// IsProcessed reports whether a candidate has already been created from the
// checkpoint.
func (c *Checkpoint) IsProcessed() bool {
	return c != nil && c.ProcessedAt != nil
}

// IsDue reports whether the checkpoint date has been reached on now's date.
func (c *Checkpoint) IsDue(now time.Time) bool {
	return !c.IsProcessed() && !c.CheckpointDate.After(dateOf(now))
}
