// Package store persists candidates and their status history.
//
// Every mutating call has an explicit postcondition: the guarded update must
// affect exactly one row (or, for bulk rewrites, exactly the expected number
// of rows). Any other outcome is reported as sentinel.ErrConcurrentModification
// and nothing is written. Lookups return nil, nil when nothing matches.
package store

import (
	"followup/internal/candidate/models"
)

// UnpublishedChange pairs a status change that has not been sent downstream
// with the candidate it belongs to.
type UnpublishedChange struct {
	Candidate *models.Candidate
	Change    models.StatusChange
}
