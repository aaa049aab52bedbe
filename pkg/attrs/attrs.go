// Package attrs holds shared slog attribute helpers.
package attrs

import (
	"log/slog"

	id "followup/pkg/domain"
)

// Person returns a log attribute with the identifier masked.
func Person(p id.PersonIdentifier) slog.Attr {
	return slog.String("person", p.Masked())
}

// Candidate returns a log attribute for a candidate id.
func Candidate(c id.CandidateID) slog.Attr {
	return slog.String("candidate_id", c.String())
}
