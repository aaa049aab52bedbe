package domain

import dErrors "followup/pkg/domain-errors"

// WantsFollowUp records whether a person asked for follow-up.
// Invariant: the value is one of the constants below.
type WantsFollowUp string

const (
	WantsFollowUpYes WantsFollowUp = "YES"
	WantsFollowUpNo  WantsFollowUp = "NO"
)

// ParseWantsFollowUp constructs a WantsFollowUp from external input.
func ParseWantsFollowUp(s string) (WantsFollowUp, error) {
	switch WantsFollowUp(s) {
	case WantsFollowUpYes, WantsFollowUpNo:
		return WantsFollowUp(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "wants follow-up must be YES or NO")
	}
}

func (w WantsFollowUp) IsValid() bool {
	return w == WantsFollowUpYes || w == WantsFollowUpNo
}

func (w WantsFollowUp) String() string { return string(w) }
