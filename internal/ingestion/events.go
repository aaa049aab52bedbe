// Package ingestion turns inbound topic records into candidate, checkpoint
// and identity updates. Every handler is idempotent under redelivery.
package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"followup/internal/checkpoint/models"
	"followup/internal/identity"
	id "followup/pkg/domain"
)

// Answer codes that mark a request for follow-up.
const (
	QuestionFollowUpNeeded = "FOLLOW_UP_NEEDED"
	AnswerYes              = "YES"
)

// Discard reasons reported in metrics.
const (
	reasonMalformed = "malformed"
	reasonDuplicate = "duplicate"
	reasonReplay    = "replay"
	reasonAssessed  = "assessed"
)

var errMalformed = errors.New("malformed payload")

type notificationSentPayload struct {
	Reference        string `json:"reference"`
	PersonIdentifier string `json:"personIdentifier"`
	SentAt           string `json:"sentAt"`
}

// NotificationSent is a decoded notification-sent signal.
type NotificationSent struct {
	Reference        string
	PersonIdentifier id.PersonIdentifier
	SentAt           time.Time
}

func parseNotificationSent(raw []byte) (NotificationSent, error) {
	var p notificationSentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return NotificationSent{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	ref := strings.TrimSpace(p.Reference)
	if ref == "" {
		return NotificationSent{}, fmt.Errorf("%w: reference is required", errMalformed)
	}
	person, err := id.ParsePersonIdentifier(p.PersonIdentifier)
	if err != nil {
		return NotificationSent{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	sentAt, err := parseTimestamp(p.SentAt)
	if err != nil {
		return NotificationSent{}, fmt.Errorf("%w: sentAt: %v", errMalformed, err)
	}
	return NotificationSent{Reference: ref, PersonIdentifier: person, SentAt: sentAt}, nil
}

type answerReceivedPayload struct {
	Reference        string `json:"reference"`
	PersonIdentifier string `json:"personIdentifier"`
	AnsweredAt       string `json:"answeredAt"`
	Responses        []struct {
		QuestionCode string `json:"questionCode"`
		AnswerCode   string `json:"answerCode"`
	} `json:"responses"`
}

// AnswerReceived is a decoded answer-received signal.
type AnswerReceived struct {
	Reference        string
	PersonIdentifier id.PersonIdentifier
	AnsweredAt       time.Time
	WantsFollowUp    id.WantsFollowUp
}

func parseAnswerReceived(raw []byte) (AnswerReceived, error) {
	var p answerReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AnswerReceived{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	ref := strings.TrimSpace(p.Reference)
	if ref == "" {
		return AnswerReceived{}, fmt.Errorf("%w: reference is required", errMalformed)
	}
	person, err := id.ParsePersonIdentifier(p.PersonIdentifier)
	if err != nil {
		return AnswerReceived{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	answeredAt, err := parseTimestamp(p.AnsweredAt)
	if err != nil {
		return AnswerReceived{}, fmt.Errorf("%w: answeredAt: %v", errMalformed, err)
	}
	wants := id.WantsFollowUpNo
	for _, r := range p.Responses {
		if r.QuestionCode == QuestionFollowUpNeeded && r.AnswerCode == AnswerYes {
			wants = id.WantsFollowUpYes
			break
		}
	}
	return AnswerReceived{
		Reference:        ref,
		PersonIdentifier: person,
		AnsweredAt:       answeredAt,
		WantsFollowUp:    wants,
	}, nil
}

type casePeriodPayload struct {
	CaseID           string   `json:"caseId"`
	PersonIdentifier string   `json:"personIdentifier"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	DayCount         *int     `json:"dayCount"`
	IsDeceased       bool     `json:"isDeceased"`
	EmployerIDs      []string `json:"employerIds"`
}

func parseCasePeriod(raw []byte) (models.SicknessCasePeriod, error) {
	var p casePeriodPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	caseID := strings.TrimSpace(p.CaseID)
	if caseID == "" {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: caseId is required", errMalformed)
	}
	person, err := id.ParsePersonIdentifier(p.PersonIdentifier)
	if err != nil {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	start, err := parseTimestamp(p.Start)
	if err != nil {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: start: %v", errMalformed, err)
	}
	end, err := parseTimestamp(p.End)
	if err != nil {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: end: %v", errMalformed, err)
	}
	if end.Before(start) {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: end before start", errMalformed)
	}
	if p.DayCount != nil && *p.DayCount < 0 {
		return models.SicknessCasePeriod{}, fmt.Errorf("%w: negative dayCount", errMalformed)
	}
	return models.SicknessCasePeriod{
		CaseReferenceID:  caseID,
		PersonIdentifier: person,
		Start:            start,
		End:              end,
		DayCount:         p.DayCount,
		IsDeceased:       p.IsDeceased,
		EmployerIDs:      p.EmployerIDs,
	}, nil
}

type identityChangePayload struct {
	Identifiers []struct {
		Value    string `json:"value"`
		Type     string `json:"type"`
		IsActive bool   `json:"isActive"`
	} `json:"identifiers"`
}

func parseIdentityChange(raw []byte) ([]identity.Identifier, error) {
	var p identityChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	out := make([]identity.Identifier, 0, len(p.Identifiers))
	for _, ident := range p.Identifiers {
		out = append(out, identity.Identifier{Value: ident.Value, Type: ident.Type, IsActive: ident.IsActive})
	}
	return out, nil
}

// Producers emit RFC 3339 timestamps, zone-less local date-times or plain
// dates; zone-less values are read as UTC. Parsed values are truncated to
// microseconds, the precision Postgres stores, so a redelivered record
// compares equal to the stored one.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
