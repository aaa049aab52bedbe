package outbox

import (
	"encoding/json"
	"time"

	"followup/internal/candidate/models"
)

// Message is the record published for a candidate or one of its status
// changes.
type Message struct {
	CandidateID      string         `json:"candidateId"`
	PersonIdentifier string         `json:"personIdentifier"`
	CreatedAt        time.Time      `json:"createdAt"`
	Status           string         `json:"status"`
	LastStatusChange *StatusMessage `json:"lastStatusChange,omitempty"`
}

type StatusMessage struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	CreatedAt        time.Time  `json:"createdAt"`
	AnsweredAt       *time.Time `json:"answeredAt,omitempty"`
	WantsFollowUp    string     `json:"wantsFollowUp,omitempty"`
	AssessedAt       *time.Time `json:"assessedAt,omitempty"`
	CaseworkerID     string     `json:"caseworkerId,omitempty"`
	Rationale        *string    `json:"rationale,omitempty"`
	ArchiveReference string     `json:"archiveReference,omitempty"`
}

// candidateMessage describes the candidate as it currently stands.
func candidateMessage(c *models.Candidate) Message {
	msg := Message{
		CandidateID:      c.ID.String(),
		PersonIdentifier: c.PersonIdentifier.String(),
		CreatedAt:        c.CreatedAt.UTC(),
		Status:           c.CurrentStatus().String(),
	}
	if last := c.LastStatusChange(); last != nil && last.Kind != models.StatusCandidate {
		msg.LastStatusChange = statusMessage(*last)
	}
	return msg
}

// changeMessage describes the candidate at the point of change.
func changeMessage(c *models.Candidate, change models.StatusChange) Message {
	return Message{
		CandidateID:      c.ID.String(),
		PersonIdentifier: c.PersonIdentifier.String(),
		CreatedAt:        c.CreatedAt.UTC(),
		Status:           change.Kind.String(),
		LastStatusChange: statusMessage(change),
	}
}

func statusMessage(change models.StatusChange) *StatusMessage {
	out := &StatusMessage{
		ID:        change.ID.String(),
		Kind:      change.Kind.String(),
		CreatedAt: change.CreatedAt.UTC(),
	}
	if a := change.AnswerReceived; a != nil {
		at := a.AnsweredAt.UTC()
		out.AnsweredAt = &at
		out.WantsFollowUp = a.WantsFollowUp.String()
	}
	if a := change.Assessed; a != nil {
		at := a.AssessedAt.UTC()
		out.AssessedAt = &at
		out.CaseworkerID = a.CaseworkerID
		out.Rationale = a.Rationale
		out.ArchiveReference = a.ArchiveReference
	}
	return out
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
