package handler

import (
	"time"

	"followup/internal/candidate/models"
)

type createRequest struct {
	PersonIdentifier string `json:"personIdentifier"`
}

type answerRequest struct {
	AnsweredAt    *time.Time `json:"answeredAt"`
	WantsFollowUp string     `json:"wantsFollowUp"`
}

type assessmentRequest struct {
	Rationale *string `json:"rationale"`
}

type statusChangeResponse struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
	AnsweredAt       *time.Time `json:"answeredAt,omitempty"`
	WantsFollowUp    string     `json:"wantsFollowUp,omitempty"`
	AssessedAt       *time.Time `json:"assessedAt,omitempty"`
	CaseworkerID     string     `json:"caseworkerId,omitempty"`
	Rationale        *string    `json:"rationale,omitempty"`
	ArchiveReference string     `json:"archiveReference,omitempty"`
}

type candidateResponse struct {
	ID                    string                 `json:"id"`
	PersonIdentifier      string                 `json:"personIdentifier"`
	Status                string                 `json:"status"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
	NotificationReference *string                `json:"notificationReference,omitempty"`
	NotifiedAt            *time.Time             `json:"notifiedAt,omitempty"`
	PublishedAt           *time.Time             `json:"publishedAt,omitempty"`
	StatusHistory         []statusChangeResponse `json:"statusHistory"`
}

func toResponse(c *models.Candidate) candidateResponse {
	resp := candidateResponse{
		ID:                    c.ID.String(),
		PersonIdentifier:      c.PersonIdentifier.String(),
		Status:                string(c.CurrentStatus()),
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
		NotificationReference: c.NotificationReference,
		NotifiedAt:            c.NotifiedAt,
		PublishedAt:           c.PublishedAt,
		StatusHistory:         make([]statusChangeResponse, 0, len(c.StatusHistory)),
	}
	for _, change := range c.StatusHistory {
		resp.StatusHistory = append(resp.StatusHistory, toChangeResponse(change))
	}
	return resp
}

func toChangeResponse(change models.StatusChange) statusChangeResponse {
	out := statusChangeResponse{
		ID:          change.ID.String(),
		Status:      string(change.Kind),
		CreatedAt:   change.CreatedAt,
		PublishedAt: change.PublishedAt,
	}
	switch change.Kind {
	case models.StatusCandidate:
	case models.StatusAnswerReceived:
		if p := change.AnswerReceived; p != nil {
			at := p.AnsweredAt
			out.AnsweredAt = &at
			out.WantsFollowUp = p.WantsFollowUp.String()
		}
	case models.StatusAssessed:
		if p := change.Assessed; p != nil {
			at := p.AssessedAt
			out.AssessedAt = &at
			out.CaseworkerID = p.CaseworkerID
			out.Rationale = p.Rationale
			out.ArchiveReference = p.ArchiveReference
		}
	}
	return out
}
