package models

import (
	"strings"
	"time"

	id "followup/pkg/domain"
	dErrors "followup/pkg/domain-errors"
)

// ErrAlreadyAssessed is returned when a status change is attempted on a
// candidate that has reached the terminal Assessed status. It is a business
// conflict, not a retry-able failure.
var ErrAlreadyAssessed = dErrors.New(dErrors.CodeConflict, "candidate is already assessed")

// Answer is the latest recorded answer. Later answers overwrite it; the
// status history keeps every answer event.
type Answer struct {
	AnsweredAt    time.Time
	WantsFollowUp id.WantsFollowUp
}

// Candidate is the aggregate root for one person's follow-up process.
//
// Invariants:
//   - PersonIdentifier is a validated 11 digit identifier
//   - ID and CreatedAt are immutable after construction
//   - StatusHistory is append-only and ordered by append time
//   - At most one StatusAssessed entry exists and it is the last entry
//   - Status transitions: Candidate → {Candidate, AnswerReceived}* → Assessed
//
// Version is the optimistic concurrency token. Stores compare it on every
// mutation and increment it on success.
type Candidate struct {
	ID                    id.CandidateID
	PersonIdentifier      id.PersonIdentifier
	CreatedAt             time.Time
	UpdatedAt             time.Time
	NotificationReference *string
	NotifiedAt            *time.Time
	Answer                *Answer
	StatusHistory         []StatusChange
	PublishedAt           *time.Time
	Version               int
}

// Option configures a new candidate.
type Option func(*Candidate)

// WithNotification links the candidate to the notification that triggered it.
func WithNotification(reference string, notifiedAt time.Time) Option {
	return func(c *Candidate) {
		ref := reference
		at := notifiedAt.UTC()
		c.NotificationReference = &ref
		c.NotifiedAt = &at
	}
}

// WithReference sets only the notification reference. Used when an answer
// arrives before the notification-sent signal.
func WithReference(reference string) Option {
	return func(c *Candidate) {
		ref := reference
		c.NotificationReference = &ref
	}
}

// WithID replaces the generated candidate id. Callers that must be able to
// retry a create derive the id from their own idempotency key.
func WithID(candidateID id.CandidateID) Option {
	return func(c *Candidate) {
		if !candidateID.IsNil() {
			c.ID = candidateID
		}
	}
}

// Create validates the identifier and builds a candidate in the initial status.
func Create(personIdentifier string, now time.Time, opts ...Option) (*Candidate, error) {
	person, err := id.ParsePersonIdentifier(personIdentifier)
	if err != nil {
		return nil, err
	}
	return NewCandidate(id.NewCandidateID(), person, now, opts...)
}

// NewCandidate builds a candidate from an already validated identifier.
func NewCandidate(candidateID id.CandidateID, person id.PersonIdentifier, now time.Time, opts ...Option) (*Candidate, error) {
	if candidateID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "candidate id cannot be nil")
	}
	if _, err := id.ParsePersonIdentifier(person.String()); err != nil {
		return nil, err
	}
	now = now.UTC()
	c := &Candidate{
		ID:               candidateID,
		PersonIdentifier: person,
		CreatedAt:        now,
		UpdatedAt:        now,
		StatusHistory:    []StatusChange{newCandidateStatus(now)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.NotificationReference != nil && strings.TrimSpace(*c.NotificationReference) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "notification reference cannot be blank")
	}
	return c, nil
}

// CurrentStatus is the kind of the latest status change, or StatusCandidate
// when the history is empty.
func (c *Candidate) CurrentStatus() StatusKind {
	if last := c.LastStatusChange(); last != nil {
		return last.Kind
	}
	return StatusCandidate
}

// LastStatusChange returns the latest status change, or nil.
func (c *Candidate) LastStatusChange() *StatusChange {
	if len(c.StatusHistory) == 0 {
		return nil
	}
	return &c.StatusHistory[len(c.StatusHistory)-1]
}

// IsAssessed reports whether the candidate reached the terminal status.
func (c *Candidate) IsAssessed() bool {
	return c.CurrentStatus().IsTerminal()
}

// IsPublished reports whether the top-level record was sent downstream.
func (c *Candidate) IsPublished() bool {
	return c.PublishedAt != nil
}

// GraceReference is the time the publishing grace period counts from: the
// notification time when known, creation time otherwise.
func (c *Candidate) GraceReference() time.Time {
	if c.NotifiedAt != nil {
		return *c.NotifiedAt
	}
	return c.CreatedAt
}

// ReadyToPublish reports whether an unpublished candidate may be sent. A
// candidate past its initial status always may; one still in it only when its
// grace reference is at or before readyBefore.
func (c *Candidate) ReadyToPublish(readyBefore time.Time) bool {
	if c.CurrentStatus() != StatusCandidate {
		return true
	}
	return !c.GraceReference().After(readyBefore)
}

// ChangeIDs lists the ids of the status history in order.
func (c *Candidate) ChangeIDs() []id.StatusChangeID {
	out := make([]id.StatusChangeID, len(c.StatusHistory))
	for i, change := range c.StatusHistory {
		out[i] = change.ID
	}
	return out
}

// Reference returns the notification reference or "".
func (c *Candidate) Reference() string {
	if c.NotificationReference == nil {
		return ""
	}
	return *c.NotificationReference
}

// IsAnswerReplay reports whether recording this answer would repeat history:
// an AnswerReceived change with the same answeredAt and wants already exists,
// or the answer is older than the current one. Ingestion uses it to drop
// redelivered records, including ones replayed out of a batch after a newer
// amendment was recorded.
func (c *Candidate) IsAnswerReplay(answeredAt time.Time, wants id.WantsFollowUp) bool {
	answeredAt = normalizeAnswerTime(answeredAt)
	for _, change := range c.StatusHistory {
		p := change.AnswerReceived
		if change.Kind == StatusAnswerReceived && p != nil &&
			p.AnsweredAt.Equal(answeredAt) && p.WantsFollowUp == wants {
			return true
		}
	}
	return c.Answer != nil && answeredAt.Before(c.Answer.AnsweredAt)
}

// CanAppend checks that the candidate accepts further status changes.
func (c *Candidate) CanAppend() error {
	if c.IsAssessed() {
		return ErrAlreadyAssessed
	}
	return nil
}

// RecordAnswer overwrites the answer and appends an AnswerReceived change.
// Allowed from any non-terminal status, including repeatedly.
func (c *Candidate) RecordAnswer(now, answeredAt time.Time, wants id.WantsFollowUp) (StatusChange, error) {
	if err := c.CanAppend(); err != nil {
		return StatusChange{}, err
	}
	if !wants.IsValid() {
		return StatusChange{}, dErrors.New(dErrors.CodeValidation, "wants follow-up must be YES or NO")
	}
	if answeredAt.IsZero() {
		return StatusChange{}, dErrors.New(dErrors.CodeValidation, "answered at is required")
	}
	answeredAt = normalizeAnswerTime(answeredAt)
	change := StatusChange{
		ID:        id.NewStatusChangeID(),
		Kind:      StatusAnswerReceived,
		CreatedAt: now.UTC(),
		AnswerReceived: &AnswerReceivedPayload{
			AnsweredAt:    answeredAt,
			WantsFollowUp: wants,
		},
	}
	c.Answer = &Answer{AnsweredAt: answeredAt, WantsFollowUp: wants}
	c.apply(change)
	return change, nil
}

// Assess appends the terminal Assessed change.
func (c *Candidate) Assess(now time.Time, caseworkerID string, rationale *string, archiveReference string) (StatusChange, error) {
	if err := c.CanAppend(); err != nil {
		return StatusChange{}, err
	}
	caseworkerID = strings.TrimSpace(caseworkerID)
	if caseworkerID == "" {
		return StatusChange{}, dErrors.New(dErrors.CodeValidation, "caseworker id is required")
	}
	now = now.UTC()
	payload := &AssessedPayload{
		AssessedAt:       now,
		CaseworkerID:     caseworkerID,
		ArchiveReference: archiveReference,
	}
	if rationale != nil {
		r := strings.TrimSpace(*rationale)
		if r != "" {
			payload.Rationale = &r
		}
	}
	change := StatusChange{
		ID:        id.NewStatusChangeID(),
		Kind:      StatusAssessed,
		CreatedAt: now,
		Assessed:  payload,
	}
	c.apply(change)
	return change, nil
}

// normalizeAnswerTime keeps answer times at the microsecond precision the
// database stores.
func normalizeAnswerTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (c *Candidate) apply(change StatusChange) {
	c.StatusHistory = append(c.StatusHistory, change)
	c.UpdatedAt = change.CreatedAt
}

// Clone returns a deep copy.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	out := *c
	if c.NotificationReference != nil {
		ref := *c.NotificationReference
		out.NotificationReference = &ref
	}
	if c.NotifiedAt != nil {
		t := *c.NotifiedAt
		out.NotifiedAt = &t
	}
	if c.Answer != nil {
		a := *c.Answer
		out.Answer = &a
	}
	if c.PublishedAt != nil {
		t := *c.PublishedAt
		out.PublishedAt = &t
	}
	out.StatusHistory = make([]StatusChange, len(c.StatusHistory))
	for i, s := range c.StatusHistory {
		out.StatusHistory[i] = s.clone()
	}
	return &out
}
