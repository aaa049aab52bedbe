package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"followup/internal/candidate/models"
	checkpointmodels "followup/internal/checkpoint/models"
	"followup/internal/identity"
	"followup/internal/platform/kafka/consumer"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	dErrors "followup/pkg/domain-errors"
	"followup/pkg/platform/sentinel"
	"followup/pkg/platform/tx"
	"followup/pkg/requestcontext"
)

// duplicateWindow is how far back a candidate without notification reference
// is considered a possible duplicate of a new notification.
const duplicateWindow = 3

type CandidateFinder interface {
	FindByNotificationReference(ctx context.Context, reference string) (*models.Candidate, error)
	FindRecentByPerson(ctx context.Context, person id.PersonIdentifier, since time.Time) ([]*models.Candidate, error)
}

// Candidates is the subset of the candidate service the handlers drive.
type Candidates interface {
	Create(ctx context.Context, personIdentifier string, source models.Source, opts ...models.Option) (*models.Candidate, error)
	RecordAnswer(ctx context.Context, candidateID id.CandidateID, answeredAt time.Time, wants id.WantsFollowUp) (*models.Candidate, error)
}

type CasePeriodService interface {
	HandleCasePeriod(ctx context.Context, period checkpointmodels.SicknessCasePeriod) error
}

type IdentityReconciler interface {
	Reconcile(ctx context.Context, identifiers []identity.Identifier) (int, error)
}

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tx      tx.Runner
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTxRunner runs each answer in one transaction.
func WithTxRunner(r tx.Runner) Option {
	return func(o *options) {
		o.tx = r
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tx == nil {
		o.tx = tx.NoopRunner{}
	}
	return o
}

// skip logs a record that is committed without effect.
func (o options) skip(ctx context.Context, msg *consumer.Message, reason string, err error) {
	o.metrics.IncRecordDiscarded(reason)
	o.logger.WarnContext(ctx, "skipping record",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"reason", reason,
		"error", err,
	)
}

// NotificationSentHandler creates a candidate for every notification the
// first time its reference is seen.
type NotificationSentHandler struct {
	finder     CandidateFinder
	candidates Candidates
	options
}

func NewNotificationSentHandler(finder CandidateFinder, candidates Candidates, opts ...Option) *NotificationSentHandler {
	return &NotificationSentHandler{finder: finder, candidates: candidates, options: newOptions(opts)}
}

func (h *NotificationSentHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	n, err := parseNotificationSent(msg.Value)
	if err != nil {
		h.skip(ctx, msg, reasonMalformed, err)
		return nil
	}

	existing, err := h.finder.FindByNotificationReference(ctx, n.Reference)
	if err != nil {
		return fmt.Errorf("find candidate by reference: %w", err)
	}
	if existing != nil {
		h.metrics.IncRecordDiscarded(reasonDuplicate)
		h.logger.DebugContext(ctx, "notification already recorded",
			attrs.Candidate(existing.ID),
			slog.String("reference", n.Reference),
		)
		return nil
	}

	since := requestcontext.Now(ctx).AddDate(0, -duplicateWindow, 0)
	recent, err := h.finder.FindRecentByPerson(ctx, n.PersonIdentifier, since)
	if err != nil {
		return fmt.Errorf("find recent candidates: %w", err)
	}
	for _, c := range recent {
		if c.NotificationReference == nil {
			h.logger.WarnContext(ctx, "possible duplicate candidate for notified person",
				attrs.Candidate(c.ID),
				attrs.Person(n.PersonIdentifier),
				slog.String("reference", n.Reference),
			)
			break
		}
	}

	_, err = h.candidates.Create(ctx, n.PersonIdentifier.String(), models.SourceNotification,
		models.WithNotification(n.Reference, n.SentAt))
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		h.metrics.IncRecordDiscarded(reasonDuplicate)
		h.logger.DebugContext(ctx, "notification recorded concurrently", slog.String("reference", n.Reference))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create candidate: %w", err)
	}
	return nil
}

// AnswerReceivedHandler records answers, creating the candidate when the
// answer arrives before the notification-sent signal.
type AnswerReceivedHandler struct {
	finder     CandidateFinder
	candidates Candidates
	options
}

func NewAnswerReceivedHandler(finder CandidateFinder, candidates Candidates, opts ...Option) *AnswerReceivedHandler {
	return &AnswerReceivedHandler{finder: finder, candidates: candidates, options: newOptions(opts)}
}

func (h *AnswerReceivedHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	a, err := parseAnswerReceived(msg.Value)
	if err != nil {
		h.skip(ctx, msg, reasonMalformed, err)
		return nil
	}
	return h.tx.RunInTx(ctx, func(ctx context.Context) error {
		return h.record(ctx, msg, a)
	})
}

func (h *AnswerReceivedHandler) record(ctx context.Context, msg *consumer.Message, a AnswerReceived) error {
	c, err := h.finder.FindByNotificationReference(ctx, a.Reference)
	if err != nil {
		return fmt.Errorf("find candidate by reference: %w", err)
	}
	if c == nil {
		c, err = h.candidates.Create(ctx, a.PersonIdentifier.String(), models.SourceAnswer,
			models.WithReference(a.Reference))
		if err != nil {
			// A concurrent create of the same reference resolves on retry.
			return fmt.Errorf("create candidate for answer: %w", err)
		}
	}

	if c.IsAnswerReplay(a.AnsweredAt, a.WantsFollowUp) {
		h.metrics.IncRecordDiscarded(reasonReplay)
		h.logger.DebugContext(ctx, "answer already recorded", attrs.Candidate(c.ID))
		return nil
	}
	if c.IsAssessed() {
		h.skip(ctx, msg, reasonAssessed, models.ErrAlreadyAssessed)
		return nil
	}

	_, err = h.candidates.RecordAnswer(ctx, c.ID, a.AnsweredAt, a.WantsFollowUp)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "answer recorded",
			attrs.Candidate(c.ID),
			slog.String("wants_follow_up", a.WantsFollowUp.String()),
		)
		return nil
	case errors.Is(err, models.ErrAlreadyAssessed):
		h.skip(ctx, msg, reasonAssessed, err)
		return nil
	case dErrors.HasCode(err, dErrors.CodeValidation), dErrors.HasCode(err, dErrors.CodeInvalidInput):
		h.skip(ctx, msg, reasonMalformed, err)
		return nil
	default:
		return fmt.Errorf("record answer: %w", err)
	}
}

// CasePeriodHandler forwards case-duration signals to the checkpoint service.
type CasePeriodHandler struct {
	service CasePeriodService
	options
}

func NewCasePeriodHandler(service CasePeriodService, opts ...Option) *CasePeriodHandler {
	return &CasePeriodHandler{service: service, options: newOptions(opts)}
}

func (h *CasePeriodHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	period, err := parseCasePeriod(msg.Value)
	if err != nil {
		h.skip(ctx, msg, reasonMalformed, err)
		return nil
	}
	return h.service.HandleCasePeriod(ctx, period)
}

// IdentityChangeHandler forwards identity-change signals to the reconciler.
type IdentityChangeHandler struct {
	reconciler IdentityReconciler
	options
}

func NewIdentityChangeHandler(reconciler IdentityReconciler, opts ...Option) *IdentityChangeHandler {
	return &IdentityChangeHandler{reconciler: reconciler, options: newOptions(opts)}
}

func (h *IdentityChangeHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	identifiers, err := parseIdentityChange(msg.Value)
	if err != nil {
		h.skip(ctx, msg, reasonMalformed, err)
		return nil
	}
	_, err = h.reconciler.Reconcile(ctx, identifiers)
	return err
}
