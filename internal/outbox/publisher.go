// Package outbox publishes unpublished candidates and status changes to the
// outbound topic. Delivery is at-least-once: an item is marked published only
// after the send succeeded, and a failed mark means it is sent again.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"followup/internal/candidate/models"
	"followup/internal/candidate/store"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
	"followup/pkg/requestcontext"
)

const (
	// DefaultGracePeriod holds back a fresh candidate so a quick answer can be
	// published together with it.
	DefaultGracePeriod = 10 * 24 * time.Hour
	DefaultBatchSize   = 100
)

// Sender delivers one record. Implemented by the Kafka producer.
type Sender interface {
	Send(ctx context.Context, key string, value []byte) error
}

type Store interface {
	FindUnpublished(ctx context.Context, readyBefore time.Time, limit int) ([]*models.Candidate, error)
	FindUnpublishedStatusChanges(ctx context.Context, limit int) ([]store.UnpublishedChange, error)
	MarkPublished(ctx context.Context, candidateID id.CandidateID, changeIDs []id.StatusChangeID, at time.Time) error
	MarkStatusChangePublished(ctx context.Context, changeID id.StatusChangeID, at time.Time) error
}

// TickResult summarises one publishing pass. Skipped counts candidates a
// store returned that are still inside the grace period.
type TickResult struct {
	Published int
	Skipped   int
	Failed    int
}

type Publisher struct {
	store       Store
	sender      Sender
	batchSize   int
	gracePeriod time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Publisher)

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(p *Publisher) {
		if d >= 0 {
			p.gracePeriod = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(store Store, sender Sender, opts ...Option) *Publisher {
	p := &Publisher{
		store:       store,
		sender:      sender,
		batchSize:   DefaultBatchSize,
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run is the scheduler entry point.
func (p *Publisher) Run(ctx context.Context) error {
	_, err := p.Tick(ctx)
	return err
}

// Tick publishes one batch of unpublished candidates followed by one batch of
// unpublished status changes of already published candidates. Per-item
// failures are counted and logged; only store read failures abort the pass.
// Leadership is checked by the caller.
func (p *Publisher) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	defer p.metrics.ObserveOutboxTick(start)

	now := requestcontext.Now(ctx)
	var result TickResult

	readyBefore := now.Add(-p.gracePeriod)
	candidates, err := p.store.FindUnpublished(ctx, readyBefore, p.batchSize)
	if err != nil {
		return result, fmt.Errorf("find unpublished candidates: %w", err)
	}
	for _, c := range candidates {
		if !c.ReadyToPublish(readyBefore) {
			result.Skipped++
			p.metrics.IncOutboxSkipped()
			continue
		}
		// Only the changes in this message are marked; anything appended
		// while the send is in flight goes out as a status change.
		sent := c.ChangeIDs()
		if p.publish(ctx, c, candidateMessage(c), "candidate", func(at time.Time) error {
			return p.store.MarkPublished(ctx, c.ID, sent, at)
		}) {
			result.Published++
		} else {
			result.Failed++
		}
	}

	changes, err := p.store.FindUnpublishedStatusChanges(ctx, p.batchSize)
	if err != nil {
		return result, fmt.Errorf("find unpublished status changes: %w", err)
	}
	for _, u := range changes {
		changeID := u.Change.ID
		if p.publish(ctx, u.Candidate, changeMessage(u.Candidate, u.Change), "status_change", func(at time.Time) error {
			return p.store.MarkStatusChangePublished(ctx, changeID, at)
		}) {
			result.Published++
		} else {
			result.Failed++
		}
	}

	if result.Published > 0 || result.Failed > 0 {
		p.logger.InfoContext(ctx, "outbox pass finished",
			slog.Int("published", result.Published),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (p *Publisher) publish(ctx context.Context, c *models.Candidate, msg Message, item string, mark func(at time.Time) error) bool {
	value, err := encode(msg)
	if err != nil {
		p.metrics.IncOutboxFailure("encode")
		p.logger.ErrorContext(ctx, "failed to encode outbox message", attrs.Candidate(c.ID), "error", err)
		return false
	}
	if err := p.sender.Send(ctx, c.PersonIdentifier.Key(), value); err != nil {
		p.metrics.IncOutboxFailure("send")
		p.logger.ErrorContext(ctx, "failed to publish outbox item",
			attrs.Candidate(c.ID),
			slog.String("item", item),
			"error", err,
		)
		return false
	}
	if err := mark(requestcontext.Now(ctx)); err != nil {
		p.metrics.IncOutboxFailure("mark")
		p.logger.ErrorContext(ctx, "published item not marked, it will be sent again",
			attrs.Candidate(c.ID),
			slog.String("item", item),
			"error", err,
		)
		return false
	}
	p.metrics.IncOutboxPublished(item)
	return true
}
