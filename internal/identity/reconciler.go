// Package identity keeps stored person identifiers current when the national
// registry supersedes an identity number.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"followup/internal/candidate/models"
	"followup/internal/platform/metrics"
	"followup/pkg/attrs"
	id "followup/pkg/domain"
)

// TypePersonIdentityNumber is the only identifier type that is reconciled.
const TypePersonIdentityNumber = "FOLKEREGISTERIDENT"

// Identifier is one entry of an identity-change signal.
type Identifier struct {
	Value    string
	Type     string
	IsActive bool
}

type Store interface {
	FindByPersonIdentifiers(ctx context.Context, persons []id.PersonIdentifier) ([]*models.Candidate, error)
	RewritePersonIdentifier(ctx context.Context, candidateIDs []id.CandidateID, to id.PersonIdentifier) (int, error)
}

// Reconciler rewrites superseded identifiers to the active one.
type Reconciler struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Reconcile applies one identity-change signal and returns the number of
// candidates rewritten. Signals without exactly one active identity number,
// or with nothing to supersede, are a no-op. A replay finds no candidates
// under the inactive values and rewrites nothing.
func (r *Reconciler) Reconcile(ctx context.Context, identifiers []Identifier) (int, error) {
	active, inactive := r.partition(ctx, identifiers)
	if active == "" || len(inactive) == 0 {
		return 0, nil
	}

	found, err := r.store.FindByPersonIdentifiers(ctx, inactive)
	if err != nil {
		return 0, fmt.Errorf("find candidates by superseded identifiers: %w", err)
	}
	if len(found) == 0 {
		return 0, nil
	}

	candidateIDs := make([]id.CandidateID, 0, len(found))
	for _, c := range found {
		if c.PersonIdentifier == active {
			continue
		}
		candidateIDs = append(candidateIDs, c.ID)
	}
	if len(candidateIDs) == 0 {
		return 0, nil
	}

	n, err := r.store.RewritePersonIdentifier(ctx, candidateIDs, active)
	if err != nil {
		return 0, fmt.Errorf("rewrite person identifier: %w", err)
	}
	r.metrics.AddIdentifiersRewritten(n)
	r.logger.InfoContext(ctx, "person identifier rewritten",
		attrs.Person(active),
		slog.Int("candidates", n),
	)
	return n, nil
}

// partition filters the signal to valid identity numbers. It returns an empty
// active value unless there is more than one identity number and exactly one
// of them is active.
func (r *Reconciler) partition(ctx context.Context, identifiers []Identifier) (id.PersonIdentifier, []id.PersonIdentifier) {
	var (
		actives  []id.PersonIdentifier
		inactive []id.PersonIdentifier
		seen     = make(map[id.PersonIdentifier]struct{}, len(identifiers))
	)
	for _, ident := range identifiers {
		if strings.ToUpper(strings.TrimSpace(ident.Type)) != TypePersonIdentityNumber {
			continue
		}
		person, err := id.ParsePersonIdentifier(ident.Value)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping invalid identifier in identity change", "error", err)
			continue
		}
		if _, dup := seen[person]; dup {
			continue
		}
		seen[person] = struct{}{}
		if ident.IsActive {
			actives = append(actives, person)
		} else {
			inactive = append(inactive, person)
		}
	}
	if len(actives)+len(inactive) <= 1 || len(actives) != 1 {
		return "", nil
	}
	return actives[0], inactive
}
